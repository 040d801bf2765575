package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"stride/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey           string
	BaseURL             string // defaults to stripeAPIBase
	AllowPromotionCodes bool
	Logger              *slog.Logger
}

// StripeClient implements CheckoutService with direct calls to the Stripe
// REST API through BaseClient, so every request shares the breaker, retry
// and error mapping behaviour.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	promos    bool
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. The httpClient carries the overall
// per-attempt timeout.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"Stride/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient around a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		promos:    cfg.AllowPromotionCodes,
		logger:    logger,
	}
}

// CreateCheckoutSession creates a Stripe Checkout Session for the plan.
//
// Subscription plans collect a payment method up front and carry the user id
// on the subscription metadata, which is what identifies the account when
// the subscription is later deleted. Payment plans carry the purchase type
// in session metadata so the completion event can credit the right counter.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	params := checkoutParams(req, s.promos)

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", req.UserID,
		"plan", req.Plan.Name,
		"session_id", session.ID,
	)

	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func checkoutParams(req types.CheckoutRequest, allowPromos bool) url.Values {
	params := url.Values{}
	params.Set("mode", string(req.Plan.Mode))
	params.Set("line_items[0][price]", req.Plan.PriceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("client_reference_id", req.UserID)
	params.Set("metadata[user_id]", req.UserID)
	if allowPromos {
		params.Set("allow_promotion_codes", "true")
	}

	switch req.Plan.Mode {
	case types.CheckoutModeSubscription:
		params.Set("payment_method_collection", "always")
		params.Set("subscription_data[metadata][user_id]", req.UserID)
		if req.Plan.TrialDays > 0 {
			params.Set("subscription_data[trial_period_days]", strconv.Itoa(req.Plan.TrialDays))
		}
	case types.CheckoutModePayment:
		params.Set("metadata[type]", string(req.Plan.PurchaseType))
	}
	return params
}

// doPost performs an authenticated, idempotent POST with a form-encoded
// body. The idempotency key is generated once so BaseClient retries replay
// the same request.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError classifies a 4xx error body. BaseClient has already
// exhausted retries on 429 and 5xx and mapped those itself.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case stripeErr.Type == "invalid_request_error" && stripeErr.Param != "":
		// A rejected parameter is almost always a misconfigured price id.
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe rejected parameter %s: %s", operation, stripeErr.Param, stripeErr.Message),
			nil,
			map[string]any{"param": stripeErr.Param},
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything else.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeVerifier implements WebhookVerifier with stripe-go's HMAC-SHA256
// signature check and default timestamp tolerance.
type StripeVerifier struct {
	// Tolerance overrides the accepted signature age. Zero uses the
	// library default of five minutes.
	Tolerance time.Duration
}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	if v.Tolerance > 0 {
		return webhook.ValidatePayloadWithTolerance(payload, header, secret, v.Tolerance)
	}
	return webhook.ValidatePayload(payload, header, secret)
}
