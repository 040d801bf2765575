package external

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"stride/internal/types"
)

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	form    url.Values
}

func newStripeTestServer(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		captured = append(captured, capturedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			headers: r.Header.Clone(),
			form:    form,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func newTestStripeClient(t *testing.T, baseURL string, promos bool) *StripeClient {
	t.Helper()
	base := newTestClient(t, RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond})
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey:           "sk_test_123",
		BaseURL:             baseURL,
		AllowPromotionCodes: promos,
		Logger:              slog.New(slog.DiscardHandler),
	})
}

func subscriptionRequest() types.CheckoutRequest {
	return types.CheckoutRequest{
		Plan: types.CheckoutPlan{
			Name:      "monthly",
			PriceID:   "price_monthly",
			Mode:      types.CheckoutModeSubscription,
			TrialDays: 7,
		},
		UserID:     "user-1",
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
	}
}

func TestCreateCheckoutSession_Subscription(t *testing.T) {
	server, captured := newStripeTestServer(t, http.StatusOK, `{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	client := newTestStripeClient(t, server.URL, false)

	session, err := client.CreateCheckoutSession(context.Background(), subscriptionRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/checkout/sessions", req.path)
	assert.Equal(t, "Bearer sk_test_123", req.headers.Get("Authorization"))
	assert.Equal(t, stripe.APIVersion, req.headers.Get("Stripe-Version"))
	assert.NotEmpty(t, req.headers.Get("Idempotency-Key"))

	assert.Equal(t, "subscription", req.form.Get("mode"))
	assert.Equal(t, "price_monthly", req.form.Get("line_items[0][price]"))
	assert.Equal(t, "1", req.form.Get("line_items[0][quantity]"))
	assert.Equal(t, "user-1", req.form.Get("client_reference_id"))
	assert.Equal(t, "user-1", req.form.Get("metadata[user_id]"))
	assert.Equal(t, "user-1", req.form.Get("subscription_data[metadata][user_id]"))
	assert.Equal(t, "7", req.form.Get("subscription_data[trial_period_days]"))
	assert.Equal(t, "always", req.form.Get("payment_method_collection"))
	assert.Empty(t, req.form.Get("metadata[type]"))
	assert.Empty(t, req.form.Get("allow_promotion_codes"))
}

func TestCreateCheckoutSession_Payment(t *testing.T) {
	server, captured := newStripeTestServer(t, http.StatusOK, `{"id":"cs_test_2","url":"https://checkout.stripe.com/c/pay/cs_test_2"}`)
	client := newTestStripeClient(t, server.URL, true)

	req := types.CheckoutRequest{
		Plan: types.CheckoutPlan{
			Name:         "streak_freeze",
			PriceID:      "price_freeze",
			Mode:         types.CheckoutModePayment,
			PurchaseType: types.PurchaseStreakFreeze,
		},
		UserID:     "user-2",
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
	}
	_, err := client.CreateCheckoutSession(context.Background(), req)
	require.NoError(t, err)

	form := (*captured)[0].form
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "streak_freeze", form.Get("metadata[type]"))
	assert.Equal(t, "user-2", form.Get("metadata[user_id]"))
	assert.Equal(t, "true", form.Get("allow_promotion_codes"))
	assert.Empty(t, form.Get("subscription_data[trial_period_days]"))
	assert.Empty(t, form.Get("payment_method_collection"))
}

func TestCreateCheckoutSession_ZeroTrialOmitsTrialParam(t *testing.T) {
	server, captured := newStripeTestServer(t, http.StatusOK, `{"id":"cs","url":"u"}`)
	client := newTestStripeClient(t, server.URL, false)

	req := subscriptionRequest()
	req.Plan.TrialDays = 0
	_, err := client.CreateCheckoutSession(context.Background(), req)
	require.NoError(t, err)

	_, ok := (*captured)[0].form["subscription_data[trial_period_days]"]
	assert.False(t, ok)
}

func TestCreateCheckoutSession_RetryReusesIdempotencyKey(t *testing.T) {
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if len(keys) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs","url":"u"}`))
	}))
	defer server.Close()

	_, err := newTestStripeClient(t, server.URL, false).CreateCheckoutSession(context.Background(), subscriptionRequest())
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestCreateCheckoutSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
	}{
		{
			name:     "card declined",
			status:   http.StatusPaymentRequired,
			body:     `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"declined"}}`,
			wantCode: types.ErrCodePaymentDeclined,
		},
		{
			name:     "invalid price",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"invalid_request_error","param":"line_items[0][price]","message":"No such price"}}`,
			wantCode: types.ErrCodeUpstreamStripe,
		},
		{
			name:     "auth failure",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"type":"invalid_request_error","message":"Invalid API Key"}}`,
			wantCode: types.ErrCodeUpstreamStripe,
		},
		{
			name:     "non-json body",
			status:   http.StatusBadRequest,
			body:     `<html>bad gateway</html>`,
			wantCode: types.ErrCodeUpstreamStripe,
		},
		{
			name:     "server error after retries",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"type":"api_error","message":"boom"}}`,
			wantCode: types.ErrCodeUpstreamUnavailable,
		},
		{
			name:     "rate limited after retries",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"type":"rate_limit_error","message":"slow down"}}`,
			wantCode: types.ErrCodeUpstreamRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newStripeTestServer(t, tt.status, tt.body)
			_, err := newTestStripeClient(t, server.URL, false).CreateCheckoutSession(context.Background(), subscriptionRequest())
			require.Error(t, err)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr), "expected AppError, got %T", err)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestCreateCheckoutSession_MalformedSuccessBody(t *testing.T) {
	server, _ := newStripeTestServer(t, http.StatusOK, `not json`)
	_, err := newTestStripeClient(t, server.URL, false).CreateCheckoutSession(context.Background(), subscriptionRequest())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalUnexpected))
}

func TestStripeVerifier(t *testing.T) {
	const secret = "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	v := &StripeVerifier{}
	assert.NoError(t, v.Verify(payload, signed.Header, secret))

	t.Run("tampered payload", func(t *testing.T) {
		tampered := []byte(`{"id":"evt_1","type":"customer.subscription.deleted"}`)
		assert.Error(t, v.Verify(tampered, signed.Header, secret))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, signed.Header, "whsec_other"))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, "", secret))
	})

	t.Run("expired timestamp", func(t *testing.T) {
		old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now().Add(-time.Hour),
		})
		assert.Error(t, v.Verify(payload, old.Header, secret))
		assert.NoError(t, (&StripeVerifier{Tolerance: 2 * time.Hour}).Verify(payload, old.Header, secret))
	})
}
