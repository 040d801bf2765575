package external

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"stride/internal/types"
)

// StubCheckoutService implements CheckoutService by logging the request and
// returning a fake session. Used when config.IsTestMode is true or
// APP_ENV=local.
type StubCheckoutService struct {
	logger *slog.Logger
}

// NewStubCheckoutService creates a new StubCheckoutService.
func NewStubCheckoutService(logger *slog.Logger) *StubCheckoutService {
	return &StubCheckoutService{logger: logger}
}

func (s *StubCheckoutService) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	id := "cs_stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"user_id", req.UserID,
		"plan", req.Plan.Name,
		"mode", req.Plan.Mode,
	)
	return &types.CheckoutSession{
		ID:  id,
		URL: fmt.Sprintf("https://checkout.stub.local/pay/%s", id),
	}, nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used when config.IsTestMode is true or APP_ENV=local.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: Stripe webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

var (
	_ CheckoutService = (*StubCheckoutService)(nil)
	_ CheckoutService = (*StripeClient)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
