package external

import (
	"log/slog"
	"net/http"
	"time"

	"stride/internal/config"
)

// ClientRegistry holds the outbound provider clients. In test or local mode
// it is populated with stubs that log instead of calling Stripe.
type ClientRegistry struct {
	Checkout CheckoutService
	Verifier WebhookVerifier
}

// NewClientRegistry initializes the external clients for cfg.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsTestMode || cfg.IsLocal() {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		stubLogger := logger.With("mode", "stub")
		return &ClientRegistry{
			Checkout: NewStubCheckoutService(stubLogger),
			Verifier: NewStubWebhookVerifier(stubLogger),
		}
	}

	logger.Info("initializing external clients in PRODUCTION mode",
		"environment", cfg.Environment,
	)
	return &ClientRegistry{
		Checkout: NewStripeClient(&http.Client{Timeout: 20 * time.Second}, StripeClientConfig{
			SecretKey:           cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:             cfg.Billing.StripeAPIURL,
			AllowPromotionCodes: cfg.Billing.AllowPromotionCodes,
			Logger:              logger.With("client", "stripe"),
		}),
		Verifier: &StripeVerifier{},
	}
}
