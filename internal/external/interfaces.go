package external

import (
	"context"

	"stride/internal/types"
)

// CheckoutService creates hosted payment pages with the payment provider.
type CheckoutService interface {
	// CreateCheckoutSession opens a checkout session for req.Plan. The user id
	// is attached as client_reference_id and metadata so the completion
	// webhook can be correlated back to the account.
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event types the service reacts to.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)
