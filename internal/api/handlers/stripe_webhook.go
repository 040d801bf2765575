package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/entitlement"
	"stride/internal/types"
)

// defaultWebhookBodyLimit caps Stripe payloads when no limit is configured.
const defaultWebhookBodyLimit = 64 * 1024

// WebhookProcessor applies a verified payment event.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) (entitlement.Outcome, error)
}

// StripeWebhookHandler receives Stripe events. It is unauthenticated; the
// processor verifies the Stripe-Signature header against the raw body.
type StripeWebhookHandler struct {
	processor WebhookProcessor
	maxBody   int64
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. maxBody <= 0
// selects a 64 KB limit.
func NewStripeWebhookHandler(p WebhookProcessor, maxBody int64, l *slog.Logger) *StripeWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = defaultWebhookBodyLimit
	}
	return &StripeWebhookHandler{
		processor: p,
		maxBody:   maxBody,
		logger:    l,
	}
}

// RegisterRoutes mounts POST /webhook on r. The server mounts it both under
// /api and at the root for older Stripe endpoint configurations.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
}

// Handle processes one Stripe event:
//  1. Reads the raw body (size limited) and the Stripe-Signature header.
//  2. Hands both to the processor, which verifies and applies the event.
//  3. Returns {"status":"success"}; verification and parse failures are 400,
//     datastore failures 500 so Stripe redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	logger := types.LoggerFromContext(r.Context(), h.logger)

	payload, err := core.ReadBody(w, r, h.maxBody)
	if err != nil {
		logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, err)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if _, err := h.processor.Handle(r.Context(), payload, sigHeader); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]string{"status": "success"})
}
