package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/external"
	"stride/internal/types"
)

// PlanCatalog resolves plan names to checkout parameters.
type PlanCatalog interface {
	Lookup(name string) (types.CheckoutPlan, error)
}

// CreateCheckoutRequest is the body of POST /api/create-checkout-session.
type CreateCheckoutRequest struct {
	Plan       string `json:"plan" validate:"required,max=64"`
	UserID     string `json:"user_id" validate:"required,max=128"`
	SuccessURL string `json:"success_url" validate:"required,http_url"`
	CancelURL  string `json:"cancel_url" validate:"required,http_url"`
}

// BillingHandler starts hosted checkout sessions.
type BillingHandler struct {
	catalog   PlanCatalog
	checkout  external.CheckoutService
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(catalog PlanCatalog, checkout external.CheckoutService, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		catalog:   catalog,
		checkout:  checkout,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the checkout endpoint.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-checkout-session", h.CreateCheckoutSession)
}

// CreateCheckoutSession handles POST /api/create-checkout-session and
// returns {sessionId, url}. The user id travels to Stripe as
// client_reference_id so the completion webhook can find the account.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, err := h.catalog.Lookup(req.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	logger := types.LoggerFromContext(r.Context(), h.logger)
	session, err := h.checkout.CreateCheckoutSession(r.Context(), types.CheckoutRequest{
		Plan:       plan,
		UserID:     req.UserID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to create checkout session",
			"user_id", req.UserID,
			"plan", plan.Name,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	logger.InfoContext(r.Context(), "checkout session created",
		"user_id", req.UserID,
		"plan", plan.Name,
		"session_id", session.ID,
	)
	core.JSON(w, r, http.StatusOK, session)
}
