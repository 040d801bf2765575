// Package entitlement reconciles account entitlements with Stripe webhook
// events. Deliveries may be duplicated or arrive out of order; every write is
// either an absolute, time-ordered set (pro status) or an increment
// deduplicated by event id (consumable purchases).
package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"stride/internal/external"
	"stride/internal/types"
)

// Store is the datastore surface the reconciler mutates.
type Store interface {
	SetProStatus(ctx context.Context, change types.ProStatusChange) (bool, error)
	ApplyPurchase(ctx context.Context, p types.Purchase) (bool, error)
	FindUserBySubscription(ctx context.Context, subscriptionID string) (string, error)
}

// Verifier checks a webhook signature header against the payload.
type Verifier interface {
	Verify(payload []byte, header string, secret string) error
}

// Recorder receives one call per handled event. Implementations must not block.
type Recorder interface {
	RecordWebhookEvent(ctx context.Context, eventType string, outcome Outcome)
}

// Notifier is told about applied entitlement changes. Failures are logged
// and never fail the webhook.
type Notifier interface {
	ProStatusChanged(ctx context.Context, eventID string, change types.ProStatusChange) error
	PurchaseCredited(ctx context.Context, p types.Purchase) error
}

// Outcome describes what Handle did with a verified event.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeStale              Outcome = "stale"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeMissingCorrelation Outcome = "missing_correlation"
	OutcomeRejected           Outcome = "rejected"
	OutcomeFailed             Outcome = "failed"
)

// Reconciler verifies and applies Stripe webhook events.
type Reconciler struct {
	store    Store
	verifier Verifier
	secret   types.SecretString
	recorder Recorder
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithRecorder(r Recorder) Option {
	return func(rc *Reconciler) { rc.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(rc *Reconciler) { rc.notifier = n }
}

// WithClock overrides the time used for events that carry no creation time.
func WithClock(clock func() time.Time) Option {
	return func(rc *Reconciler) { rc.clock = clock }
}

// NewReconciler builds a Reconciler. secret is the webhook endpoint signing
// secret.
func NewReconciler(store Store, verifier Verifier, secret types.SecretString, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:    store,
		verifier: verifier,
		secret:   secret,
		clock:    time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle verifies payload against sigHeader and applies the event.
//
// It returns a validation AppError for a bad signature or an unparseable
// event, and the datastore error when a write fails so the provider retries.
// Everything else, including unknown event types and events that cannot be
// tied to an account, succeeds; the Outcome says what happened.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	if err := r.verifier.Verify(payload, sigHeader, r.secret.Unmask()); err != nil {
		r.logger.WarnContext(ctx, "webhook signature verification failed", slog.Any("error", err))
		r.record(ctx, "unverified", OutcomeRejected)
		return OutcomeRejected, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "webhook signature verification failed", err)
	}

	evt, err := parseEvent(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook payload rejected", slog.Any("error", err))
		r.record(ctx, "unparsed", OutcomeRejected)
		return OutcomeRejected, err
	}

	logger := r.logger.With(
		slog.String("event_id", evt.ID),
		slog.String("event_type", string(evt.Type)),
	)

	var outcome Outcome
	switch string(evt.Type) {
	case external.EventStripeCheckoutCompleted:
		outcome, err = r.checkoutCompleted(ctx, logger, evt)
	case external.EventStripeSubDeleted:
		outcome, err = r.subscriptionChanged(ctx, logger, evt, true)
	case external.EventStripeSubUpdated:
		outcome, err = r.subscriptionChanged(ctx, logger, evt, false)
	default:
		logger.InfoContext(ctx, "ignoring unhandled webhook event type")
		outcome = OutcomeIgnored
	}

	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeValidationInvalidJSON {
			logger.WarnContext(ctx, "webhook payload rejected", slog.Any("error", err))
			outcome = OutcomeRejected
		} else {
			logger.ErrorContext(ctx, "failed to apply webhook event", slog.Any("error", err))
		}
		r.record(ctx, string(evt.Type), outcome)
		return outcome, err
	}

	logger.InfoContext(ctx, "webhook event handled", slog.String("outcome", string(outcome)))
	r.record(ctx, string(evt.Type), outcome)
	return outcome, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, logger *slog.Logger, evt *stripe.Event) (Outcome, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(evt, &session); err != nil {
		return OutcomeRejected, err
	}

	userID := checkoutUserID(&session)
	if userID == "" {
		logger.WarnContext(ctx, "checkout session has no user correlation",
			slog.String("session_id", session.ID),
		)
		return OutcomeMissingCorrelation, nil
	}
	logger = logger.With(slog.String("user_id", userID))

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return r.setProStatus(ctx, logger, evt, types.ProStatusChange{
			UserID:         userID,
			IsPro:          true,
			SubscriptionID: subscriptionID(&session),
			EventAt:        eventTime(evt, r.clock),
		})

	case stripe.CheckoutSessionModePayment:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			logger.InfoContext(ctx, "checkout session completed without payment; not crediting")
			return OutcomeIgnored, nil
		}
		purchaseType := types.PurchaseType(session.Metadata["type"])
		if !purchaseType.Valid() {
			logger.WarnContext(ctx, "ignoring unknown purchase type",
				slog.String("purchase_type", string(purchaseType)),
			)
			return OutcomeIgnored, nil
		}
		return r.applyPurchase(ctx, types.Purchase{
			EventID: evt.ID,
			UserID:  userID,
			Type:    purchaseType,
		})

	default:
		logger.InfoContext(ctx, "ignoring checkout session mode", slog.String("mode", string(session.Mode)))
		return OutcomeIgnored, nil
	}
}

// subscriptionChanged handles deletion and status updates. A deleted
// subscription always revokes; an updated one grants or revokes by status.
func (r *Reconciler) subscriptionChanged(ctx context.Context, logger *slog.Logger, evt *stripe.Event, deleted bool) (Outcome, error) {
	var sub stripe.Subscription
	if err := decodeObject(evt, &sub); err != nil {
		return OutcomeRejected, err
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		owner, err := r.store.FindUserBySubscription(ctx, sub.ID)
		if err != nil {
			return OutcomeFailed, err
		}
		userID = owner
	}
	if userID == "" {
		logger.WarnContext(ctx, "subscription has no user correlation",
			slog.String("subscription_id", sub.ID),
		)
		return OutcomeMissingCorrelation, nil
	}

	isPro := false
	if !deleted {
		isPro = types.SubscriptionStatus(sub.Status).GrantsPro()
	}

	return r.setProStatus(ctx, logger.With(slog.String("user_id", userID)), evt, types.ProStatusChange{
		UserID:         userID,
		IsPro:          isPro,
		SubscriptionID: sub.ID,
		EventAt:        eventTime(evt, r.clock),
		Scoped:         true,
	})
}

func (r *Reconciler) setProStatus(ctx context.Context, logger *slog.Logger, evt *stripe.Event, change types.ProStatusChange) (Outcome, error) {
	applied, err := r.store.SetProStatus(ctx, change)
	if err != nil {
		return OutcomeFailed, err
	}
	if !applied {
		return OutcomeStale, nil
	}

	logger.InfoContext(ctx, "pro status updated",
		slog.Bool("is_pro", change.IsPro),
		slog.String("subscription_id", change.SubscriptionID),
	)
	if r.notifier != nil {
		if err := r.notifier.ProStatusChanged(ctx, evt.ID, change); err != nil {
			logger.WarnContext(ctx, "failed to publish pro status change", slog.Any("error", err))
		}
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) applyPurchase(ctx context.Context, p types.Purchase) (Outcome, error) {
	credited, err := r.store.ApplyPurchase(ctx, p)
	if err != nil {
		return OutcomeFailed, err
	}
	if !credited {
		return OutcomeDuplicate, nil
	}

	r.logger.InfoContext(ctx, "purchase credited",
		slog.String("event_id", p.EventID),
		slog.String("user_id", p.UserID),
		slog.String("purchase_type", string(p.Type)),
	)
	if r.notifier != nil {
		if err := r.notifier.PurchaseCredited(ctx, p); err != nil {
			r.logger.WarnContext(ctx, "failed to publish purchase credit",
				slog.String("event_id", p.EventID),
				slog.Any("error", err),
			)
		}
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) record(ctx context.Context, eventType string, outcome Outcome) {
	if r.recorder != nil {
		r.recorder.RecordWebhookEvent(ctx, eventType, outcome)
	}
}
