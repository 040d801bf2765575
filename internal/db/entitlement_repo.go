package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"stride/internal/types"
)

// EntitlementRepo persists the paid-feature state kept on profiles rows and
// the purchase ledger that makes consumable credits idempotent.
//
// Lifecycle writes (SetProStatus) use optimistic ordering on
// pro_status_event_at: a write older than the last applied event is a silent
// no-op, so Stripe's out-of-order delivery cannot resurrect stale state.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

// purchaseColumns whitelists the counter column credited per purchase type.
// Column names are interpolated into SQL, so nothing outside this map is
// ever used.
var purchaseColumns = map[types.PurchaseType]string{
	types.PurchaseStreakFreeze: "streak_freezes_available",
	types.PurchaseExtraGoal:    "extra_goal_slots",
}

// GetEntitlement returns the entitlement for userID, or nil when no profile
// row exists.
func (r *EntitlementRepo) GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error) {
	ent := &types.Entitlement{UserID: userID}
	var subID *string

	err := r.db.QueryRow(ctx, `
		SELECT is_pro, streak_freezes_available, extra_goal_slots,
		       stripe_subscription_id, pro_status_event_at
		  FROM profiles
		 WHERE id = $1`,
		userID,
	).Scan(&ent.IsPro, &ent.StreakFreezesAvailable, &ent.ExtraGoalSlots, &subID, &ent.ProStatusEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read entitlement", err)
	}
	if subID != nil {
		ent.StripeSubscriptionID = *subID
	}
	return ent, nil
}

// SetProStatus applies an absolute pro-flag write. It returns false when the
// write was skipped because a newer lifecycle event has already been applied,
// or because a different subscription is on record (revocations, and scoped
// grants while the user is pro).
//
// Grants record the granting subscription id. Revocations keep it so a later
// stale grant from the same subscription is still ordered against it.
func (r *EntitlementRepo) SetProStatus(ctx context.Context, change types.ProStatusChange) (bool, error) {
	eventAt := change.EventAt.UTC()

	var (
		query string
		args  = []any{change.UserID, change.SubscriptionID, eventAt}
	)
	if change.IsPro {
		args = append(args, change.Scoped)
		query = `
		INSERT INTO profiles (id, is_pro, stripe_subscription_id, pro_status_event_at, updated_at)
		VALUES ($1, TRUE, NULLIF($2::text, ''), $3, NOW())
		ON CONFLICT (id) DO UPDATE
		   SET is_pro = TRUE,
		       stripe_subscription_id = COALESCE(NULLIF($2::text, ''), profiles.stripe_subscription_id),
		       pro_status_event_at = $3,
		       updated_at = NOW()
		 WHERE (profiles.pro_status_event_at IS NULL OR profiles.pro_status_event_at <= $3)
		   AND (NOT $4::boolean
		        OR NOT profiles.is_pro
		        OR $2::text = ''
		        OR profiles.stripe_subscription_id IS NULL
		        OR profiles.stripe_subscription_id = $2::text)`
	} else {
		query = `
		INSERT INTO profiles (id, is_pro, pro_status_event_at, updated_at)
		VALUES ($1, FALSE, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		   SET is_pro = FALSE,
		       pro_status_event_at = $3,
		       updated_at = NOW()
		 WHERE (profiles.pro_status_event_at IS NULL OR profiles.pro_status_event_at <= $3)
		   AND ($2::text = ''
		        OR profiles.stripe_subscription_id IS NULL
		        OR profiles.stripe_subscription_id = $2::text)`
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update pro status", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "pro status write skipped (stale event or different subscription on record)",
			slog.String("user_id", change.UserID),
			slog.Bool("is_pro", change.IsPro),
			slog.String("subscription_id", change.SubscriptionID),
			slog.Time("event_at", eventAt),
		)
		return false, nil
	}
	return true, nil
}

// FindUserBySubscription returns the user whose profile records
// subscriptionID, or "" when none does.
func (r *EntitlementRepo) FindUserBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	if subscriptionID == "" {
		return "", nil
	}

	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM profiles WHERE stripe_subscription_id = $1 LIMIT 1`,
		subscriptionID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve subscription owner", err)
	}
	return userID, nil
}

// ApplyPurchase records p in the purchase ledger and increments the matching
// counter in one statement. The increment only happens when the ledger insert
// succeeded, so redelivery of the same event returns false and changes
// nothing.
func (r *EntitlementRepo) ApplyPurchase(ctx context.Context, p types.Purchase) (bool, error) {
	column, ok := purchaseColumns[p.Type]
	if !ok {
		return false, fmt.Errorf("unsupported purchase type %q", p.Type)
	}

	query := fmt.Sprintf(`
		WITH recorded AS (
		    INSERT INTO purchase_ledger (event_id, user_id, purchase_type, created_at)
		    VALUES ($1, $2, $3, NOW())
		    ON CONFLICT (event_id) DO NOTHING
		    RETURNING user_id
		)
		INSERT INTO profiles (id, %[1]s, updated_at)
		SELECT user_id, 1, NOW() FROM recorded
		ON CONFLICT (id) DO UPDATE
		   SET %[1]s = profiles.%[1]s + 1,
		       updated_at = NOW()`, column)

	tag, err := r.db.Exec(ctx, query, p.EventID, p.UserID, string(p.Type))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to credit purchase", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "purchase already credited",
			slog.String("event_id", p.EventID),
			slog.String("user_id", p.UserID),
			slog.String("purchase_type", string(p.Type)),
		)
		return false, nil
	}
	return true, nil
}

// DecrementStreakFreeze atomically spends one streak freeze. ok is false when
// the user had none left (including when no profile exists); the counter is
// never driven below zero.
func (r *EntitlementRepo) DecrementStreakFreeze(ctx context.Context, userID string) (remaining int, ok bool, err error) {
	err = r.db.QueryRow(ctx, `
		UPDATE profiles
		   SET streak_freezes_available = streak_freezes_available - 1,
		       updated_at = NOW()
		 WHERE id = $1
		   AND streak_freezes_available >= 1
		RETURNING streak_freezes_available`,
		userID,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume streak freeze", err)
	}
	return remaining, true, nil
}
