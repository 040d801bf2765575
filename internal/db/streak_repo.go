package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"stride/internal/types"
)

// StreakRepo persists per-user activity streaks in user_streaks.
type StreakRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewStreakRepo(db DBTX, logger *slog.Logger) *StreakRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreakRepo{db: db, logger: logger}
}

// GetStreak returns the streak record for userID, or nil if the user has
// never checked in.
func (r *StreakRepo) GetStreak(ctx context.Context, userID string) (*types.StreakRecord, error) {
	rec := &types.StreakRecord{UserID: userID}
	var last pgtype.Date

	err := r.db.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_date, updated_at
		  FROM user_streaks
		 WHERE user_id = $1`,
		userID,
	).Scan(&rec.CurrentStreak, &rec.LongestStreak, &last, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read streak", err)
	}

	if last.Valid {
		rec.LastActivityDate = types.DateOf(last.Time)
	}
	return rec, nil
}

// UpsertStreak writes rec. longest_streak is merged with GREATEST so two
// racing check-ins can never lower it.
func (r *StreakRepo) UpsertStreak(ctx context.Context, rec *types.StreakRecord) error {
	last := pgtype.Date{}
	if !rec.LastActivityDate.IsZero() {
		last = pgtype.Date{Time: rec.LastActivityDate.Time(), Valid: true}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO user_streaks (user_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		   SET current_streak     = EXCLUDED.current_streak,
		       longest_streak     = GREATEST(user_streaks.longest_streak, EXCLUDED.longest_streak),
		       last_activity_date = EXCLUDED.last_activity_date,
		       updated_at         = EXCLUDED.updated_at`,
		rec.UserID, rec.CurrentStreak, rec.LongestStreak, last, rec.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save streak", err)
	}
	return nil
}
