// Package streak maintains consecutive-day activity streaks and spends the
// streak-freeze credits users buy to protect them.
package streak

import (
	"context"
	"log/slog"
	"time"

	"stride/internal/types"
)

// Store persists streak records.
type Store interface {
	GetStreak(ctx context.Context, userID string) (*types.StreakRecord, error)
	UpsertStreak(ctx context.Context, rec *types.StreakRecord) error
}

// CreditStore reads and spends streak-freeze credits.
type CreditStore interface {
	GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error)
	DecrementStreakFreeze(ctx context.Context, userID string) (remaining int, ok bool, err error)
}

// Recorder receives streak telemetry. Implementations must not block.
type Recorder interface {
	RecordStreakCheck(ctx context.Context, branch Branch)
	RecordFreezeConsumed(ctx context.Context)
}

// Notifier is told about spent credits so downstream caches can refresh.
type Notifier interface {
	FreezeConsumed(ctx context.Context, userID string, remaining int) error
}

// Branch names the transition a check-in took.
type Branch string

const (
	BranchFirst     Branch = "first"
	BranchSameDay   Branch = "same_day"
	BranchContinued Branch = "continued"
	BranchReset     Branch = "reset"
)

// Result is the streak after a check-in.
type Result struct {
	CurrentStreak int
	LongestStreak int
	Branch        Branch
}

// Engine applies daily check-ins and freeze consumption. It holds no state of
// its own; concurrency safety comes from the stores.
type Engine struct {
	streaks  Store
	credits  CreditStore
	recorder Recorder
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for updated_at.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(streaks Store, credits CreditStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		streaks: streaks,
		credits: credits,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Next computes the streak after activity on today given the previous
// record. The zero record means no prior activity.
//
//   - same day as the last activity: unchanged
//   - the day after the last activity: current + 1
//   - anything else (gap, first check-in, clock skew into the past): 1
//
// longest never decreases and never falls below current.
func Next(prev types.StreakRecord, today types.Date) Result {
	var res Result
	switch {
	case prev.LastActivityDate.IsZero():
		res = Result{CurrentStreak: 1, Branch: BranchFirst}
	case prev.LastActivityDate == today:
		res = Result{CurrentStreak: prev.CurrentStreak, Branch: BranchSameDay}
	case prev.LastActivityDate.AddDays(1) == today:
		res = Result{CurrentStreak: prev.CurrentStreak + 1, Branch: BranchContinued}
	default:
		res = Result{CurrentStreak: 1, Branch: BranchReset}
	}
	res.LongestStreak = max(prev.LongestStreak, res.CurrentStreak)
	return res
}

// CheckStreak records activity for userID on today, the user's local
// calendar day, and returns the resulting streak. Repeating the call on the
// same day returns the same values.
func (e *Engine) CheckStreak(ctx context.Context, userID string, today types.Date) (Result, error) {
	prev, err := e.streaks.GetStreak(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if prev == nil {
		prev = &types.StreakRecord{UserID: userID}
	}

	res := Next(*prev, today)

	if err := e.streaks.UpsertStreak(ctx, &types.StreakRecord{
		UserID:           userID,
		CurrentStreak:    res.CurrentStreak,
		LongestStreak:    res.LongestStreak,
		LastActivityDate: today,
		UpdatedAt:        e.clock().UTC(),
	}); err != nil {
		return Result{}, err
	}

	e.logger.DebugContext(ctx, "streak checked",
		slog.String("user_id", userID),
		slog.String("date", today.String()),
		slog.String("branch", string(res.Branch)),
		slog.Int("current_streak", res.CurrentStreak),
		slog.Int("longest_streak", res.LongestStreak),
	)
	if e.recorder != nil {
		e.recorder.RecordStreakCheck(ctx, res.Branch)
	}
	return res, nil
}

// ConsumeStreakFreeze spends one streak-freeze credit and returns how many
// remain. It fails with types.ErrInsufficientCredit when the user has none,
// including when a concurrent request spent the last one first.
func (e *Engine) ConsumeStreakFreeze(ctx context.Context, userID string) (int, error) {
	ent, err := e.credits.GetEntitlement(ctx, userID)
	if err != nil {
		return 0, err
	}
	if ent == nil || ent.StreakFreezesAvailable < 1 {
		return 0, types.ErrInsufficientCredit
	}

	remaining, ok, err := e.credits.DecrementStreakFreeze(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		e.logger.InfoContext(ctx, "streak freeze spent concurrently", slog.String("user_id", userID))
		return 0, types.ErrInsufficientCredit
	}

	e.logger.InfoContext(ctx, "streak freeze consumed",
		slog.String("user_id", userID),
		slog.Int("remaining", remaining),
	)
	if e.recorder != nil {
		e.recorder.RecordFreezeConsumed(ctx)
	}
	if e.notifier != nil {
		if err := e.notifier.FreezeConsumed(ctx, userID, remaining); err != nil {
			e.logger.WarnContext(ctx, "failed to publish freeze consumption",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
	}
	return remaining, nil
}
