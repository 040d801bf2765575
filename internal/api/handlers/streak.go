// Package handlers contains the HTTP handler implementations for the Stride
// API. Handlers decode and validate requests, delegate to the domain
// packages, and render results with core.JSON and core.Error.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/streak"
	"stride/internal/types"
)

// StreakService is the subset of streak.Engine used by StreakHandler.
type StreakService interface {
	CheckStreak(ctx context.Context, userID string, today types.Date) (streak.Result, error)
	ConsumeStreakFreeze(ctx context.Context, userID string) (int, error)
}

// StreakCheckRequest is the body of POST /api/streak/check.
//
// TimezoneOffset uses the browser getTimezoneOffset convention (minutes,
// positive west of UTC). It defaults to 0 when omitted.
type StreakCheckRequest struct {
	UserID         string `json:"user_id" validate:"required,max=128"`
	TimezoneOffset *int   `json:"timezone_offset"`
}

// StreakCheckResponse is the success body of POST /api/streak/check.
type StreakCheckResponse struct {
	Status        string `json:"status"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// UseStreakFreezeRequest is the body of POST /api/use-streak-freeze.
// RewardType is recorded in logs only; every reward spends one freeze.
type UseStreakFreezeRequest struct {
	UserID     string `json:"user_id" validate:"required,max=128"`
	RewardType string `json:"reward_type" validate:"required,max=64"`
}

// UseStreakFreezeResponse is the success body of POST /api/use-streak-freeze.
type UseStreakFreezeResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Remaining int    `json:"streak_freezes_available"`
}

// StreakHandler serves the streak endpoints.
type StreakHandler struct {
	service   StreakService
	validator *core.Validator
	clock     func() time.Time
	logger    *slog.Logger
}

// NewStreakHandler creates a StreakHandler. A nil clock uses time.Now.
func NewStreakHandler(svc StreakService, v *core.Validator, clock func() time.Time, l *slog.Logger) *StreakHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &StreakHandler{
		service:   svc,
		validator: v,
		clock:     clock,
		logger:    l,
	}
}

// RegisterRoutes mounts the streak endpoints.
func (h *StreakHandler) RegisterRoutes(r chi.Router) {
	r.Post("/streak/check", h.CheckStreak)
	r.Post("/use-streak-freeze", h.UseStreakFreeze)
}

// CheckStreak handles POST /api/streak/check. The calendar day is derived
// from the request's timezone offset, never from the server clock's zone.
func (h *StreakHandler) CheckStreak(w http.ResponseWriter, r *http.Request) {
	var req StreakCheckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	offset := 0
	if req.TimezoneOffset != nil {
		offset = *req.TimezoneOffset
	}
	today, err := streak.LocalDate(h.clock(), offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.CheckStreak(r.Context(), req.UserID, today)
	if err != nil {
		types.LoggerFromContext(r.Context(), h.logger).ErrorContext(r.Context(), "streak check failed",
			"user_id", req.UserID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, StreakCheckResponse{
		Status:        "success",
		CurrentStreak: res.CurrentStreak,
		LongestStreak: res.LongestStreak,
	})
}

// UseStreakFreeze handles POST /api/use-streak-freeze.
func (h *StreakHandler) UseStreakFreeze(w http.ResponseWriter, r *http.Request) {
	var req UseStreakFreezeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	logger := types.LoggerFromContext(r.Context(), h.logger)
	remaining, err := h.service.ConsumeStreakFreeze(r.Context(), req.UserID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeInsufficientCredit) {
			logger.InfoContext(r.Context(), "streak freeze refused",
				"user_id", req.UserID,
				"reward_type", req.RewardType,
			)
		} else {
			logger.ErrorContext(r.Context(), "streak freeze failed",
				"user_id", req.UserID,
				"error", err,
			)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, UseStreakFreezeResponse{
		Status:    "success",
		Message:   "Streak Freeze Used",
		Remaining: remaining,
	})
}
