// Package core provides the API chassis for the Stride service. It builds a
// chi router that serves both the local HTTP listener and the Lambda
// adapter, and applies the cross-cutting concerns (recovery, timeouts,
// request ids, logging, CORS, compression, metrics) before requests reach
// domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stride/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. endpoint is
	// the matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of routes. Handler packages provide these so
// core does not import them.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP API.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// HealthNotes reports configuration gaps that do not make the service
	// unhealthy but should be visible to operators (for example plans
	// without a price id).
	HealthNotes func() []string

	// APIRouteRegistrars are mounted under /api; RootRouteRegistrars at /.
	APIRouteRegistrars  []RouteRegistrar
	RootRouteRegistrars []RouteRegistrar

	shutdownHooks []func(context.Context) error
	router        *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. Callers register routes and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown in reverse registration order.
func (s *Server) OnShutdown(hook func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown runs every shutdown hook (flushing metrics, closing the pool) and
// returns their joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.shutdownHooks) - 1; i >= 0; i-- {
		if err := s.shutdownHooks[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
