package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds the whole health check. Probes still running at
// the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency.
type HealthProbe interface {
	Name() string
	// Check must respect the context deadline.
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status               string                     `json:"status"`
	Components           map[string]componentStatus `json:"components,omitempty"`
	MissingConfiguration []string                   `json:"missing_configuration,omitempty"`
}

// HandleHealth runs every probe concurrently under a 2 second deadline.
// Any failed or timed out probe makes the response 503 "unhealthy".
// Configuration gaps from HealthNotes turn an otherwise healthy response
// into 200 "degraded".
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(s.HealthProbes))
		g       errgroup.Group
	)
	for _, probe := range s.HealthProbes {
		g.Go(func() error {
			err := runProbe(ctx, probe)
			mu.Lock()
			results[probe.Name()] = err
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp := healthResponse{Status: "healthy"}
	status := http.StatusOK
	if len(s.HealthProbes) > 0 {
		resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	}
	for _, probe := range s.HealthProbes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
			status = http.StatusServiceUnavailable
		case err != nil:
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
			status = http.StatusServiceUnavailable
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
		}
	}

	if s.HealthNotes != nil {
		resp.MissingConfiguration = s.HealthNotes()
	}

	switch {
	case status != http.StatusOK:
		resp.Status = "unhealthy"
	case len(resp.MissingConfiguration) > 0:
		resp.Status = "degraded"
	}
	JSON(w, r, status, resp)
}

// runProbe turns a panicking probe into an error.
func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
