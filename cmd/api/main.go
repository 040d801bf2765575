// Package main is the entry point for the Stride API server.
//
// It loads configuration, opens the database pool, wires the streak engine
// and the Stripe entitlement reconciler behind the core chassis, and serves
// requests either from a local HTTP listener or from API Gateway through
// AWS Lambda.
//
// In local mode (APP_ENV=local), the schema is applied on startup and
// external clients are stubbed. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"stride/internal/api/handlers"
	"stride/internal/billing"
	"stride/internal/config"
	"stride/internal/core"
	"stride/internal/db"
	"stride/internal/entitlement"
	"stride/internal/external"
	"stride/internal/metrics"
	"stride/internal/queue"
	"stride/internal/streak"
)

const metricsFlushInterval = time.Minute

// telemetry is what the API, the streak engine and the reconciler record
// into. *metrics.Collector and metrics.Nop both satisfy it.
type telemetry interface {
	core.MetricsCollector
	entitlement.Recorder
	streak.Recorder
	Flush(ctx context.Context) error
}

// dependencies are the stateful collaborators buildServer wires together.
type dependencies struct {
	streaks      streak.Store
	credits      streak.CreditStore
	entitlements entitlement.Store
	probes       []core.HealthProbe
	telemetry    telemetry

	// Optional. Nil disables entitlement change events.
	publisher *queue.EntitlementPublisher
	// Optional. Nil uses time.Now.
	clock func() time.Time
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// SSM resolution is bypassed when APP_ENV=local.
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.Service)
	logger.Info("stride API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if cfg.IsLocal() {
		if err := db.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return err
		}
	}

	entitlements := db.NewEntitlementRepo(pool, logger)
	deps := dependencies{
		streaks:      db.NewStreakRepo(pool, logger),
		credits:      entitlements,
		entitlements: entitlements,
		probes:       []core.HealthProbe{db.NewHealthProbe(pool)},
		telemetry:    metrics.Nop{},
	}

	var collector *metrics.Collector
	if cfg.Observability.EnableMetrics || cfg.AWS.EntitlementQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return fmt.Errorf("loading AWS config: %w", err)
		}
		if cfg.Observability.EnableMetrics {
			cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			collector = metrics.NewCollector(cw, cfg.Observability.MetricNamespace, logger)
			deps.telemetry = collector
		}
		if cfg.AWS.EntitlementQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			deps.publisher = queue.NewEntitlementPublisher(sqsClient, cfg.AWS.EntitlementQueueURL, logger)
		}
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		pool.Close()
		return err
	}
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	if isLambdaEnvironment() {
		logger.Info("running in Lambda mode")
		return runLambda(srv, deps.telemetry, logger)
	}

	return runHTTPServer(srv, collector, cfg, logger)
}

// buildServer assembles the chassis, domain services and routes. It performs
// no I/O so tests can drive the fully wired router.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	tel := deps.telemetry
	if tel == nil {
		tel = metrics.Nop{}
	}

	registry := external.NewClientRegistry(cfg, logger)
	catalog := billing.NewCatalog(cfg.Billing)

	engineOpts := []streak.Option{streak.WithRecorder(tel)}
	reconcilerOpts := []entitlement.Option{entitlement.WithRecorder(tel)}
	if deps.publisher != nil {
		engineOpts = append(engineOpts, streak.WithNotifier(deps.publisher))
		reconcilerOpts = append(reconcilerOpts, entitlement.WithNotifier(deps.publisher))
	}
	if deps.clock != nil {
		engineOpts = append(engineOpts, streak.WithClock(deps.clock))
		reconcilerOpts = append(reconcilerOpts, entitlement.WithClock(deps.clock))
	}

	engine := streak.NewEngine(deps.streaks, deps.credits, logger, engineOpts...)
	reconciler := entitlement.NewReconciler(
		deps.entitlements,
		registry.Verifier,
		cfg.Billing.StripeWebhookSecret,
		logger,
		reconcilerOpts...,
	)

	streakHandler := handlers.NewStreakHandler(engine, srv.Validator, deps.clock, logger)
	billingHandler := handlers.NewBillingHandler(catalog, registry.Checkout, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(reconciler, cfg.Server.WebhookMaxBodyBytes, logger)

	srv.Metrics = tel
	srv.HealthProbes = deps.probes
	srv.HealthNotes = catalog.Missing
	srv.APIRouteRegistrars = []core.RouteRegistrar{
		streakHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	}
	// Stripe dashboards are often configured with the bare /webhook path.
	srv.RootRouteRegistrars = []core.RouteRegistrar{webhookHandler.RegisterRoutes}

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, collector *metrics.Collector, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	metricsDone := make(chan struct{})
	if collector != nil {
		go func() {
			defer close(metricsDone)
			collector.Run(metricsCtx, metricsFlushInterval)
		}()
	} else {
		close(metricsDone)
	}
	// Run flushes once more after cancellation.
	srv.OnShutdown(func(ctx context.Context) error {
		stopMetrics()
		select {
		case <-metricsDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			stopMetrics()
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (metrics, DB pool).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the given level. Every line carries
// the service name so shared log groups can be filtered per deployment.
func newLogger(w io.Writer, level, service string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler).With("service", service)
}
