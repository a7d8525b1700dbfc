// gateway-service is the HTTP API server that stages, submits and tracks
// simulation jobs on a remote compute host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simgateway/internal/api"
	"simgateway/internal/callback"
	"simgateway/internal/config"
	"simgateway/internal/health"
	"simgateway/internal/lifecycle"
	"simgateway/internal/observability"
	"simgateway/internal/remote"
	"simgateway/internal/scheduler"
	"simgateway/internal/source"
	"simgateway/internal/staging"
	"simgateway/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default $GATEWAY_CONFIG)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Service.LogLevel)); err != nil {
		return fmt.Errorf("service.log_level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	repo, err := store.Open(ctx, cfg.Service.DatabasePath)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cfg.Service.DatabasePath != "" {
		slog.Info("Using SQLite job store", "path", cfg.Service.DatabasePath)
	} else {
		slog.Warn("Using in-memory job store - jobs are lost on restart")
	}

	dialer, err := remote.NewDialer(cfg.Remote)
	if err != nil {
		return err
	}
	slog.Info("Remote transport configured",
		"transport", cfg.Remote.Transport,
		"host", cfg.Remote.Host,
		"simulationRoot", cfg.Remote.SimulationRoot,
	)

	// Create callback dispatcher
	eventDispatcher := callback.NewMemory(cfg.Notify, metrics)

	patterns, err := scheduler.ParsePatterns(cfg.Remote.BackendPatterns)
	if err != nil {
		return err
	}
	deps := lifecycle.Deps{
		Dialer:     dialer,
		Repository: repo,
		Pipeline:   staging.NewPipeline(source.NewResolver(cfg.Storage), cfg.Service.ScratchDir),
		Patterns:   patterns,
		Metrics:    metrics,
	}
	if notifier := callback.NewStatusNotifier(eventDispatcher, cfg.Notify); notifier != nil {
		deps.Notifier = notifier
		slog.Info("Status callbacks enabled", "url", cfg.Notify.URL)
	}
	manager := lifecycle.NewManager(cfg.Remote, deps)

	// The store must be reachable to serve anything; an unreachable compute
	// host still leaves job CRUD working.
	healthChecker := health.NewChecker(
		health.Check{Name: "store", Checker: repo, Required: true},
		health.Check{Name: "remote", Checker: remote.NewProbe(dialer)},
	)

	router := api.NewRouter(api.RouterConfig{
		Repository:    repo,
		Lifecycle:     manager,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.Service.APIKey,
	})

	if cfg.Service.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no api_key_file configured")
	}

	// Remote actions can run for a long time, so the write timeout has to
	// cover the slowest script plus staging.
	writeTimeout := 10 * time.Minute
	if cfg.Remote.OperationTimeout > 0 {
		writeTimeout = cfg.Remote.OperationTimeout + 30*time.Second
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Service.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", cfg.Service.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.Service.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.Service.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.Service.ShutdownDrainWait)
		time.Sleep(cfg.Service.ShutdownDrainWait)
	}

	// Phase 2: stop accepting connections and let in-flight actions finish
	slog.Info("Starting graceful shutdown")
	shutdown(writeTimeout)

	// Phase 3: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Submitted jobs keep running under the remote scheduler; their status is
	// picked up by the next refresh.
	slog.Info("Shutdown complete")
	return nil
}
