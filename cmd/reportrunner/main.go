// reportrunner is the HTTP server for browser-automated report
// downloads: manual and scheduled runs, live status streaming, saved
// configurations and a download history log.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"reportrunner/internal/api"
	"reportrunner/internal/browser"
	"reportrunner/internal/config"
	"reportrunner/internal/configstore"
	"reportrunner/internal/health"
	"reportrunner/internal/history"
	"reportrunner/internal/notify"
	"reportrunner/internal/observability"
	"reportrunner/internal/run"
	"reportrunner/internal/runtime"
	"reportrunner/internal/scheduler"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := serve(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcCfg := config.LoadServiceConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	state := runtime.New()
	store := configstore.New(fs, svcCfg.ConfigFile)
	historyLog := history.New(fs, svcCfg.HistoryFile)

	notifier := notify.New(notify.Config{
		URL:        svcCfg.CallbackURL,
		SigningKey: svcCfg.CallbackKey,
	})
	if notifier.Enabled() {
		slog.Info("Run callbacks enabled", "url", svcCfg.CallbackURL)
	}

	runner := run.NewRunner(run.Config{
		State: state,
		Factory: browser.NewFactory(browser.Config{
			Headless:      svcCfg.Headless,
			LoginAttempts: svcCfg.LoginRetry,
		}),
		History:   historyLog,
		Notifier:  notifier,
		Metrics:   metrics,
		Fs:        fs,
		BasePath:  svcCfg.DownloadBasePath,
		OTPSecret: svcCfg.OTPSecret,
		Timeout:   svcCfg.RunTimeout,
	})

	sched := scheduler.New(ctx, run.NewScheduledFire(state, store, runner), scheduler.Config{}, slog.Default())

	healthChecker := health.NewChecker(store)

	handler := api.NewHandler(api.HandlerConfig{
		State:     state,
		Store:     store,
		Runner:    runner,
		Scheduler: sched,
		History:   historyLog,
		Health:    healthChecker,
		Metrics:   metrics,
		Settings: api.AdvancedSettings{
			OTPSecretConfigured: svcCfg.OTPSecret != "",
			DownloadBasePath:    svcCfg.DownloadBasePath,
			ConfigFile:          svcCfg.ConfigFile,
			HistoryFile:         svcCfg.HistoryFile,
		},
	})

	router := api.NewRouter(api.RouterConfig{
		Handler: handler,
		Metrics: metrics,
		APIKey:  svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API key configured")
	}
	if svcCfg.OTPSecret == "" {
		slog.Warn("No OTP secret configured - download runs will fail at login")
	}

	// Create API server. WriteTimeout stays zero: the status stream is
	// a long-lived response.
	apiServer := &http.Server{
		Addr:        ":" + svcCfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

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

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections,
	// finish in-flight requests and streams
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop the scheduler and drain the callback notifier.
	// Pending schedules are in-memory only and are lost here.
	cancel()
	sched.Wait()

	notifierCtx, notifierCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer notifierCancel()
	if err := notifier.Close(notifierCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// An in-flight download run is fire-and-forget and cannot be
	// cancelled; it dies with the process.
	if state.Running() {
		slog.Warn("A download run was still active at shutdown")
	}

	slog.Info("Shutdown complete")
	return nil
}
