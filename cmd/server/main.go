package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MailFlow/internal/api"
	"MailFlow/internal/backend"
	"MailFlow/internal/config"
	"MailFlow/internal/executor"
	"MailFlow/internal/metrics"
	"MailFlow/internal/render"
	"MailFlow/internal/report"
	"MailFlow/internal/scheduler"
	"MailFlow/internal/validate"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Backend Client
	// ------------------------------------------------
	store := backend.New(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Recipient Validation (process-wide MX cache)
	// ------------------------------------------------
	mxCache := validate.NewMXCache()
	validator := validate.New(mxCache, logger, validate.Options{
		Workers:       cfg.ValidatorWorkers,
		SkipMX:        cfg.ValidatorSkipMX,
		LookupTimeout: cfg.MXLookupTimeout,
	})

	// ------------------------------------------------
	// Run Report Mailer
	// ------------------------------------------------
	var reporter report.Reporter
	if cfg.ReportSMTPHost != "" && cfg.ReportTo != "" {
		reporter = report.NewMailer(
			cfg.ReportSMTPHost,
			cfg.ReportSMTPPort,
			cfg.ReportSMTPUser,
			cfg.ReportSMTPPass,
			cfg.ReportFrom,
			cfg.ReportTo,
			logger,
		)
	}

	// ------------------------------------------------
	// Workflow Executor
	// ------------------------------------------------
	resolver := executor.NewResolver(store, validator, logger)
	exec := executor.New(store, resolver, render.New(), reporter, logger, executor.Options{
		RunTimeout:     cfg.RunTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})

	// ------------------------------------------------
	// Scheduler
	// ------------------------------------------------
	runner := scheduler.NewRunner(store, exec, logger, cfg.ScheduleLockLease)
	loop := scheduler.NewLoop(store, runner, cfg.SchedulerInterval, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Start(ctx)
	}()

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewRouter(exec, cfg.APIRequests, logger),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	// Wait for the scheduler and its in-flight runs
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
