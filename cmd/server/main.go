package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/mse-backend/internal/analysis"
	"github.com/kjannette/mse-backend/internal/api"
	"github.com/kjannette/mse-backend/internal/app"
	"github.com/kjannette/mse-backend/internal/auth"
	"github.com/kjannette/mse-backend/internal/config"
	"github.com/kjannette/mse-backend/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║      MSE Analytics Backend v0.3      ║
║                                      ║
╚══════════════════════════════════════╝
`

const sessionMaxAge = 2 * time.Hour

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(logger); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	cfg.Log(logger)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// 1. API server
	srv := api.NewServer(api.Deps{
		DB:         a.Pool,
		Cache:      a.Cache,
		Trading:    a.Trading,
		News:       a.News,
		Runs:       a.Runs,
		Companies:  a.Companies,
		Liquid:     a.MSE,
		Watermarks: a.Resolver,
		Technical:  analysis.NewTechnical(a.Trading),
		Sentiment:  analysis.NewSentiment(cfg.SentimentCSVPath),
		Ingest:     a.Ingest,
		Auth:       auth.NewService(a.Users, cfg.SessionSecret, sessionMaxAge),
	}, api.Options{
		Port:       cfg.APIPort,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server error", zap.Error(err))
		}
	}()

	// 2. Ingest scheduler
	var sched *scheduler.IngestScheduler
	if cfg.IngestCron != "" {
		sched = scheduler.NewIngestScheduler(a.Ingest, scheduler.IngestSchedulerConfig{
			Spec:       cfg.IngestCron,
			RunOnStart: cfg.IngestOnStartup,
		}, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal("scheduler start failed", zap.Error(err))
		}
	} else {
		logger.Info("scheduler skipped, no INGEST_CRON configured")
	}

	logger.Info("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gracefully")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
