// Package app wires the database, upstream clients and pipelines shared by
// the API server and the one-shot ingest command.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kjannette/mse-backend/internal/cache"
	"github.com/kjannette/mse-backend/internal/config"
	"github.com/kjannette/mse-backend/internal/db"
	"github.com/kjannette/mse-backend/internal/external"
	"github.com/kjannette/mse-backend/internal/ingest"
	"github.com/kjannette/mse-backend/internal/news"
	"github.com/kjannette/mse-backend/internal/notifications"
	"github.com/kjannette/mse-backend/internal/pdftext"
	"github.com/kjannette/mse-backend/internal/repository"
)

type App struct {
	Pool      *pgxpool.Pool
	Trading   *repository.TradingRepo
	News      *repository.NewsRepo
	Users     *repository.UserRepo
	Runs      *repository.IngestRunRepo
	MSE       *external.MSEClient
	Companies *cache.Companies
	Cache     cache.Pinger
	Resolver  *ingest.Resolver
	Ingest    *ingest.Service
	Notify    *notifications.Sender

	closers []func()
}

// New connects to Postgres, applies the schema and builds every component.
// Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	dbLog := logger.Named("db")
	dbLog.Info("connecting", zap.String("host", cfg.DBHost), zap.Int("port", cfg.DBPort), zap.String("name", cfg.DBName))
	pool, err := db.Connect(cfg.DSN(), 20)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	a := &App{Pool: pool}
	a.closers = append(a.closers, func() {
		pool.Close()
		dbLog.Info("connection pool closed")
	})

	if err := db.TestConnection(pool, dbLog); err != nil {
		a.Close()
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.Trading = repository.NewTradingRepo(pool)
	a.News = repository.NewNewsRepo(pool)
	a.Users = repository.NewUserRepo(pool)
	a.Runs = repository.NewIngestRunRepo(pool)

	a.MSE = external.NewMSEClient(external.MSEOptions{
		BaseURL:           cfg.MSEBaseURL,
		HistoryPath:       cfg.MSEHistoryPath,
		MaxConnsPerHost:   cfg.MSEMaxConnsPerHost,
		RetryAttempts:     cfg.MSERetryAttempts,
		RetryDelay:        cfg.MSERetryDelay,
		RequestsPerSecond: cfg.MSERequestsPerSecond,
		WindowDays:        cfg.MSEWindowDays,
	}, logger)

	store := a.companyStore(ctx, cfg, logger)
	a.Companies = cache.NewCompanies(store, a.MSE, logger)
	if p, ok := store.(cache.Pinger); ok {
		a.Cache = p
	}
	a.Resolver = ingest.NewResolver(a.Trading, cfg.MSELookbackYears, logger)
	a.Notify = notifications.NewSender(cfg.WebhookURL, cfg.AppName, logger)

	csv, err := news.OpenCSV(cfg.NewsCSVPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("news csv: %w", err)
	}
	newsClient := external.NewNewsClient(external.NewsOptions{
		APIURL:        cfg.NewsAPIURL,
		AttachmentURL: cfg.NewsAttachmentURL,
		StartDate:     cfg.NewsStartDate,
	}, logger)
	pipeline := news.NewPipeline(newsClient, csv, a.News, pdftext.FirstPage, news.Options{
		Workers:   cfg.NewsWorkers,
		Streaming: cfg.NewsStreaming,
	}, logger)

	a.Ingest = ingest.NewService(ingest.ServiceDeps{
		Companies:    a.Companies,
		Resolver:     a.Resolver,
		Orchestrator: ingest.NewOrchestrator(a.MSE, a.Trading, logger),
		News:         pipeline,
		Runs:         a.Runs,
		Notifier:     a.Notify,
	}, logger)

	return a, nil
}

// companyStore prefers Redis when configured and reachable, else the file.
func (a *App) companyStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Store {
	fileStore := cache.NewFileStore(cfg.CompaniesCachePath, cfg.CompaniesCacheTTL)
	if cfg.RedisAddr == "" {
		return fileStore
	}

	rlog := logger.Named("redis")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rlog.Warn("unreachable, caching company list on disk", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		client.Close()
		return fileStore
	}

	rs := cache.NewRedisStore(client, cfg.CompaniesCacheTTL)
	a.closers = append(a.closers, func() {
		if err := rs.Close(); err != nil {
			rlog.Warn("close failed", zap.Error(err))
		}
	})
	rlog.Info("company list cached in redis", zap.String("addr", cfg.RedisAddr))
	return rs
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
