// Command ingest runs the trading and/or news ingestion once and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjannette/mse-backend/internal/app"
	"github.com/kjannette/mse-backend/internal/config"
	"github.com/kjannette/mse-backend/internal/models"
)

func main() {
	job := flag.String("job", "all", "what to ingest: trading, news or all")
	codesFlag := flag.String("codes", "", "comma separated stock codes (default: every listed company)")
	flag.Parse()

	if *job != "trading" && *job != "news" && *job != "all" {
		fmt.Fprintf(os.Stderr, "unknown -job %q\n", *job)
		flag.Usage()
		os.Exit(2)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	var runs []*models.IngestRun
	failed := false
	if *job == "trading" || *job == "all" {
		run, err := a.Ingest.RunTrading(ctx, parseCodes(*codesFlag))
		if err != nil {
			logger.Error("trading ingestion failed", zap.Error(err))
			failed = true
		}
		runs = append(runs, run)
	}
	if (*job == "news" || *job == "all") && ctx.Err() == nil {
		run, err := a.Ingest.RunNews(ctx)
		if err != nil {
			logger.Error("news ingestion failed", zap.Error(err))
			failed = true
		}
		runs = append(runs, run)
	}

	for _, r := range runs {
		if r == nil {
			continue
		}
		logger.Info("run finished",
			zap.String("kind", r.Kind),
			zap.Int("units", r.Units),
			zap.Int("failed", r.Failed),
			zap.Int("fetched", r.Fetched),
			zap.Int("persisted", r.Persisted),
			zap.Duration("duration", r.Duration()),
		)
	}
	if failed {
		a.Close()
		os.Exit(1)
	}
}

func parseCodes(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}
