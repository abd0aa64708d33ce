package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type HistoryFetcher interface {
	FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error)
}

type RecordStore interface {
	InsertMany(ctx context.Context, records []models.TradingRecord) (int, error)
}

// Summary counts the outcome of one orchestrator run.
type Summary struct {
	Instruments int `json:"instruments"`
	Failed      int `json:"failed"`
	Fetched     int `json:"fetched"`
	Inserted    int `json:"inserted"`
}

// Orchestrator fetches every instrument concurrently and stores each
// instrument's records with one bulk insert. Concurrency towards the
// exchange is bounded by the fetcher's per-host connection cap.
type Orchestrator struct {
	fetcher HistoryFetcher
	store   RecordStore
	now     func() time.Time
	logger  *zap.Logger
}

func NewOrchestrator(fetcher HistoryFetcher, store RecordStore, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		now:     time.Now,
		logger:  logger.Named("orchestrator"),
	}
}

// Run launches one fetch per watermark, waits for all of them, then inserts
// each non-empty result. A failed instrument never stops its peers.
func (o *Orchestrator) Run(ctx context.Context, watermarks []models.Watermark) Summary {
	today := o.now()
	results := make([][]models.TradingRecord, len(watermarks))
	var failed atomic.Int32

	var g errgroup.Group
	for i, wm := range watermarks {
		g.Go(func() error {
			from, err := time.Parse(time.DateOnly, wm.LastDate)
			if err != nil {
				o.logger.Error("bad watermark", zap.String("code", wm.StockCode),
					zap.String("last_date", wm.LastDate), zap.Error(err))
				failed.Add(1)
				return nil
			}
			recs, err := o.fetcher.FetchHistory(ctx, wm.StockCode, from, today)
			if err != nil {
				o.logger.Warn("instrument abandoned", zap.String("code", wm.StockCode), zap.Error(err))
				failed.Add(1)
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	g.Wait()

	sum := Summary{Instruments: len(watermarks)}
	for i, recs := range results {
		if len(recs) == 0 {
			continue
		}
		sum.Fetched += len(recs)
		n, err := o.store.InsertMany(ctx, recs)
		if err != nil {
			o.logger.Error("bulk insert failed", zap.String("code", watermarks[i].StockCode), zap.Error(err))
			failed.Add(1)
			sum.Inserted += n
			continue
		}
		sum.Inserted += n
		o.logger.Info("inserted records",
			zap.String("code", watermarks[i].StockCode),
			zap.Int("fetched", len(recs)),
			zap.Int("inserted", n))
	}
	sum.Failed = int(failed.Load())
	return sum
}
