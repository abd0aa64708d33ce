package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/repository"
	"go.uber.org/zap"
)

// LastDatesStore reports the most recent stored date per code, formatted
// with repository.StoredDateLayout. Codes with no rows are absent.
type LastDatesStore interface {
	LastDates(ctx context.Context, codes []string) (map[string]string, error)
}

// Resolver decides from which date each instrument must be fetched.
type Resolver struct {
	store         LastDatesStore
	lookbackYears int
	now           func() time.Time
	logger        *zap.Logger
}

func NewResolver(store LastDatesStore, lookbackYears int, logger *zap.Logger) *Resolver {
	if lookbackYears <= 0 {
		lookbackYears = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:         store,
		lookbackYears: lookbackYears,
		now:           time.Now,
		logger:        logger.Named("watermark"),
	}
}

// Resolve returns one watermark per code, in input order. Codes without
// stored data start at the lookback floor.
func (r *Resolver) Resolve(ctx context.Context, codes []string) ([]models.Watermark, error) {
	last, err := r.store.LastDates(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("last dates: %w", err)
	}

	floor := r.now().AddDate(-r.lookbackYears, 0, 0).Format(time.DateOnly)
	out := make([]models.Watermark, 0, len(codes))
	for _, code := range codes {
		wm := models.Watermark{StockCode: code, LastDate: floor}
		if stored, ok := last[code]; ok {
			d, err := time.Parse(repository.StoredDateLayout, stored)
			if err != nil {
				r.logger.Warn("unparsable stored date, using floor",
					zap.String("code", code), zap.String("stored", stored))
			} else {
				wm.LastDate = d.Format(time.DateOnly)
			}
		}
		out = append(out, wm)
	}
	return out, nil
}
