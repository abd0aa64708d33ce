// Package cache keeps the list of listed company codes between runs.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrNoCompanies = errors.New("no company codes found")

// Store holds a cached code list. Load returns nil without error when
// nothing (or nothing fresh) is cached.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, codes []string) error
}

// Pinger reports whether a store's backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Fetcher interface {
	FetchCompanies(ctx context.Context) ([]string, error)
}

// Companies serves the company code list from the store, scraping the
// exchange only on a cache miss.
type Companies struct {
	store   Store
	fetcher Fetcher
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewCompanies(store Store, fetcher Fetcher, logger *zap.Logger) *Companies {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Companies{store: store, fetcher: fetcher, logger: logger.Named("companies")}
}

func (c *Companies) Companies(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("cache read failed, refetching", zap.Error(err))
	} else if len(codes) > 0 {
		return codes, nil
	}
	return c.refresh(ctx)
}

// Refresh scrapes the list again and replaces the cached copy.
func (c *Companies) Refresh(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Companies) refresh(ctx context.Context) ([]string, error) {
	codes, err := c.fetcher.FetchCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch companies: %w", err)
	}
	if len(codes) == 0 {
		return nil, ErrNoCompanies
	}
	if err := c.store.Save(ctx, codes); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
	c.logger.Info("company list refreshed", zap.Int("codes", len(codes)))
	return codes, nil
}
