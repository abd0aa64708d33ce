// Package ingest resolves watermarks, fetches price history concurrently
// and records every ingestion run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/news"
	"go.uber.org/zap"
)

var ErrRunInProgress = errors.New("ingestion run already in progress")

type CompanySource interface {
	Companies(ctx context.Context) ([]string, error)
}

type NewsRunner interface {
	Run(ctx context.Context) (news.Result, error)
}

type RunStore interface {
	Record(ctx context.Context, run *models.IngestRun) error
}

type Notifier interface {
	Send(msg string)
}

type ServiceDeps struct {
	Companies    CompanySource
	Resolver     *Resolver
	Orchestrator *Orchestrator
	News         NewsRunner
	Runs         RunStore // optional
	Notifier     Notifier // optional
}

// Service runs the trading and news pipelines. At most one run of each
// kind is active at a time; a second request fails with ErrRunInProgress.
type Service struct {
	deps    ServiceDeps
	logger  *zap.Logger
	trading atomic.Bool
	news    atomic.Bool
}

func NewService(deps ServiceDeps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger.Named("ingest")}
}

// RunFunc performs a run whose slot has already been claimed.
type RunFunc func(ctx context.Context) (*models.IngestRun, error)

// RunTrading ingests price history for codes, or for every listed company
// when codes is empty.
func (s *Service) RunTrading(ctx context.Context, codes []string) (*models.IngestRun, error) {
	run, err := s.StartTrading(codes)
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

func (s *Service) RunNews(ctx context.Context) (*models.IngestRun, error) {
	run, err := s.StartNews()
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

// StartTrading claims the trading slot and returns the run to execute. It
// fails with ErrRunInProgress when a trading run is active. The returned
// function must be called exactly once; it releases the slot when done.
func (s *Service) StartTrading(codes []string) (RunFunc, error) {
	if !s.trading.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return func(ctx context.Context) (*models.IngestRun, error) {
		defer s.trading.Store(false)
		return s.runTrading(ctx, codes)
	}, nil
}

// StartNews is StartTrading for the news pipeline.
func (s *Service) StartNews() (RunFunc, error) {
	if !s.news.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return func(ctx context.Context) (*models.IngestRun, error) {
		defer s.news.Store(false)
		return s.runNews(ctx)
	}, nil
}

func (s *Service) runTrading(ctx context.Context, codes []string) (*models.IngestRun, error) {
	run := s.newRun(models.RunKindTrading)
	err := func() error {
		if len(codes) == 0 {
			var err error
			if codes, err = s.deps.Companies.Companies(ctx); err != nil {
				return fmt.Errorf("companies: %w", err)
			}
		}
		wms, err := s.deps.Resolver.Resolve(ctx, codes)
		if err != nil {
			return fmt.Errorf("watermarks: %w", err)
		}
		s.logger.Info("trading ingestion started", zap.Int("instruments", len(wms)))

		sum := s.deps.Orchestrator.Run(ctx, wms)
		run.Units = sum.Instruments
		run.Failed = sum.Failed
		run.Fetched = sum.Fetched
		run.Persisted = sum.Inserted
		return nil
	}()

	s.finish(run, err)
	return run, err
}

func (s *Service) runNews(ctx context.Context) (*models.IngestRun, error) {
	run := s.newRun(models.RunKindNews)
	s.logger.Info("news ingestion started")
	res, err := s.deps.News.Run(ctx)
	run.Units = res.Documents
	run.Failed = res.Failed
	run.Fetched = res.Accepted
	run.Persisted = res.Stored
	if err == nil && res.Truncated {
		s.logger.Warn("news listing ended on an error; later pages were not read")
	}

	s.finish(run, err)
	return run, err
}

func (s *Service) newRun(kind string) *models.IngestRun {
	return &models.IngestRun{ID: uuid.New(), Kind: kind, StartedAt: time.Now().UTC()}
}

func (s *Service) finish(run *models.IngestRun, runErr error) {
	run.FinishedAt = time.Now().UTC()
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	log := s.logger.With(
		zap.String("run_id", run.ID.String()),
		zap.String("kind", run.Kind),
		zap.Int("units", run.Units),
		zap.Int("failed", run.Failed),
		zap.Int("fetched", run.Fetched),
		zap.Int("persisted", run.Persisted),
		zap.Duration("duration", run.Duration()),
	)
	if runErr != nil {
		log.Error("ingestion run failed", zap.Error(runErr))
	} else {
		log.Info("ingestion run complete")
	}

	if s.deps.Runs != nil {
		// Recorded even when ctx is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Runs.Record(ctx, run); err != nil {
			log.Error("record ingestion run", zap.Error(err))
		}
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.Send(summaryMessage(run))
	}
}

func summaryMessage(run *models.IngestRun) string {
	if run.Error != nil {
		return fmt.Sprintf("%s ingestion failed after %s: %s",
			run.Kind, run.Duration().Round(time.Second), *run.Error)
	}
	return fmt.Sprintf("%s ingestion done in %s: %d units, %d failed, %d fetched, %d stored",
		run.Kind, run.Duration().Round(time.Second), run.Units, run.Failed, run.Fetched, run.Persisted)
}
