package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjannette/mse-backend/internal/ingest"
	"github.com/kjannette/mse-backend/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("scheduled ingestion already running")

// Runner executes the ingestion pipelines.
type Runner interface {
	RunTrading(ctx context.Context, codes []string) (*models.IngestRun, error)
	RunNews(ctx context.Context) (*models.IngestRun, error)
}

type IngestSchedulerConfig struct {
	Spec       string // standard 5-field cron expression or descriptor
	RunOnStart bool
}

// IngestScheduler triggers a trading run followed by a news run on a cron
// schedule. A trigger that fires while a run is active is skipped, not
// queued.
type IngestScheduler struct {
	runner Runner
	cfg    IngestSchedulerConfig
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	busy    atomic.Bool
}

func NewIngestScheduler(runner Runner, cfg IngestSchedulerConfig, logger *zap.Logger) *IngestScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestScheduler{runner: runner, cfg: cfg, logger: logger.Named("scheduler")}
}

func (s *IngestScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("already running")
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger.Sugar()})))
	if _, err := c.AddFunc(s.cfg.Spec, s.scheduled); err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Spec, err)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.running = true
	c.Start()

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduled()
		}()
	}

	s.logger.Info("started", zap.String("spec", s.cfg.Spec), zap.Time("next_run", s.nextRunLocked()))
	return nil
}

// Stop halts the schedule, cancels an active run and waits for it.
func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.cron.Stop()
	s.cancel()
	s.mu.Unlock()

	<-done.Done()
	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *IngestScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *IngestScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *IngestScheduler) nextRunLocked() time.Time {
	if s.cron == nil || !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow triggers a run outside the schedule and waits for it.
func (s *IngestScheduler) RunNow(ctx context.Context) error {
	s.logger.Info("manual ingestion triggered")
	return s.runAll(ctx)
}

func (s *IngestScheduler) scheduled() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.runAll(ctx); errors.Is(err, ErrBusy) {
		s.logger.Warn("previous run still active, trigger skipped")
	}
}

func (s *IngestScheduler) runAll(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	var errs []error
	if _, err := s.runner.RunTrading(ctx, nil); err != nil && !errors.Is(err, ingest.ErrRunInProgress) {
		errs = append(errs, fmt.Errorf("trading: %w", err))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := s.runner.RunNews(ctx); err != nil && !errors.Is(err, ingest.ErrRunInProgress) {
		errs = append(errs, fmt.Errorf("news: %w", err))
	}
	return errors.Join(errs...)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
