package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/news"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLastDates struct {
	dates map[string]string
	calls int
}

func (f *fakeLastDates) LastDates(_ context.Context, codes []string) (map[string]string, error) {
	f.calls++
	out := map[string]string{}
	for _, c := range codes {
		if d, ok := f.dates[c]; ok {
			out[c] = d
		}
	}
	return out, nil
}

func fixedNow() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }

func newResolver(store LastDatesStore) *Resolver {
	r := NewResolver(store, 10, zap.NewNop())
	r.now = fixedNow
	return r
}

func TestResolve_StoredDateAndFloor(t *testing.T) {
	r := newResolver(&fakeLastDates{dates: map[string]string{"ALK": "15.03.2023"}})

	wms, err := r.Resolve(context.Background(), []string{"ALK", "KMB"})
	require.NoError(t, err)
	assert.Equal(t, []models.Watermark{
		{StockCode: "ALK", LastDate: "2023-03-15"},
		{StockCode: "KMB", LastDate: "2014-06-10"},
	}, wms)
}

func TestResolve_PreservesInputOrder(t *testing.T) {
	r := newResolver(&fakeLastDates{dates: map[string]string{"ZAS": "01.02.2024", "ALK": "02.02.2024"}})

	wms, err := r.Resolve(context.Background(), []string{"ZAS", "TEL", "ALK"})
	require.NoError(t, err)
	require.Len(t, wms, 3)
	assert.Equal(t, "ZAS", wms[0].StockCode)
	assert.Equal(t, "TEL", wms[1].StockCode)
	assert.Equal(t, "ALK", wms[2].StockCode)
	assert.Equal(t, "2024-02-02", wms[2].LastDate)
}

func TestResolve_Idempotent(t *testing.T) {
	store := &fakeLastDates{dates: map[string]string{"ALK": "15.03.2023"}}
	r := newResolver(store)
	codes := []string{"ALK", "KMB", "TEL"}

	first, err := r.Resolve(context.Background(), codes)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), codes)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.calls, "one aggregation per resolve")
}

func TestResolve_UnparsableStoredDateUsesFloor(t *testing.T) {
	r := newResolver(&fakeLastDates{dates: map[string]string{"ALK": "2023-03-15"}})

	wms, err := r.Resolve(context.Background(), []string{"ALK"})
	require.NoError(t, err)
	assert.Equal(t, "2014-06-10", wms[0].LastDate)
}

type fakeFetcher struct {
	started  atomic.Int32
	barrier  int32 // when > 0, every call waits until this many calls started
	fail     map[string]bool
	empty    map[string]bool
	mu       sync.Mutex
	requests map[string][2]time.Time
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error) {
	f.started.Add(1)
	if f.barrier > 0 {
		deadline := time.Now().Add(2 * time.Second)
		for f.started.Load() < f.barrier {
			if time.Now().After(deadline) {
				return nil, errors.New("peers never started")
			}
			time.Sleep(time.Millisecond)
		}
	}
	f.mu.Lock()
	if f.requests == nil {
		f.requests = map[string][2]time.Time{}
	}
	f.requests[code] = [2]time.Time{from, to}
	f.mu.Unlock()

	if f.fail[code] {
		return nil, errors.New("all 5 attempts failed")
	}
	if f.empty[code] {
		return nil, nil
	}
	return []models.TradingRecord{
		{StockCode: code, Date: from.AddDate(0, 0, 1), LastTradePrice: decimal.NewFromInt(100), Volume: 10},
		{StockCode: code, Date: from.AddDate(0, 0, 2), LastTradePrice: decimal.NewFromInt(101), Volume: 5},
	}, nil
}

type fakeRecordStore struct {
	mu      sync.Mutex
	batches map[string]int
	err     error
}

func (s *fakeRecordStore) InsertMany(_ context.Context, recs []models.TradingRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.batches == nil {
		s.batches = map[string]int{}
	}
	s.batches[recs[0].StockCode]++
	return len(recs), nil
}

func wms(codes ...string) []models.Watermark {
	out := make([]models.Watermark, len(codes))
	for i, c := range codes {
		out[i] = models.Watermark{StockCode: c, LastDate: "2024-01-01"}
	}
	return out
}

func TestOrchestrator_AllLaunchedTogether(t *testing.T) {
	codes := []string{"ALK", "KMB", "TEL", "STB", "GRNT", "MPT", "ZAS", "TTK", "REPL", "MTUR", "KOMU", "UNI"}
	fetcher := &fakeFetcher{barrier: int32(len(codes))}
	store := &fakeRecordStore{}
	o := NewOrchestrator(fetcher, store, zap.NewNop())
	o.now = fixedNow

	sum := o.Run(context.Background(), wms(codes...))
	assert.Equal(t, Summary{Instruments: len(codes), Fetched: 2 * len(codes), Inserted: 2 * len(codes)}, sum)

	for _, c := range codes {
		assert.Equal(t, 1, store.batches[c], "one bulk insert for %s", c)
		assert.Equal(t, fixedNow(), fetcher.requests[c][1])
		assert.Equal(t, "2024-01-01", fetcher.requests[c][0].Format(time.DateOnly))
	}
}

func TestOrchestrator_FailureAndEmptyResultsIsolated(t *testing.T) {
	fetcher := &fakeFetcher{
		fail:  map[string]bool{"KMB": true},
		empty: map[string]bool{"TEL": true},
	}
	store := &fakeRecordStore{}
	o := NewOrchestrator(fetcher, store, zap.NewNop())

	sum := o.Run(context.Background(), wms("ALK", "KMB", "TEL"))
	assert.Equal(t, 3, sum.Instruments)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Inserted)

	written := make([]string, 0, len(store.batches))
	for c := range store.batches {
		written = append(written, c)
	}
	sort.Strings(written)
	assert.Equal(t, []string{"ALK"}, written)
}

func TestOrchestrator_BadWatermarkAndInsertError(t *testing.T) {
	store := &fakeRecordStore{err: errors.New("connection reset")}
	o := NewOrchestrator(&fakeFetcher{}, store, zap.NewNop())

	sum := o.Run(context.Background(), []models.Watermark{
		{StockCode: "ALK", LastDate: "15.03.2023"},
		{StockCode: "KMB", LastDate: "2024-01-01"},
	})
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 0, sum.Inserted)
}

type fakeCompanies struct{ codes []string }

func (f fakeCompanies) Companies(context.Context) ([]string, error) { return f.codes, nil }

type fakeRuns struct {
	mu   sync.Mutex
	runs []models.IngestRun
}

func (f *fakeRuns) Record(_ context.Context, run *models.IngestRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return nil
}

type fakeNotifier struct{ msgs []string }

func (f *fakeNotifier) Send(msg string) { f.msgs = append(f.msgs, msg) }

type blockingNews struct {
	release chan struct{}
	entered chan struct{}
}

func (b *blockingNews) Run(ctx context.Context) (news.Result, error) {
	close(b.entered)
	<-b.release
	return news.Result{Pages: 1, Documents: 3, Accepted: 2, Dropped: 1, Stored: 2}, nil
}

func TestService_RunTradingRecordsRun(t *testing.T) {
	runs := &fakeRuns{}
	notifier := &fakeNotifier{}
	store := &fakeRecordStore{}
	svc := NewService(ServiceDeps{
		Companies:    fakeCompanies{codes: []string{"ALK", "KMB"}},
		Resolver:     newResolver(&fakeLastDates{}),
		Orchestrator: NewOrchestrator(&fakeFetcher{fail: map[string]bool{"KMB": true}}, store, zap.NewNop()),
		Runs:         runs,
		Notifier:     notifier,
	}, zap.NewNop())

	run, err := svc.RunTrading(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunKindTrading, run.Kind)
	assert.Equal(t, 2, run.Units)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Persisted)
	assert.Nil(t, run.Error)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	require.Len(t, runs.runs, 1)
	assert.Equal(t, run.ID, runs.runs[0].ID)
	require.Len(t, notifier.msgs, 1)
	assert.Contains(t, notifier.msgs[0], "trading ingestion done")
}

func TestService_RunTradingCodesOverride(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc := NewService(ServiceDeps{
		Companies:    fakeCompanies{codes: []string{"ALK", "KMB", "TEL"}},
		Resolver:     newResolver(&fakeLastDates{}),
		Orchestrator: NewOrchestrator(fetcher, &fakeRecordStore{}, zap.NewNop()),
	}, zap.NewNop())

	run, err := svc.RunTrading(context.Background(), []string{"TEL"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Units)
	assert.Len(t, fetcher.requests, 1)
}

func TestService_OverlappingRunRejected(t *testing.T) {
	nr := &blockingNews{release: make(chan struct{}), entered: make(chan struct{})}
	runs := &fakeRuns{}
	svc := NewService(ServiceDeps{News: nr, Runs: runs}, zap.NewNop())

	done := make(chan *models.IngestRun)
	go func() {
		run, _ := svc.RunNews(context.Background())
		done <- run
	}()
	<-nr.entered

	_, err := svc.RunNews(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(nr.release)
	run := <-done
	require.NotNil(t, run)
	assert.Equal(t, models.RunKindNews, run.Kind)
	assert.Equal(t, 3, run.Units)
	assert.Equal(t, 2, run.Fetched)
	assert.Equal(t, 2, run.Persisted)
	assert.Len(t, runs.runs, 1)
}

func TestService_StartClaimsSlotBeforeRunning(t *testing.T) {
	svc := NewService(ServiceDeps{
		Companies:    fakeCompanies{codes: []string{"ALK"}},
		Resolver:     newResolver(&fakeLastDates{}),
		Orchestrator: NewOrchestrator(&fakeFetcher{}, &fakeRecordStore{}, zap.NewNop()),
	}, zap.NewNop())

	run, err := svc.StartTrading(nil)
	require.NoError(t, err)

	// claimed but not yet executing: every other start is rejected
	_, err = svc.StartTrading([]string{"KMB"})
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = svc.RunTrading(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	// the news slot is independent
	newsRun, err := svc.StartNews()
	require.NoError(t, err)
	assert.NotNil(t, newsRun)

	rec, err := run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Units)

	_, err = svc.StartTrading(nil)
	assert.NoError(t, err, "slot released after the run")
}
