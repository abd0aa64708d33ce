package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/repository"
	"github.com/kjannette/mse-backend/internal/testutil"
)

// uniqueCode keeps test rows apart from real data and from earlier runs.
func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// ---------- TradingRepo ----------

func TestTradingRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewTradingRepo(pool)
	ctx := context.Background()
	code := uniqueCode("T")

	recs := []models.TradingRecord{
		{StockCode: code, Date: day("2023-03-14"), LastTradePrice: decimal.RequireFromString("21000.5"), Volume: 10},
		{StockCode: code, Date: day("2023-03-15"), LastTradePrice: decimal.RequireFromString("21100"), Volume: 4},
	}

	n, err := repo.InsertMany(ctx, recs)
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	// Same (code, date) again is ignored
	n, err = repo.InsertMany(ctx, recs[1:])
	if err != nil {
		t.Fatalf("InsertMany repeat: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on repeat, got %d", n)
	}

	last, err := repo.LastDates(ctx, []string{code, "NOPE"})
	if err != nil {
		t.Fatalf("LastDates: %v", err)
	}
	if last[code] != "15.03.2023" {
		t.Fatalf("expected 15.03.2023, got %q", last[code])
	}
	if _, ok := last["NOPE"]; ok {
		t.Fatal("unexpected date for unknown code")
	}

	got, err := repo.GetRange(ctx, code, day("2023-01-01"), day("2023-12-31"))
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 2 || !got[0].Date.Before(got[1].Date) {
		t.Fatalf("expected 2 rows oldest first, got %+v", got)
	}
	if !got[0].LastTradePrice.Equal(decimal.RequireFromString("21000.5")) {
		t.Fatalf("price mismatch: %s", got[0].LastTradePrice)
	}

	latest, err := repo.GetLatest(ctx, code)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest == nil || latest.Volume != 4 {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	none, err := repo.GetLatest(ctx, "NOPE")
	if err != nil {
		t.Fatalf("GetLatest(missing): %v", err)
	}
	if none != nil {
		t.Fatal("expected nil for missing code")
	}
	t.Logf("TradingRepo: %s stored through %s", code, last[code])
}

// ---------- NewsRepo ----------

func TestNewsRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewNewsRepo(pool)
	ctx := context.Background()
	code := uniqueCode("N")

	doc := &models.NewsDocument{
		DocumentID:      uniqueCode("doc-"),
		PublicationDate: "2024-05-02",
		Title:           "Dividend decision",
		TextContent:     "The assembly approved a dividend.",
		CompanyName:     "Alkaloid AD Skopje",
		CompanyCode:     code,
	}

	isNew, err := repo.InsertOne(ctx, doc)
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if !isNew {
		t.Fatal("expected new document")
	}
	isNew, err = repo.InsertOne(ctx, doc)
	if err != nil {
		t.Fatalf("InsertOne repeat: %v", err)
	}
	if isNew {
		t.Fatal("expected repeat to be ignored")
	}

	docs, err := repo.GetByCompany(ctx, code, 10)
	if err != nil {
		t.Fatalf("GetByCompany: %v", err)
	}
	if len(docs) != 1 || docs[0].PublicationDate != "2024-05-02" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

// ---------- UserRepo ----------

func TestUserRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewUserRepo(pool)
	ctx := context.Background()
	email := uniqueCode("user") + "@example.com"

	u, err := repo.Create(ctx, &models.User{Email: email, Name: "Ana", HashedPassword: "x", Role: "user"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	if _, err := repo.Create(ctx, &models.User{Email: email, Name: "Ana", HashedPassword: "x", Role: "user"}); err != repository.ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.Name != "Ana" {
		t.Fatalf("name mismatch: %s", got.Name)
	}

	if _, err := repo.GetByEmail(ctx, "missing-"+email); err != repository.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------- IngestRunRepo ----------

func TestIngestRunRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewIngestRunRepo(pool)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	run := &models.IngestRun{
		ID:         uuid.New(),
		Kind:       models.RunKindTrading,
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		Units:      3,
		Failed:     1,
		Fetched:    120,
		Persisted:  118,
	}
	if err := repo.Record(ctx, run); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := repo.GetRecent(ctx, models.RunKindTrading, 50)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	found := false
	for _, r := range runs {
		if r.ID == run.ID {
			found = true
			if r.Persisted != 118 || r.Failed != 1 {
				t.Fatalf("counts mismatch: %+v", r)
			}
		}
	}
	if !found {
		t.Fatal("recorded run not returned")
	}
}
