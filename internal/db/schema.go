package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stock_data (
		id               BIGSERIAL PRIMARY KEY,
		stock_code       TEXT NOT NULL,
		date             DATE NOT NULL,
		last_trade_price NUMERIC NOT NULL DEFAULT 0,
		max_price        NUMERIC NOT NULL DEFAULT 0,
		min_price        NUMERIC NOT NULL DEFAULT 0,
		avg_price        NUMERIC NOT NULL DEFAULT 0,
		percent_change   NUMERIC NOT NULL DEFAULT 0,
		volume           BIGINT NOT NULL CHECK (volume > 0),
		turnover         NUMERIC NOT NULL DEFAULT 0,
		total_turnover   NUMERIC NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (stock_code, date)
	)`,
	`CREATE TABLE IF NOT EXISTS news_documents (
		document_id      TEXT PRIMARY KEY,
		publication_date DATE,
		title            TEXT NOT NULL DEFAULT '',
		text_content     TEXT NOT NULL,
		company_name     TEXT NOT NULL DEFAULT '',
		company_code     TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS news_documents_company_code_idx
		ON news_documents (company_code, publication_date DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL,
		hashed_password TEXT NOT NULL,
		role            TEXT NOT NULL DEFAULT 'user',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id          UUID PRIMARY KEY,
		kind        TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		units       INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		fetched     INTEGER NOT NULL,
		persisted   INTEGER NOT NULL,
		error       TEXT
	)`,
}

// Migrate creates any missing tables. Safe to run on every start.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
