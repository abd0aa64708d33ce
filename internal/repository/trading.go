package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/mse-backend/internal/models"
)

// StoredDateLayout is the textual form in which last stored dates are
// reported to the watermark resolver.
const StoredDateLayout = "02.01.2006"

const tradingColumns = `id, stock_code, date, last_trade_price, max_price, min_price,
	avg_price, percent_change, volume, turnover, total_turnover, created_at`

type TradingRepo struct {
	pool *pgxpool.Pool
}

func NewTradingRepo(pool *pgxpool.Pool) *TradingRepo {
	return &TradingRepo{pool: pool}
}

// InsertMany writes records in one batch and returns how many rows were new.
// A record for an already stored (stock_code, date) is ignored.
func (r *TradingRepo) InsertMany(ctx context.Context, records []models.TradingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(
			`INSERT INTO stock_data
			 (stock_code, date, last_trade_price, max_price, min_price, avg_price,
			  percent_change, volume, turnover, total_turnover)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 ON CONFLICT (stock_code, date) DO NOTHING`,
			rec.StockCode, rec.Date, rec.LastTradePrice, rec.MaxPrice, rec.MinPrice, rec.AvgPrice,
			rec.PercentChange, rec.Volume, rec.Turnover, rec.TotalTurnover,
		)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	inserted := 0
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert %s %s: %w",
				records[i].StockCode, records[i].Date.Format("2006-01-02"), err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// LastDates returns, for every code that has stored rows, its most recent
// trading date formatted with StoredDateLayout.
func (r *TradingRepo) LastDates(ctx context.Context, codes []string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stock_code, to_char(MAX(date), 'DD.MM.YYYY')
		 FROM stock_data
		 WHERE stock_code = ANY($1)
		 GROUP BY stock_code`,
		codes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(codes))
	for rows.Next() {
		var code, last string
		if err := rows.Scan(&code, &last); err != nil {
			return nil, err
		}
		out[code] = last
	}
	return out, rows.Err()
}

// GetRange returns a code's records with from <= date <= to, oldest first.
func (r *TradingRepo) GetRange(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradingColumns+` FROM stock_data
		 WHERE stock_code = $1 AND date BETWEEN $2 AND $3
		 ORDER BY date ASC`,
		code, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrading(rows)
}

// GetLatest returns the newest record for code, or nil when none is stored.
func (r *TradingRepo) GetLatest(ctx context.Context, code string) (*models.TradingRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tradingColumns+` FROM stock_data
		 WHERE stock_code = $1 ORDER BY date DESC LIMIT 1`,
		code,
	)
	rec, err := scanTrading(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *TradingRepo) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT stock_code FROM stock_data ORDER BY stock_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// --- scan helpers ---

func scanTrading(row scannable) (*models.TradingRecord, error) {
	var t models.TradingRecord
	err := row.Scan(
		&t.ID, &t.StockCode, &t.Date, &t.LastTradePrice, &t.MaxPrice, &t.MinPrice,
		&t.AvgPrice, &t.PercentChange, &t.Volume, &t.Turnover, &t.TotalTurnover, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTrading(rows rowsIter) ([]models.TradingRecord, error) {
	var out []models.TradingRecord
	for rows.Next() {
		t, err := scanTrading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
