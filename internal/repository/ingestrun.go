package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/mse-backend/internal/models"
)

type IngestRunRepo struct {
	pool *pgxpool.Pool
}

func NewIngestRunRepo(pool *pgxpool.Pool) *IngestRunRepo {
	return &IngestRunRepo{pool: pool}
}

func (r *IngestRunRepo) Record(ctx context.Context, run *models.IngestRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ingest_runs
		 (id, kind, started_at, finished_at, units, failed, fetched, persisted, error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.Kind, run.StartedAt, run.FinishedAt,
		run.Units, run.Failed, run.Fetched, run.Persisted, run.Error,
	)
	return err
}

// GetRecent returns the newest runs, optionally restricted to one kind.
func (r *IngestRunRepo) GetRecent(ctx context.Context, kind string, limit int) ([]models.IngestRun, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, started_at, finished_at, units, failed, fetched, persisted, error
		 FROM ingest_runs
		 WHERE $1 = '' OR kind = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestRun
	for rows.Next() {
		var run models.IngestRun
		if err := rows.Scan(&run.ID, &run.Kind, &run.StartedAt, &run.FinishedAt,
			&run.Units, &run.Failed, &run.Fetched, &run.Persisted, &run.Error); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
