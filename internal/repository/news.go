package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/mse-backend/internal/models"
)

type NewsRepo struct {
	pool *pgxpool.Pool
}

func NewNewsRepo(pool *pgxpool.Pool) *NewsRepo {
	return &NewsRepo{pool: pool}
}

// InsertOne stores doc and reports whether it was new. Documents are keyed by
// their upstream id; a repeated id leaves the stored copy untouched.
func (r *NewsRepo) InsertOne(ctx context.Context, doc *models.NewsDocument) (bool, error) {
	var pub *time.Time
	if t, err := time.Parse("2006-01-02", doc.PublicationDate); err == nil {
		pub = &t
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO news_documents
		 (document_id, publication_date, title, text_content, company_name, company_code)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (document_id) DO NOTHING`,
		doc.DocumentID, pub, doc.Title, doc.TextContent, doc.CompanyName, doc.CompanyCode,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetByCompany returns a company's most recent documents.
func (r *NewsRepo) GetByCompany(ctx context.Context, code string, limit int) ([]models.NewsDocument, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT document_id, publication_date, title, text_content, company_name, company_code, created_at
		 FROM news_documents
		 WHERE company_code = $1
		 ORDER BY publication_date DESC NULLS LAST
		 LIMIT $2`,
		code, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NewsDocument
	for rows.Next() {
		var d models.NewsDocument
		var pub *time.Time
		if err := rows.Scan(&d.DocumentID, &pub, &d.Title, &d.TextContent,
			&d.CompanyName, &d.CompanyCode, &d.CreatedAt); err != nil {
			return nil, err
		}
		if pub != nil {
			d.PublicationDate = pub.Format("2006-01-02")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
