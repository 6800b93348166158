package postgres

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
)

//go:embed schema.sql
var schema string

var _ repository.AnalysisLogRepository = (*AnalysisLogRepoImpl)(nil)

// AnalysisLogRepoImpl provides a concrete implementation for the AnalysisLogRepository interface using PostgreSQL.
type AnalysisLogRepoImpl struct {
	db *pgxpool.Pool
}

// NewAnalysisLogRepo creates a new instance of AnalysisLogRepoImpl.
func NewAnalysisLogRepo(db *pgxpool.Pool) *AnalysisLogRepoImpl {
	return &AnalysisLogRepoImpl{db: db}
}

// EnsureSchema creates the image_analyses table when it does not exist.
func (r *AnalysisLogRepoImpl) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Save creates or updates the record for an image URL.
// It increments attempt_count on conflict.
func (r *AnalysisLogRepoImpl) Save(ctx context.Context, rec *entity.AnalysisRecord) error {
	query := `
		INSERT INTO image_analyses (image_url, page_url, status, alt_text, source, error_code, error_message, latency_ms, attempt_count, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
		ON CONFLICT (image_url) DO UPDATE SET
			page_url = EXCLUDED.page_url,
			status = EXCLUDED.status,
			alt_text = EXCLUDED.alt_text,
			source = EXCLUDED.source,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			latency_ms = EXCLUDED.latency_ms,
			attempt_count = image_analyses.attempt_count + 1,
			analyzed_at = EXCLUDED.analyzed_at
		RETURNING id, attempt_count;
	`
	return r.db.QueryRow(ctx, query,
		rec.ImageURL,
		rec.PageURL,
		rec.Status,
		rec.AltText,
		string(rec.Source),
		string(rec.ErrorCode),
		rec.ErrorMessage,
		rec.LatencyMs,
		rec.AnalyzedAt,
	).Scan(&rec.ID, &rec.AttemptCount)
}

// FindByURL retrieves the record for a specific image URL.
func (r *AnalysisLogRepoImpl) FindByURL(ctx context.Context, imageURL string) (*entity.AnalysisRecord, error) {
	query := `
		SELECT id, image_url, page_url, status, alt_text, source, error_code, error_message, latency_ms, attempt_count, analyzed_at
		FROM image_analyses
		WHERE image_url = $1;
	`
	var rec entity.AnalysisRecord
	var source, code string
	err := r.db.QueryRow(ctx, query, imageURL).Scan(
		&rec.ID,
		&rec.ImageURL,
		&rec.PageURL,
		&rec.Status,
		&rec.AltText,
		&source,
		&code,
		&rec.ErrorMessage,
		&rec.LatencyMs,
		&rec.AttemptCount,
		&rec.AnalyzedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Source = entity.Source(source)
	rec.ErrorCode = entity.ErrorCode(code)
	return &rec, nil
}

// FindRecent lists the latest records, newest first.
func (r *AnalysisLogRepoImpl) FindRecent(ctx context.Context, limit int) ([]*entity.AnalysisRecord, error) {
	query := `
		SELECT id, image_url, page_url, status, alt_text, source, error_code, error_message, latency_ms, attempt_count, analyzed_at
		FROM image_analyses
		ORDER BY analyzed_at DESC
		LIMIT $1;
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.AnalysisRecord
	for rows.Next() {
		var rec entity.AnalysisRecord
		var source, code string
		if err := rows.Scan(
			&rec.ID,
			&rec.ImageURL,
			&rec.PageURL,
			&rec.Status,
			&rec.AltText,
			&source,
			&code,
			&rec.ErrorMessage,
			&rec.LatencyMs,
			&rec.AttemptCount,
			&rec.AnalyzedAt,
		); err != nil {
			return nil, err
		}
		rec.Source = entity.Source(source)
		rec.ErrorCode = entity.ErrorCode(code)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
