package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsingest/internal/apperr"
	"newsingest/internal/models"
)

// MediaRepo persists media assets.
type MediaRepo struct {
	pool *pgxpool.Pool
}

// Insert writes one asset and fills in its id.
func (r *MediaRepo) Insert(ctx context.Context, m *models.MediaAsset) (int64, error) {
	query, args, err := psql.
		Insert("media_assets").
		Columns("external_url", "storage_path", "width", "height", "mime_type",
			"alt_text", "content_hash", "filesize").
		Values(nullable(m.ExternalURL), nullable(m.StoragePath), m.Width, m.Height, m.MimeType,
			m.AltText, m.ContentHash, m.Filesize).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build media insert: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&m.ID, &m.CreatedAt); err != nil {
		return 0, &apperr.PersistenceError{Op: "insert media", Err: err}
	}
	return m.ID, nil
}

// GetByHash returns an existing asset with the given content hash, letting
// reconciliation reuse an upload instead of duplicating it. ErrNotFound on
// miss.
func (r *MediaRepo) GetByHash(ctx context.Context, hash string) (*models.MediaAsset, error) {
	query, args, err := psql.
		Select("id", "COALESCE(external_url, '')", "COALESCE(storage_path, '')",
			"width", "height", "mime_type", "alt_text", "content_hash", "filesize", "created_at").
		From("media_assets").
		Where(sq.Eq{"content_hash": hash}).
		OrderBy("id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build media query: %w", err)
	}

	var m models.MediaAsset
	err = r.pool.QueryRow(ctx, query, args...).Scan(&m.ID, &m.ExternalURL, &m.StoragePath,
		&m.Width, &m.Height, &m.MimeType, &m.AltText, &m.ContentHash, &m.Filesize, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &apperr.PersistenceError{Op: "get media by hash", Err: err}
	}
	return &m, nil
}

// nullable maps empty strings onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
