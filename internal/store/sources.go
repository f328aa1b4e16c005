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

// SourceRepo persists upstream sources, keyed by origin URL.
type SourceRepo struct {
	pool *pgxpool.Pool
}

// FindOrCreate resolves a source by URL, inserting it on first sight. A
// concurrent insert of the same URL resolves by re-fetching.
func (r *SourceRepo) FindOrCreate(ctx context.Context, name, url string) (*models.Source, error) {
	if src, err := r.getByURL(ctx, url); err == nil {
		return src, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	query, args, err := psql.
		Insert("sources").
		Columns("name", "url").
		Values(name, url).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source insert: %w", err)
	}

	src := models.Source{Name: name, URL: url}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&src.ID); err != nil {
		if IsUniqueViolation(err) {
			return r.getByURL(ctx, url)
		}
		return nil, &apperr.PersistenceError{Op: "insert source", Err: err}
	}
	return &src, nil
}

func (r *SourceRepo) getByURL(ctx context.Context, url string) (*models.Source, error) {
	query, args, err := psql.
		Select("id", "name", "url").
		From("sources").
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}

	var src models.Source
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&src.ID, &src.Name, &src.URL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &apperr.PersistenceError{Op: "get source", Err: err}
	}
	return &src, nil
}
