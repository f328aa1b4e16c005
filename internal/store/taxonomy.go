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

// ErrNotFound marks a lookup miss inside find-or-create flows.
var ErrNotFound = errors.New("not found")

// CategoryRepo persists categories.
type CategoryRepo struct {
	pool *pgxpool.Pool
}

// GetBySlug returns the category or ErrNotFound.
func (r *CategoryRepo) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	query, args, err := psql.
		Select("id", "name", "slug").
		From("categories").
		Where(sq.Eq{"slug": slug}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build category query: %w", err)
	}

	var c models.Category
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &apperr.PersistenceError{Op: "get category", Err: err}
	}
	return &c, nil
}

// Create inserts a category. A unique-slug violation passes through
// unwrapped so callers can detect it with IsUniqueViolation and re-fetch.
func (r *CategoryRepo) Create(ctx context.Context, name, slug string) (*models.Category, error) {
	query, args, err := psql.
		Insert("categories").
		Columns("name", "slug").
		Values(name, slug).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build category insert: %w", err)
	}

	c := models.Category{Name: name, Slug: slug}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

// TagRepo persists tags.
type TagRepo struct {
	pool *pgxpool.Pool
}

// GetBySlug returns the tag or ErrNotFound.
func (r *TagRepo) GetBySlug(ctx context.Context, slug string) (*models.Tag, error) {
	query, args, err := psql.
		Select("id", "name", "slug").
		From("tags").
		Where(sq.Eq{"slug": slug}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tag query: %w", err)
	}

	var t models.Tag
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&t.ID, &t.Name, &t.Slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &apperr.PersistenceError{Op: "get tag", Err: err}
	}
	return &t, nil
}

// Create inserts a tag, leaving unique violations unwrapped as Create on
// CategoryRepo does.
func (r *TagRepo) Create(ctx context.Context, name, slug string) (*models.Tag, error) {
	query, args, err := psql.
		Insert("tags").
		Columns("name", "slug").
		Values(name, slug).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tag insert: %w", err)
	}

	t := models.Tag{Name: name, Slug: slug}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}
