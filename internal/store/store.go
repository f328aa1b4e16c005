// Package store persists the pipeline's entities in Postgres. Repositories
// build SQL with squirrel and run it on a shared pgx pool. Unique constraints
// on source_guid and the slug columns are the final backstop against
// duplicate inserts.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaDDL string

// psql builds statements with Postgres $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store aggregates the pipeline's repositories over one connection pool.
type Store struct {
	pool *pgxpool.Pool

	Articles   *ArticleRepo
	Categories *CategoryRepo
	Tags       *TagRepo
	Media      *MediaRepo
	Sources    *SourceRepo
	ImportLogs *ImportLogRepo
}

// New dials Postgres and wires the repositories.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{
		pool:       pool,
		Articles:   &ArticleRepo{pool: pool},
		Categories: &CategoryRepo{pool: pool},
		Tags:       &TagRepo{pool: pool},
		Media:      &MediaRepo{pool: pool},
		Sources:    &SourceRepo{pool: pool},
		ImportLogs: &ImportLogRepo{pool: pool},
	}, nil
}

// EnsureSchema applies the DDL. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks pool health.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Find-or-create paths treat it as "already exists, re-fetch".
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UniqueConstraint returns the name of the violated unique constraint, or ""
// when err is not a unique violation.
func UniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
