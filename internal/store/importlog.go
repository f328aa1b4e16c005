package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"newsingest/internal/apperr"
	"newsingest/internal/models"
)

// ImportLogRepo appends run audit records. Logs are never mutated.
type ImportLogRepo struct {
	pool *pgxpool.Pool
}

// Insert writes one audit row and fills in its id and timestamp.
func (r *ImportLogRepo) Insert(ctx context.Context, entry *models.ImportLog) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return &apperr.PersistenceError{Op: "marshal import log meta", Err: err}
	}

	query, args, err := psql.
		Insert("import_logs").
		Columns("source_id", "imported_count", "meta").
		Values(entry.SourceID, entry.ImportedCount, meta).
		Suffix("RETURNING id, imported_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build import log insert: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&entry.ID, &entry.ImportedAt); err != nil {
		return &apperr.PersistenceError{Op: "insert import log", Err: err}
	}
	return nil
}
