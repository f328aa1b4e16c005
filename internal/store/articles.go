package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsingest/internal/apperr"
	"newsingest/internal/models"
)

// ArticleRepo persists StoredArticle rows and their junction relations.
type ArticleRepo struct {
	pool *pgxpool.Pool
}

// IdentifierMatch is one existing article found by the duplicate bulk check,
// with enough image context to decide whether reconciliation is needed.
type IdentifierMatch struct {
	ArticleID   int64
	SourceGuid  string
	SourceID    *string
	MainImageID *int64
	// ImageURL is the external URL of the current main image, empty when the
	// article has none.
	ImageURL string
}

// FindByIdentifiers resolves which of the given identifiers already exist,
// in a single query over both schemes. Either list may be empty.
func (r *ArticleRepo) FindByIdentifiers(ctx context.Context, guids, sourceIDs []string) ([]IdentifierMatch, error) {
	if len(guids) == 0 && len(sourceIDs) == 0 {
		return nil, nil
	}

	pred := sq.Or{}
	if len(guids) > 0 {
		pred = append(pred, sq.Eq{"a.source_guid": guids})
	}
	if len(sourceIDs) > 0 {
		pred = append(pred, sq.Eq{"a.source_id": sourceIDs})
	}

	query, args, err := psql.
		Select("a.id", "a.source_guid", "a.source_id", "a.main_image_id", "COALESCE(m.external_url, '')").
		From("articles a").
		LeftJoin("media_assets m ON m.id = a.main_image_id").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build identifier query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "find by identifiers", Err: err}
	}
	defer rows.Close()

	var matches []IdentifierMatch
	for rows.Next() {
		var m IdentifierMatch
		if err := rows.Scan(&m.ArticleID, &m.SourceGuid, &m.SourceID, &m.MainImageID, &m.ImageURL); err != nil {
			return nil, &apperr.PersistenceError{Op: "scan identifier match", Err: err}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.PersistenceError{Op: "read identifier matches", Err: err}
	}
	return matches, nil
}

// Insert writes one article row and returns its id. A source_guid or slug
// unique violation surfaces as DuplicateError: the constraint is the final
// backstop behind the duplicate pre-check.
func (r *ArticleRepo) Insert(ctx context.Context, a *models.StoredArticle) (int64, error) {
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return 0, &apperr.PersistenceError{Op: "marshal article meta", Err: err}
	}

	query, args, err := psql.
		Insert("articles").
		Columns("source_guid", "source_id", "slug", "title", "seo_title", "seo_description",
			"content_md", "main_image_id", "status", "word_count", "reading_time_minutes",
			"source_ref_id", "meta", "published_at").
		Values(a.SourceGuid, a.SourceID, a.Slug, a.Title, a.SeoTitle, a.SeoDesc,
			a.ContentMD, a.MainImageID, a.Status, a.WordCount, a.ReadingTime,
			a.SourceRefID, meta, a.PublishedAt).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build article insert: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if IsUniqueViolation(err) {
			return 0, articleDuplicate(err, a)
		}
		return 0, &apperr.PersistenceError{Op: "insert article", Err: err}
	}
	return a.ID, nil
}

// articleDuplicate labels a unique violation with the column that raised it:
// articles carry unique constraints on both source_guid and slug.
func articleDuplicate(err error, a *models.StoredArticle) *apperr.DuplicateError {
	if strings.Contains(UniqueConstraint(err), "slug") {
		return &apperr.DuplicateError{Field: "slug", Value: a.Slug}
	}
	return &apperr.DuplicateError{Field: "source_guid", Value: a.SourceGuid}
}

// AllSlugs loads the full slug set. Called once per run so slug allocation
// works against current state.
func (r *ArticleRepo) AllSlugs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, "SELECT slug FROM articles")
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "load slugs", Err: err}
	}
	defer rows.Close()

	slugs := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, &apperr.PersistenceError{Op: "scan slug", Err: err}
		}
		slugs[s] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.PersistenceError{Op: "read slugs", Err: err}
	}
	return slugs, nil
}

// SetMainImage repoints an article at a new media asset and bumps
// updated_at. Used by image reconciliation; no other field changes.
func (r *ArticleRepo) SetMainImage(ctx context.Context, articleID, mediaID int64) error {
	query, args, err := psql.
		Update("articles").
		Set("main_image_id", mediaID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build image update: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return &apperr.PersistenceError{Op: "update main image", Err: err}
	}
	return nil
}

// LinkCategory inserts one article/category junction row, idempotently.
func (r *ArticleRepo) LinkCategory(ctx context.Context, articleID, categoryID int64) error {
	query, args, err := psql.
		Insert("article_categories").
		Columns("article_id", "category_id").
		Values(articleID, categoryID).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build category link: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return &apperr.PersistenceError{Op: "link category", Err: err}
	}
	return nil
}

// LinkTags inserts the article/tag junction rows, idempotently.
func (r *ArticleRepo) LinkTags(ctx context.Context, articleID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	builder := psql.Insert("article_tags").Columns("article_id", "tag_id")
	for _, tagID := range tagIDs {
		builder = builder.Values(articleID, tagID)
	}
	query, args, err := builder.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build tag links: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return &apperr.PersistenceError{Op: "link tags", Err: err}
	}
	return nil
}
