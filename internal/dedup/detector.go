// Package dedup decides which incoming articles already exist in storage,
// matching on either identifier scheme: source_guid or the secondary
// source_id. Lookup failures fail open — an article lost to a storage hiccup
// is worse than a rare duplicate slipping through to the unique constraint.
package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"newsingest/internal/models"
	"newsingest/internal/store"
)

// ArticleFinder is the single storage query the detector needs.
type ArticleFinder interface {
	FindByIdentifiers(ctx context.Context, guids, sourceIDs []string) ([]store.IdentifierMatch, error)
}

// ImageReconciler updates an existing article's image out of band when the
// upstream item now carries a different image URL.
type ImageReconciler interface {
	ReconcileImage(ctx context.Context, articleID int64, imageURL, title string) error
}

// Detector checks incoming batches against storage in one query pass.
type Detector struct {
	articles   ArticleFinder
	reconciler ImageReconciler // optional
	log        zerolog.Logger

	// FailOpenHook is called whenever a lookup error is swallowed, so the
	// metrics sink can count fail-open events. Optional.
	FailOpenHook func()
}

// NewDetector builds a detector. reconciler may be nil to disable image
// reconciliation.
func NewDetector(articles ArticleFinder, reconciler ImageReconciler, log zerolog.Logger) *Detector {
	return &Detector{
		articles:   articles,
		reconciler: reconciler,
		log:        log.With().Str("component", "dedup").Logger(),
	}
}

// BulkCheck resolves which items already exist, in one round-trip regardless
// of batch size. The returned set is keyed by source_guid. On a storage
// failure it logs and returns an empty set: fail open.
func (d *Detector) BulkCheck(ctx context.Context, items []models.IncomingArticle) map[string]bool {
	if len(items) == 0 {
		return map[string]bool{}
	}

	var guids, sourceIDs []string
	for _, item := range items {
		if item.SourceGuid != "" {
			guids = append(guids, item.SourceGuid)
		}
		if item.SourceID != "" {
			sourceIDs = append(sourceIDs, item.SourceID)
		}
	}

	matches, err := d.articles.FindByIdentifiers(ctx, guids, sourceIDs)
	if err != nil {
		d.log.Error().
			Err(err).
			Int("items", len(items)).
			Msg("duplicate lookup failed, treating batch as new (fail open)")
		if d.FailOpenHook != nil {
			d.FailOpenHook()
		}
		return map[string]bool{}
	}

	byGuid := make(map[string]store.IdentifierMatch, len(matches))
	bySourceID := make(map[string]store.IdentifierMatch, len(matches))
	for _, m := range matches {
		byGuid[m.SourceGuid] = m
		if m.SourceID != nil {
			bySourceID[*m.SourceID] = m
		}
	}

	duplicates := make(map[string]bool, len(matches))
	for _, item := range items {
		match, found := byGuid[item.SourceGuid]
		if !found && item.SourceID != "" {
			match, found = bySourceID[item.SourceID]
		}
		if !found {
			continue
		}
		duplicates[item.SourceGuid] = true
		d.maybeReconcileImage(ctx, match, item)
	}
	return duplicates
}

// IsDuplicate checks a single item, reusing the bulk path.
func (d *Detector) IsDuplicate(ctx context.Context, item models.IncomingArticle) bool {
	return d.BulkCheck(ctx, []models.IncomingArticle{item})[item.SourceGuid]
}

// maybeReconcileImage re-runs the image pipeline for an existing article
// whose upstream image URL changed. Failures are logged only: reconciliation
// never affects the duplicate verdict.
func (d *Detector) maybeReconcileImage(ctx context.Context, match store.IdentifierMatch, item models.IncomingArticle) {
	if d.reconciler == nil || item.Image == "" || item.Image == match.ImageURL {
		return
	}

	d.log.Info().
		Int64("article_id", match.ArticleID).
		Str("old_image", match.ImageURL).
		Str("new_image", item.Image).
		Msg("image changed on existing article, reconciling")

	if err := d.reconciler.ReconcileImage(ctx, match.ArticleID, item.Image, item.DisplayTitle()); err != nil {
		d.log.Warn().
			Err(err).
			Int64("article_id", match.ArticleID).
			Msg("image reconciliation failed")
	}
}
