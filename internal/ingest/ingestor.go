// Package ingest composes the pipeline: it turns validated incoming articles
// into persisted records with resolved sources, categories, tags, slugs and
// images, and drives batch runs against the upstream API.
package ingest

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsingest/internal/apperr"
	"newsingest/internal/images"
	"newsingest/internal/metrics"
	"newsingest/internal/models"
)

// Storage surfaces the ingestor needs. The store package's repositories
// implement them; tests substitute fakes.
type ArticleStore interface {
	Insert(ctx context.Context, a *models.StoredArticle) (int64, error)
	AllSlugs(ctx context.Context) (map[string]bool, error)
	SetMainImage(ctx context.Context, articleID, mediaID int64) error
	LinkCategory(ctx context.Context, articleID, categoryID int64) error
	LinkTags(ctx context.Context, articleID int64, tagIDs []int64) error
}

type MediaStore interface {
	Insert(ctx context.Context, m *models.MediaAsset) (int64, error)
	GetByHash(ctx context.Context, hash string) (*models.MediaAsset, error)
}

type SourceStore interface {
	FindOrCreate(ctx context.Context, name, url string) (*models.Source, error)
}

// TaxonomyResolver resolves category and tag names to row ids.
type TaxonomyResolver interface {
	ResolveCategory(ctx context.Context, name string) (int64, error)
	ResolveTags(ctx context.Context, names []string) ([]int64, error)
}

// ImageProcessor runs the image pipeline for one URL.
type ImageProcessor interface {
	Process(ctx context.Context, imageURL, title string, opts images.ProcessOptions) (*images.Result, error)
}

// DuplicateChecker answers whether a single item already exists.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, item models.IncomingArticle) bool
}

// IngestOptions control one ingest call.
type IngestOptions struct {
	// ProcessImage runs the image pipeline when the item carries an image URL.
	ProcessImage bool
	// SkipDuplicateCheck bypasses the per-item duplicate lookup. Batch runs
	// set it because they bulk-check up front; force-refresh runs set it to
	// re-ingest deliberately.
	SkipDuplicateCheck bool
	// Slugs is the run-scoped allocator. When nil the ingestor loads the
	// current slug set itself (single-item callers).
	Slugs *SlugAllocator
}

// Ingestor is the persistence orchestrator: one call turns an incoming item
// into a stored article.
type Ingestor struct {
	articles ArticleStore
	media    MediaStore
	sources  SourceStore
	taxonomy TaxonomyResolver
	images   ImageProcessor
	dedup    DuplicateChecker
	imgOpts  images.ProcessOptions
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// IngestorConfig wires an Ingestor.
type IngestorConfig struct {
	Articles     ArticleStore
	Media        MediaStore
	Sources      SourceStore
	Taxonomy     TaxonomyResolver
	Images       ImageProcessor
	Dedup        DuplicateChecker
	ImageOptions images.ProcessOptions
	Metrics      *metrics.Metrics
}

// NewIngestor builds the orchestrator.
func NewIngestor(cfg IngestorConfig, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		articles: cfg.Articles,
		media:    cfg.Media,
		sources:  cfg.Sources,
		taxonomy: cfg.Taxonomy,
		images:   cfg.Images,
		dedup:    cfg.Dedup,
		imgOpts:  cfg.ImageOptions,
		metrics:  cfg.Metrics,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest persists one incoming article and returns its id. Image and
// relation failures degrade (the article still lands); everything before the
// article insert aborts with a typed error, and the insert itself is the
// only fatal step after that.
func (ing *Ingestor) Ingest(ctx context.Context, item models.IncomingArticle, opts IngestOptions) (int64, error) {
	if !opts.SkipDuplicateCheck && ing.dedup != nil && ing.dedup.IsDuplicate(ctx, item) {
		return 0, &apperr.DuplicateError{Field: "source_guid", Value: item.SourceGuid}
	}

	src, err := ing.resolveSource(ctx, item.OriginalUrl)
	if err != nil {
		return 0, err
	}

	categoryName := item.Category
	if categoryName == "" {
		categoryName = categoryFromURL(item.OriginalUrl)
	}
	categoryID, err := ing.taxonomy.ResolveCategory(ctx, categoryName)
	if err != nil {
		return 0, err
	}

	tagIDs, err := ing.taxonomy.ResolveTags(ctx, item.Tags)
	if err != nil {
		return 0, err
	}

	allocator := opts.Slugs
	if allocator == nil {
		existing, err := ing.articles.AllSlugs(ctx)
		if err != nil {
			return 0, err
		}
		allocator = NewSlugAllocator(existing)
	}
	articleSlug := allocator.Allocate(item.DisplayTitle())

	article := ing.buildArticle(item, articleSlug)
	if src != nil {
		article.SourceRefID = &src.ID
	}

	if opts.ProcessImage && item.Image != "" {
		if mediaID := ing.processImage(ctx, item); mediaID != 0 {
			article.MainImageID = &mediaID
		}
	}

	articleID, err := ing.articles.Insert(ctx, article)
	if err != nil {
		return 0, err
	}

	// The article is durably stored; relation failures only lose filters,
	// so they are logged and the ingest still succeeds.
	if err := ing.articles.LinkCategory(ctx, articleID, categoryID); err != nil {
		ing.log.Warn().Err(err).Int64("article_id", articleID).Msg("category link failed")
	}
	if err := ing.articles.LinkTags(ctx, articleID, tagIDs); err != nil {
		ing.log.Warn().Err(err).Int64("article_id", articleID).Msg("tag links failed")
	}

	ing.log.Info().
		Int64("article_id", articleID).
		Str("source_guid", item.SourceGuid).
		Str("slug", articleSlug).
		Int("words", article.WordCount).
		Msg("article ingested")

	return articleID, nil
}

// ReconcileImage re-runs the image pipeline for an existing article and
// repoints its main image, leaving every other field untouched. An upload
// already holding the same content hash is reused instead of duplicated.
func (ing *Ingestor) ReconcileImage(ctx context.Context, articleID int64, imageURL, title string) error {
	result, err := ing.images.Process(ctx, imageURL, title, ing.imgOpts)
	if err != nil {
		return err
	}

	if asset, err := ing.media.GetByHash(ctx, result.ContentHash); err == nil && result.ContentHash != "" {
		return ing.articles.SetMainImage(ctx, articleID, asset.ID)
	}

	mediaID, err := ing.media.Insert(ctx, resultAsset(result, title))
	if err != nil {
		return err
	}
	return ing.articles.SetMainImage(ctx, articleID, mediaID)
}

// processImage runs the pipeline and persists the asset. Any failure
// downgrades the article to "no image".
func (ing *Ingestor) processImage(ctx context.Context, item models.IncomingArticle) int64 {
	result, err := ing.images.Process(ctx, item.Image, item.DisplayTitle(), ing.imgOpts)
	if err != nil {
		ing.observeImage("failed")
		ing.log.Warn().
			Err(err).
			Str("source_guid", item.SourceGuid).
			Str("image_url", item.Image).
			Msg("image pipeline failed, continuing without image")
		return 0
	}
	if result.Fallback {
		ing.observeImage("fallback")
	} else {
		ing.observeImage("uploaded")
	}

	alt := item.ImageTitle
	if alt == "" {
		alt = item.DisplayTitle()
	}
	asset := resultAsset(result, alt)
	if _, err := ing.media.Insert(ctx, asset); err != nil {
		ing.log.Warn().
			Err(err).
			Str("source_guid", item.SourceGuid).
			Msg("media insert failed, continuing without image")
		return 0
	}
	return asset.ID
}

func (ing *Ingestor) observeImage(outcome string) {
	if ing.metrics != nil {
		ing.metrics.ImageOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (ing *Ingestor) buildArticle(item models.IncomingArticle, articleSlug string) *models.StoredArticle {
	words := countWords(item.ContentMD)

	status := models.StatusDraft
	var publishedAt *time.Time
	if !item.PublishedAt.IsZero() {
		t := item.PublishedAt
		publishedAt = &t
		status = models.StatusPublished
	}

	var sourceID *string
	if item.SourceID != "" {
		s := item.SourceID
		sourceID = &s
	}

	return &models.StoredArticle{
		SourceGuid:  item.SourceGuid,
		SourceID:    sourceID,
		Slug:        articleSlug,
		Title:       item.DisplayTitle(),
		SeoTitle:    item.SeoTitle,
		SeoDesc:     item.SeoDesc,
		ContentMD:   item.ContentMD,
		Status:      status,
		WordCount:   words,
		ReadingTime: readingTime(words),
		PublishedAt: publishedAt,
		Meta: map[string]any{
			"upstream_id":  item.ID,
			"original_url": item.OriginalUrl,
		},
	}
}

func (ing *Ingestor) resolveSource(ctx context.Context, originalURL string) (*models.Source, error) {
	u, err := url.Parse(originalURL)
	if err != nil || u.Host == "" {
		return nil, &apperr.ValidationError{Field: "original_url", Reason: "not a parseable URL"}
	}
	origin := u.Scheme + "://" + u.Host
	return ing.sources.FindOrCreate(ctx, u.Host, origin)
}

// categoryFromURL derives a category from the first path segment of the
// canonical URL when upstream sends none.
func categoryFromURL(originalURL string) string {
	u, err := url.Parse(originalURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && segments[0] != "" && !strings.Contains(segments[0], ".") {
		return segments[0]
	}
	return ""
}

func resultAsset(result *images.Result, alt string) *models.MediaAsset {
	return &models.MediaAsset{
		ExternalURL: result.URL,
		StoragePath: result.Path,
		Width:       result.Width,
		Height:      result.Height,
		MimeType:    result.MimeType,
		AltText:     alt,
		ContentHash: result.ContentHash,
		Filesize:    result.Filesize,
	}
}
