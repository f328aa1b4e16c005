package models

import "time"

// Article status lifecycle values.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// StoredArticle is the canonical persisted article record. SourceGuid and
// Slug carry unique constraints; SourceID is a nullable secondary identifier
// from the upstream system. An article is created once by ingestion and only
// its image reference is updated afterwards.
type StoredArticle struct {
	ID          int64          `json:"id"`
	SourceGuid  string         `json:"source_guid"`
	SourceID    *string        `json:"source_id,omitempty"`
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	SeoTitle    string         `json:"seo_title"`
	SeoDesc     string         `json:"seo_description"`
	ContentMD   string         `json:"content_md"`
	MainImageID *int64         `json:"main_image_id,omitempty"`
	Status      string         `json:"status"`
	WordCount   int            `json:"word_count"`
	ReadingTime int            `json:"reading_time_minutes"`
	SourceRefID *int64         `json:"source_ref_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MediaAsset references a processed image. At least one of ExternalURL and
// StoragePath is set. ContentHash is the sha-256 of the transformed bytes.
type MediaAsset struct {
	ID          int64     `json:"id"`
	ExternalURL string    `json:"external_url,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	MimeType    string    `json:"mime_type"`
	AltText     string    `json:"alt_text"`
	ContentHash string    `json:"content_hash"`
	Filesize    int64     `json:"filesize"`
	CreatedAt   time.Time `json:"created_at"`
}

// Category and Tag are shared reference data, created lazily on first use
// and never deleted by the pipeline.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Source identifies the upstream origin of imported articles, keyed by its
// origin URL.
type Source struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ImportLog is the append-only audit record written once per run that
// imported at least one article.
type ImportLog struct {
	ID            int64          `json:"id"`
	SourceID      *int64         `json:"source_id,omitempty"`
	ImportedCount int            `json:"imported_count"`
	ImportedAt    time.Time      `json:"imported_at"`
	Meta          map[string]any `json:"meta,omitempty"`
}
