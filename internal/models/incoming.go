package models

import "time"

// IncomingArticle is one item as delivered by the upstream content API.
// The payload is untrusted; Validate must pass before an item enters the
// pipeline.
type IncomingArticle struct {
	ID          string    `json:"id" validate:"required"`
	SourceGuid  string    `json:"source_guid" validate:"required"`
	SourceID    string    `json:"source_id,omitempty"`
	SeoTitle    string    `json:"seo_title" validate:"required"`
	SeoDesc     string    `json:"seo_description"`
	Title       string    `json:"title"`
	ContentMD   string    `json:"content_md" validate:"required"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Image       string    `json:"image"`
	ImageTitle  string    `json:"image_title"`
	OriginalUrl string    `json:"original_url" validate:"required,url"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// DisplayTitle prefers the editorial title and falls back to the SEO one.
func (a IncomingArticle) DisplayTitle() string {
	if a.Title != "" {
		return a.Title
	}
	return a.SeoTitle
}

// FetchPage is the envelope returned by the upstream list endpoint.
type FetchPage struct {
	Items   []IncomingArticle `json:"items"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	HasMore bool              `json:"has_more"`
}

// FetchFilters narrows an upstream list call. Zero values are omitted from
// the query string.
type FetchFilters struct {
	Status    string
	SortBy    string
	SortOrder string
	Category  string
	Tag       string
	Search    string
}
