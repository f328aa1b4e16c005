// Package taxonomy maps free-text upstream category and tag strings onto
// canonical Category/Tag rows, creating them on first sight.
package taxonomy

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"newsingest/internal/models"
	"newsingest/internal/slug"
	"newsingest/internal/store"
)

// DefaultTag is assigned when an item carries no usable tags, so every
// article stays filterable by at least one tag.
const DefaultTag = "news"

// defaultSynonyms collapses the upstream feed's localized category spellings
// onto canonical names. Unmapped strings pass through unchanged.
var defaultSynonyms = map[string]string{
	"gundem":     "news",
	"gündem":     "news",
	"teknoloji":  "technology",
	"tech":       "technology",
	"ekonomi":    "economy",
	"finans":     "economy",
	"spor":       "sports",
	"saglik":     "health",
	"sağlık":     "health",
	"dunya":      "world",
	"dünya":      "world",
	"siyaset":    "politics",
	"politika":   "politics",
	"kultur":     "culture",
	"kültür":     "culture",
	"magazin":    "entertainment",
	"eglence":    "entertainment",
	"bilim":      "science",
	"yasam":      "lifestyle",
	"yaşam":      "lifestyle",
	"egitim":     "education",
	"eğitim":     "education",
	"otomobil":   "automotive",
	"emlak":      "real-estate",
	"son-dakika": "news",
}

// CategoryStore and TagStore are the persistence surfaces the resolver
// needs. store.CategoryRepo and store.TagRepo implement them.
type CategoryStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Category, error)
	Create(ctx context.Context, name, slug string) (*models.Category, error)
}

type TagStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Tag, error)
	Create(ctx context.Context, name, slug string) (*models.Tag, error)
}

// Resolver resolves category and tag names with find-or-create semantics.
type Resolver struct {
	categories CategoryStore
	tags       TagStore
	synonyms   map[string]string
	log        zerolog.Logger
}

// NewResolver builds a resolver. extraSynonyms entries override the built-in
// table.
func NewResolver(categories CategoryStore, tags TagStore, extraSynonyms map[string]string, log zerolog.Logger) *Resolver {
	synonyms := make(map[string]string, len(defaultSynonyms)+len(extraSynonyms))
	for k, v := range defaultSynonyms {
		synonyms[k] = v
	}
	for k, v := range extraSynonyms {
		synonyms[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Resolver{
		categories: categories,
		tags:       tags,
		synonyms:   synonyms,
		log:        log.With().Str("component", "taxonomy").Logger(),
	}
}

// Canonicalize runs a category name through the synonym table.
func (r *Resolver) Canonicalize(name string) string {
	trimmed := strings.TrimSpace(name)
	if mapped, ok := r.synonyms[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return trimmed
}

// ResolveCategory maps a free-text category name to a category id, creating
// the row on first sight. Concurrent creation of the same slug resolves via
// the unique constraint: insert, and on violation re-fetch.
func (r *Resolver) ResolveCategory(ctx context.Context, name string) (int64, error) {
	canonical := r.Canonicalize(name)
	if canonical == "" {
		canonical = DefaultTag
	}

	s := slug.Make(canonical)
	cat, err := r.categories.GetBySlug(ctx, s)
	if err == nil {
		return cat.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	cat, err = r.categories.Create(ctx, canonical, s)
	if err != nil {
		if store.IsUniqueViolation(err) {
			// Lost the race; the row exists now.
			cat, err = r.categories.GetBySlug(ctx, s)
			if err != nil {
				return 0, err
			}
			return cat.ID, nil
		}
		return 0, err
	}

	r.log.Debug().Str("category", canonical).Str("slug", s).Int64("id", cat.ID).Msg("created category")
	return cat.ID, nil
}

// ResolveTags maps tag names to tag ids, deduplicating case-insensitively
// first. An empty or entirely invalid list resolves to the default tag.
func (r *Resolver) ResolveTags(ctx context.Context, names []string) ([]int64, error) {
	seen := make(map[string]bool)
	var ids []int64

	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		s := slug.Make(trimmed)
		if trimmed == "" || s == slug.Fallback || seen[s] {
			continue
		}
		seen[s] = true

		id, err := r.resolveTag(ctx, trimmed, s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		id, err := r.resolveTag(ctx, DefaultTag, slug.Make(DefaultTag))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resolver) resolveTag(ctx context.Context, name, s string) (int64, error) {
	tag, err := r.tags.GetBySlug(ctx, s)
	if err == nil {
		return tag.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	tag, err = r.tags.Create(ctx, name, s)
	if err != nil {
		if store.IsUniqueViolation(err) {
			tag, err = r.tags.GetBySlug(ctx, s)
			if err != nil {
				return 0, err
			}
			return tag.ID, nil
		}
		return 0, err
	}

	r.log.Debug().Str("tag", name).Str("slug", s).Int64("id", tag.ID).Msg("created tag")
	return tag.ID, nil
}
