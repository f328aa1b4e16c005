package ingest

import (
	"sync"

	"newsingest/internal/slug"
)

// SlugAllocator owns the "existing slugs" set for the duration of one run.
// All allocation goes through its mutex, so concurrent workers can never
// produce the same slug twice.
type SlugAllocator struct {
	mu       sync.Mutex
	existing map[string]bool
}

// NewSlugAllocator seeds the allocator with the full current slug set.
func NewSlugAllocator(existing map[string]bool) *SlugAllocator {
	if existing == nil {
		existing = make(map[string]bool)
	}
	return &SlugAllocator{existing: existing}
}

// Allocate returns a unique slug for title and reserves it.
func (a *SlugAllocator) Allocate(title string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := slug.Uniquify(slug.Make(title), a.existing)
	a.existing[s] = true
	return s
}
