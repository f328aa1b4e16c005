package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsingest/internal/logger"
	"newsingest/internal/models"
	"newsingest/internal/store"
)

type fakeFinder struct {
	matches []store.IdentifierMatch
	err     error
	calls   int
}

func (f *fakeFinder) FindByIdentifiers(ctx context.Context, guids, sourceIDs []string) ([]store.IdentifierMatch, error) {
	f.calls++
	return f.matches, f.err
}

type fakeReconciler struct {
	calls []int64
	err   error
}

func (f *fakeReconciler) ReconcileImage(ctx context.Context, articleID int64, imageURL, title string) error {
	f.calls = append(f.calls, articleID)
	return f.err
}

func strPtr(s string) *string { return &s }

func TestBulkCheckMatchesEitherIdentifier(t *testing.T) {
	finder := &fakeFinder{matches: []store.IdentifierMatch{
		{ArticleID: 1, SourceGuid: "guid-a"},
		{ArticleID: 2, SourceGuid: "other-guid", SourceID: strPtr("sec-b")},
	}}
	d := NewDetector(finder, nil, logger.Nop())

	items := []models.IncomingArticle{
		{SourceGuid: "guid-a"},                      // matches by guid
		{SourceGuid: "guid-b", SourceID: "sec-b"},   // matches by secondary id only
		{SourceGuid: "guid-c", SourceID: "sec-new"}, // new
	}
	duplicates := d.BulkCheck(context.Background(), items)

	assert.True(t, duplicates["guid-a"])
	assert.True(t, duplicates["guid-b"])
	assert.False(t, duplicates["guid-c"])
	assert.Equal(t, 1, finder.calls, "bulk check must be a single query pass")
}

func TestBulkCheckFailsOpen(t *testing.T) {
	finder := &fakeFinder{err: errors.New("connection refused")}
	d := NewDetector(finder, nil, logger.Nop())

	failOpens := 0
	d.FailOpenHook = func() { failOpens++ }

	duplicates := d.BulkCheck(context.Background(), []models.IncomingArticle{
		{SourceGuid: "guid-a"},
	})

	assert.Empty(t, duplicates, "storage errors must report non-duplicate")
	assert.Equal(t, 1, failOpens)
}

func TestBulkCheckEmptyBatch(t *testing.T) {
	finder := &fakeFinder{}
	d := NewDetector(finder, nil, logger.Nop())

	assert.Empty(t, d.BulkCheck(context.Background(), nil))
	assert.Zero(t, finder.calls)
}

func TestIsDuplicate(t *testing.T) {
	finder := &fakeFinder{matches: []store.IdentifierMatch{{ArticleID: 7, SourceGuid: "guid-x"}}}
	d := NewDetector(finder, nil, logger.Nop())

	assert.True(t, d.IsDuplicate(context.Background(), models.IncomingArticle{SourceGuid: "guid-x"}))
	assert.False(t, d.IsDuplicate(context.Background(), models.IncomingArticle{SourceGuid: "guid-y"}))
}

func TestBulkCheckTriggersImageReconciliation(t *testing.T) {
	finder := &fakeFinder{matches: []store.IdentifierMatch{
		{ArticleID: 1, SourceGuid: "changed", ImageURL: "https://img.example.com/old.jpg"},
		{ArticleID: 2, SourceGuid: "same", ImageURL: "https://img.example.com/keep.jpg"},
		{ArticleID: 3, SourceGuid: "no-incoming-image", ImageURL: "https://img.example.com/x.jpg"},
	}}
	rec := &fakeReconciler{}
	d := NewDetector(finder, rec, logger.Nop())

	duplicates := d.BulkCheck(context.Background(), []models.IncomingArticle{
		{SourceGuid: "changed", Image: "https://img.example.com/new.jpg", SeoTitle: "Changed"},
		{SourceGuid: "same", Image: "https://img.example.com/keep.jpg"},
		{SourceGuid: "no-incoming-image"},
	})

	require.Len(t, duplicates, 3)
	assert.Equal(t, []int64{1}, rec.calls, "only the changed image reconciles")
}

func TestReconciliationFailureDoesNotChangeVerdict(t *testing.T) {
	finder := &fakeFinder{matches: []store.IdentifierMatch{
		{ArticleID: 1, SourceGuid: "g", ImageURL: "https://a/old.jpg"},
	}}
	rec := &fakeReconciler{err: errors.New("pipeline down")}
	d := NewDetector(finder, rec, logger.Nop())

	duplicates := d.BulkCheck(context.Background(), []models.IncomingArticle{
		{SourceGuid: "g", Image: "https://a/new.jpg"},
	})

	assert.True(t, duplicates["g"])
	assert.Len(t, rec.calls, 1)
}

func TestMemorySeenCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemorySeenCache()

	seen, err := cache.IsSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.MarkSeen(ctx, "guid-1", 0))
	seen, err = cache.IsSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, cache.ClearSeen(ctx))
	seen, err = cache.IsSeen(ctx, "guid-1")
	require.NoError(t, err)
	assert.False(t, seen)
}
