package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsingest/internal/apperr"
	"newsingest/internal/logger"
	"newsingest/internal/models"
)

type fakeFetcher struct {
	mu          sync.Mutex
	items       []models.IncomingArticle
	invalid     map[string]bool
	failOffsets map[int]error
	gate        chan struct{}
	started     chan struct{}
	calls       []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, limit, offset int, filters models.FetchFilters) (*models.FetchPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, offset)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err := f.failOffsets[offset]; err != nil {
		return nil, err
	}

	end := offset + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	var items []models.IncomingArticle
	if offset < len(f.items) {
		items = f.items[offset:end]
	}
	return &models.FetchPage{
		Items:   items,
		Total:   len(f.items),
		Page:    offset/limit + 1,
		Limit:   limit,
		HasMore: end < len(f.items),
	}, nil
}

func (f *fakeFetcher) ValidateItem(item models.IncomingArticle) error {
	if f.invalid[item.SourceGuid] {
		return &apperr.ValidationError{Field: "ContentMD", Reason: "required"}
	}
	return nil
}

func (f *fakeFetcher) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type fakeBulkChecker struct {
	mu      sync.Mutex
	dups    map[string]bool
	calls   int
	checked int
}

func (f *fakeBulkChecker) BulkCheck(ctx context.Context, items []models.IncomingArticle) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.checked += len(items)
	out := make(map[string]bool)
	for _, item := range items {
		if f.dups[item.SourceGuid] {
			out[item.SourceGuid] = true
		}
	}
	return out
}

type fakeImportLogs struct {
	mu      sync.Mutex
	entries []models.ImportLog
}

func (f *fakeImportLogs) Insert(ctx context.Context, entry *models.ImportLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *entry)
	return nil
}

type fakeSeen struct {
	mu    sync.Mutex
	seen  map[string]bool
	guids []string
}

func (f *fakeSeen) IsSeen(ctx context.Context, guid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[guid], nil
}

func (f *fakeSeen) MarkSeen(ctx context.Context, guid string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guids = append(f.guids, guid)
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[guid] = true
	return nil
}

// makeItems produces n valid upstream items with distinct guids and titles.
func makeItems(n int) []models.IncomingArticle {
	items := make([]models.IncomingArticle, n)
	for i := range items {
		items[i] = models.IncomingArticle{
			ID:          fmt.Sprintf("up-%d", i),
			SourceGuid:  fmt.Sprintf("guid-%d", i),
			Title:       fmt.Sprintf("Article Number %d", i),
			SeoTitle:    fmt.Sprintf("Article number %d seo", i),
			ContentMD:   "Some body text with a handful of words in it.",
			Category:    "news",
			Tags:        []string{"wire"},
			OriginalUrl: fmt.Sprintf("https://news.example.com/news/article-%d", i),
			PublishedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		}
	}
	return items
}

type runnerFixture struct {
	fetcher    *fakeFetcher
	checker    *fakeBulkChecker
	importLogs *fakeImportLogs
	seen       *fakeSeen
	articles   *fakeArticles
	runner     *Runner
}

func newRunnerFixture(t *testing.T, items []models.IncomingArticle) *runnerFixture {
	t.Helper()

	f := &runnerFixture{
		fetcher:    &fakeFetcher{items: items, invalid: make(map[string]bool), failOffsets: make(map[int]error)},
		checker:    &fakeBulkChecker{dups: make(map[string]bool)},
		importLogs: &fakeImportLogs{},
		seen:       &fakeSeen{},
		articles:   newFakeArticles(),
	}
	ingestor := NewIngestor(IngestorConfig{
		Articles: f.articles,
		Media:    newFakeMedia(),
		Sources:  &fakeSources{},
		Taxonomy: &fakeTaxonomy{},
	}, logger.Nop())
	f.runner = NewRunner(RunnerConfig{
		Fetcher:     f.fetcher,
		Detector:    f.checker,
		Ingestor:    ingestor,
		Slugs:       f.articles,
		ImportLogs:  f.importLogs,
		Seen:        f.seen,
		UpstreamURL: "https://news.example.com",
		BatchPause:  time.Millisecond,
		Workers:     4,
		SeenTTL:     time.Hour,
	}, logger.Nop())
	return f
}

func TestRunBatchEndToEnd(t *testing.T) {
	f := newRunnerFixture(t, makeItems(10))
	f.checker.dups["guid-2"] = true
	f.checker.dups["guid-7"] = true

	results, err := f.runner.RunBatch(context.Background(), 10, 5, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	imported, skipped := 0, 0
	for _, r := range results {
		imported += r.Imported
		skipped += r.Skipped
		assert.Empty(t, r.Errors)
	}
	assert.Equal(t, 8, imported)
	assert.Equal(t, 2, skipped)

	assert.Equal(t, []int{0, 5}, f.fetcher.offsets())
	assert.Equal(t, 2, f.checker.calls)
	assert.Len(t, f.articles.inserted, 8)
	assert.Len(t, f.seen.guids, 8)
	assert.NotContains(t, f.seen.guids, "guid-2")

	require.Len(t, f.importLogs.entries, 1)
	entry := f.importLogs.entries[0]
	assert.Equal(t, 8, entry.ImportedCount)
	assert.Equal(t, "batch", entry.Meta["mode"])
	assert.Equal(t, 2, entry.Meta["batches"])
	assert.Equal(t, 2, entry.Meta["skipped"])
}

func TestRunBatchForceReimportsDuplicates(t *testing.T) {
	f := newRunnerFixture(t, makeItems(4))
	f.checker.dups["guid-0"] = true

	results, err := f.runner.RunBatch(context.Background(), 4, 4, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Imported)
	assert.Equal(t, 0, results[0].Skipped)
}

func TestRunBatchStopsWhenUpstreamExhausted(t *testing.T) {
	f := newRunnerFixture(t, makeItems(3))

	results, err := f.runner.RunBatch(context.Background(), 10, 5, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int{0}, f.fetcher.offsets())
	assert.Equal(t, 3, results[0].Imported)
}

func TestRunBatchFirstPageFailureIsFatal(t *testing.T) {
	f := newRunnerFixture(t, makeItems(10))
	f.fetcher.failOffsets[0] = &apperr.NetworkError{Op: "fetch", Err: errors.New("connection refused")}

	_, err := f.runner.RunBatch(context.Background(), 10, 5, false)
	var nerr *apperr.NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Empty(t, f.importLogs.entries)
}

func TestRunBatchMiddlePageFailureContinues(t *testing.T) {
	f := newRunnerFixture(t, makeItems(15))
	f.fetcher.failOffsets[5] = &apperr.NetworkError{Op: "fetch", Err: errors.New("connection reset")}

	results, err := f.runner.RunBatch(context.Background(), 15, 5, false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The failed page must not end the run: the third page still executes.
	assert.Equal(t, []int{0, 5, 10}, f.fetcher.offsets())
	assert.Equal(t, 5, results[0].Imported)
	require.Len(t, results[1].Errors, 1)
	assert.Equal(t, apperr.CodeNetwork, results[1].Errors[0].Code)
	assert.Equal(t, 5, results[2].Imported)

	require.Len(t, f.importLogs.entries, 1)
	assert.Equal(t, 10, f.importLogs.entries[0].ImportedCount)
}

func TestRunBatchLaterPageFailureIsRecorded(t *testing.T) {
	f := newRunnerFixture(t, makeItems(10))
	f.fetcher.failOffsets[5] = &apperr.TimeoutError{Op: "fetch", Err: context.DeadlineExceeded}

	results, err := f.runner.RunBatch(context.Background(), 10, 5, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 5, results[0].Imported)
	require.Len(t, results[1].Errors, 1)
	assert.Equal(t, apperr.CodeTimeout, results[1].Errors[0].Code)

	// The successful first page still produces the audit row.
	require.Len(t, f.importLogs.entries, 1)
	assert.Equal(t, 5, f.importLogs.entries[0].ImportedCount)
}

func TestRunIncremental(t *testing.T) {
	f := newRunnerFixture(t, makeItems(7))
	f.checker.dups["guid-3"] = true

	result, err := f.runner.RunIncremental(context.Background(), 5, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Fetched)
	assert.Equal(t, 4, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.HasMore)

	require.Len(t, f.importLogs.entries, 1)
	assert.Equal(t, "incremental", f.importLogs.entries[0].Meta["mode"])
}

func TestRunWithoutImportsWritesNoLog(t *testing.T) {
	f := newRunnerFixture(t, makeItems(3))
	for i := 0; i < 3; i++ {
		f.checker.dups[fmt.Sprintf("guid-%d", i)] = true
	}

	result, err := f.runner.RunIncremental(context.Background(), 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Skipped)
	assert.Empty(t, f.importLogs.entries)
}

func TestRunRecordsInvalidItems(t *testing.T) {
	f := newRunnerFixture(t, makeItems(4))
	f.fetcher.invalid["guid-1"] = true

	result, err := f.runner.RunIncremental(context.Background(), 4, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "guid-1", result.Errors[0].SourceGuid)
	assert.Equal(t, apperr.CodeValidation, result.Errors[0].Code)
}

func TestRunsNeverOverlap(t *testing.T) {
	f := newRunnerFixture(t, makeItems(2))
	f.fetcher.started = make(chan struct{}, 1)
	f.fetcher.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.RunIncremental(context.Background(), 2, 0, false)
		done <- err
	}()

	<-f.fetcher.started
	_, err := f.runner.RunIncremental(context.Background(), 2, 0, false)
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(f.fetcher.gate)
	require.NoError(t, <-done)

	// The lock is released afterwards, so the next run proceeds.
	f.fetcher.gate = nil
	f.fetcher.started = nil
	_, err = f.runner.RunIncremental(context.Background(), 2, 0, false)
	assert.NoError(t, err)
}

func TestRunnerClampsWorkers(t *testing.T) {
	r := NewRunner(RunnerConfig{Workers: 0}, logger.Nop())
	assert.Equal(t, 1, r.workers)
	assert.Equal(t, 2*time.Second, r.pause)
}

func TestSeenCacheShortCircuitsStorageCheck(t *testing.T) {
	f := newRunnerFixture(t, makeItems(5))
	f.seen.seen = map[string]bool{"guid-1": true, "guid-3": true}

	result, err := f.runner.RunIncremental(context.Background(), 5, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	// Cached guids never reach the bulk storage query.
	assert.Equal(t, 3, f.checker.checked)
	assert.Len(t, f.articles.inserted, 3)
}

func TestForceBypassesSeenCache(t *testing.T) {
	f := newRunnerFixture(t, makeItems(2))
	f.seen.seen = map[string]bool{"guid-0": true, "guid-1": true}

	result, err := f.runner.RunIncremental(context.Background(), 2, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)
}

// blockingTaxonomy parks the first worker inside an ingest until gate closes.
type blockingTaxonomy struct {
	fakeTaxonomy
	started chan struct{}
	gate    chan struct{}
}

func (b *blockingTaxonomy) ResolveCategory(ctx context.Context, name string) (int64, error) {
	b.started <- struct{}{}
	<-b.gate
	return b.fakeTaxonomy.ResolveCategory(ctx, name)
}

func TestCancelDrainsInFlightWorkers(t *testing.T) {
	blocking := &blockingTaxonomy{started: make(chan struct{}), gate: make(chan struct{})}
	articles := newFakeArticles()
	ingestor := NewIngestor(IngestorConfig{
		Articles: articles,
		Media:    newFakeMedia(),
		Sources:  &fakeSources{},
		Taxonomy: blocking,
	}, logger.Nop())
	runner := NewRunner(RunnerConfig{
		Fetcher:    &fakeFetcher{items: makeItems(3), failOffsets: map[int]error{}},
		Detector:   &fakeBulkChecker{},
		Ingestor:   ingestor,
		Slugs:      articles,
		ImportLogs: &fakeImportLogs{},
		Workers:    1,
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := runner.RunIncremental(ctx, 3, 0, false)
		done <- err
	}()

	<-blocking.started
	cancel()

	// The run must not return while the launched worker is still in flight.
	select {
	case <-done:
		t.Fatal("run returned before draining its workers")
	case <-time.After(20 * time.Millisecond):
	}

	close(blocking.gate)
	assert.ErrorIs(t, <-done, context.Canceled)
}
