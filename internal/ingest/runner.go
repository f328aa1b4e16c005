package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newsingest/internal/apperr"
	"newsingest/internal/metrics"
	"newsingest/internal/models"
)

// ErrRunInFlight is returned when a run would overlap a previous one still
// in flight. Schedulers treat it as "try again next tick".
var ErrRunInFlight = errors.New("an import run is already in flight")

// Fetcher is the upstream surface the runner drives.
type Fetcher interface {
	FetchPage(ctx context.Context, limit, offset int, filters models.FetchFilters) (*models.FetchPage, error)
	ValidateItem(item models.IncomingArticle) error
}

// BulkChecker resolves a whole page's duplicates in one query.
type BulkChecker interface {
	BulkCheck(ctx context.Context, items []models.IncomingArticle) map[string]bool
}

// SlugLister loads the current slug set once per run.
type SlugLister interface {
	AllSlugs(ctx context.Context) (map[string]bool, error)
}

// ImportLogStore appends one audit row per run.
type ImportLogStore interface {
	Insert(ctx context.Context, entry *models.ImportLog) error
}

// SeenCache is the fast path in front of the storage duplicate check:
// imported guids are marked after ingestion and consulted before the next
// page's bulk check. Optional; lookups that error fall through to storage.
type SeenCache interface {
	IsSeen(ctx context.Context, guid string) (bool, error)
	MarkSeen(ctx context.Context, guid string, ttl time.Duration) error
}

// Runner is the top-level driver: it decides page sizes, runs fetch+persist
// cycles with inter-batch pauses, and aggregates results. Runs never
// overlap: an in-process flag plus a file lock enforce single-flight per
// schedule.
type Runner struct {
	fetcher    Fetcher
	detector   BulkChecker
	ingestor   *Ingestor
	slugs      SlugLister
	importLogs ImportLogStore
	sources    SourceStore
	seen       SeenCache

	upstreamURL   string
	processImages bool
	pause         time.Duration
	workers       int
	seenTTL       time.Duration

	lock    *flock.Flock
	running atomic.Bool

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// RunnerConfig wires a Runner. Seen, Sources, Metrics and LockFile are
// optional.
type RunnerConfig struct {
	Fetcher       Fetcher
	Detector      BulkChecker
	Ingestor      *Ingestor
	Slugs         SlugLister
	ImportLogs    ImportLogStore
	Sources       SourceStore
	Seen          SeenCache
	UpstreamURL   string
	ProcessImages bool
	BatchPause    time.Duration
	Workers       int
	SeenTTL       time.Duration
	LockFile      string
	Metrics       *metrics.Metrics
}

// NewRunner builds the orchestrator. Workers are clamped to at least 1;
// the recommended range is 4-8.
func NewRunner(cfg RunnerConfig, log zerolog.Logger) *Runner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	pause := cfg.BatchPause
	if pause == 0 {
		pause = 2 * time.Second
	}
	var lock *flock.Flock
	if cfg.LockFile != "" {
		lock = flock.New(cfg.LockFile)
	}
	return &Runner{
		fetcher:       cfg.Fetcher,
		detector:      cfg.Detector,
		ingestor:      cfg.Ingestor,
		slugs:         cfg.Slugs,
		importLogs:    cfg.ImportLogs,
		sources:       cfg.Sources,
		seen:          cfg.Seen,
		upstreamURL:   cfg.UpstreamURL,
		processImages: cfg.ProcessImages,
		pause:         pause,
		workers:       workers,
		seenTTL:       cfg.SeenTTL,
		lock:          lock,
		metrics:       cfg.Metrics,
		log:           log.With().Str("component", "runner").Logger(),
	}
}

// RunIncremental executes one fetch+persist cycle: one upstream page, a bulk
// duplicate check up front, then per-item ingestion with duplicate skip
// unless force.
func (r *Runner) RunIncremental(ctx context.Context, limit, offset int, force bool) (models.ImportResult, error) {
	if err := r.acquire(); err != nil {
		return models.ImportResult{}, err
	}
	defer r.release()

	allocator, err := r.loadSlugs(ctx)
	if err != nil {
		return models.ImportResult{}, err
	}

	result, err := r.runPage(ctx, limit, offset, force, allocator)
	if err != nil {
		return models.ImportResult{}, err
	}

	r.writeImportLog(ctx, result.Imported, map[string]any{
		"run_id":      result.RunID,
		"mode":        "incremental",
		"batch_size":  limit,
		"skipped":     result.Skipped,
		"error_count": result.ErrorCount(),
	})
	return result, nil
}

// RunBatch splits totalLimit into ceil(totalLimit/batchSize) sequential
// pages with a fixed pause between them, continues past failed pages, and
// aggregates the outcome. One ImportLog row covers the whole run.
func (r *Runner) RunBatch(ctx context.Context, totalLimit, batchSize int, force bool) ([]models.ImportResult, error) {
	if batchSize < 1 || totalLimit < 1 {
		return nil, fmt.Errorf("totalLimit and batchSize must be positive")
	}
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	allocator, err := r.loadSlugs(ctx)
	if err != nil {
		return nil, err
	}

	pages := (totalLimit + batchSize - 1) / batchSize
	limiter := rate.NewLimiter(rate.Every(r.pause), 1)
	runID := uuid.NewString()

	r.log.Info().
		Str("run_id", runID).
		Int("total_limit", totalLimit).
		Int("batch_size", batchSize).
		Int("pages", pages).
		Bool("force", force).
		Msg("starting batch run")

	var results []models.ImportResult
	totalImported, totalSkipped, totalErrors := 0, 0, 0

	for page := 0; page < pages; page++ {
		// The limiter starts full, so the first page runs immediately and
		// later pages wait out the inter-batch pause. Cancellation aborts
		// the wait.
		if err := limiter.Wait(ctx); err != nil {
			return results, err
		}

		offset := page * batchSize
		limit := batchSize
		if remaining := totalLimit - offset; remaining < limit {
			limit = remaining
		}

		result, err := r.runPage(ctx, limit, offset, force, allocator)
		if err != nil {
			// Nothing processed yet means the upstream is unreachable: that
			// is fatal. A later page failing is recorded and skipped over.
			if page == 0 {
				return nil, err
			}
			r.log.Error().Err(err).Int("page", page).Msg("batch page failed, continuing")
			// A failed fetch says nothing about upstream exhaustion, so the
			// run moves on to the next page.
			result = models.ImportResult{
				RunID:     runID,
				StartedAt: time.Now().UTC(),
				HasMore:   true,
				Errors: []models.ItemError{{
					Code:    apperr.Code(err),
					Message: fmt.Sprintf("page %d: %v", page, err),
				}},
			}
		}

		results = append(results, result)
		totalImported += result.Imported
		totalSkipped += result.Skipped
		totalErrors += result.ErrorCount()

		if !result.HasMore {
			break
		}
	}

	r.writeImportLog(ctx, totalImported, map[string]any{
		"run_id":      runID,
		"mode":        "batch",
		"batch_size":  batchSize,
		"batches":     len(results),
		"skipped":     totalSkipped,
		"error_count": totalErrors,
	})

	r.log.Info().
		Str("run_id", runID).
		Int("imported", totalImported).
		Int("skipped", totalSkipped).
		Int("errors", totalErrors).
		Msg("batch run finished")

	return results, nil
}

// runPage is one fetch+persist cycle. A fetch failure is returned as-is;
// per-item failures are folded into the result and never abort the page.
func (r *Runner) runPage(ctx context.Context, limit, offset int, force bool, allocator *SlugAllocator) (models.ImportResult, error) {
	start := time.Now()
	result := models.ImportResult{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
	}

	page, err := r.fetcher.FetchPage(ctx, limit, offset, models.FetchFilters{})
	if err != nil {
		r.observeFetch("error")
		return result, err
	}
	r.observeFetch("success")
	result.Fetched = len(page.Items)
	result.HasMore = page.HasMore

	// Recently imported guids short-circuit on the cache; cache misses and
	// lookup errors fall through to the storage check, which stays
	// authoritative.
	items := page.Items
	if r.seen != nil && !force {
		kept := make([]models.IncomingArticle, 0, len(items))
		for _, item := range items {
			if ok, err := r.seen.IsSeen(ctx, item.SourceGuid); err == nil && ok {
				result.Skipped++
				if r.metrics != nil {
					r.metrics.ArticlesSkipped.Inc()
				}
				continue
			}
			kept = append(kept, item)
		}
		items = kept
	}

	// One storage round-trip for the whole page, both identifier schemes.
	duplicates := r.detector.BulkCheck(ctx, items)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, r.workers)
	)

	for _, item := range items {
		select {
		case <-ctx.Done():
			// Workers already launched share result; drain them before
			// returning it.
			wg.Wait()
			return result, ctx.Err()
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(item models.IncomingArticle) {
			defer wg.Done()
			defer func() { <-semaphore }()

			outcome, itemErr := r.processItem(ctx, item, force, duplicates, allocator)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeImported:
				result.Imported++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Errors = append(result.Errors, *itemErr)
			}
		}(item)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveBatch(result.Duration)
	}

	r.log.Info().
		Str("run_id", result.RunID).
		Int("fetched", result.Fetched).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errors", result.ErrorCount()).
		Dur("duration", result.Duration).
		Msg("page processed")

	return result, nil
}

type itemOutcome int

const (
	outcomeImported itemOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (r *Runner) processItem(ctx context.Context, item models.IncomingArticle, force bool, duplicates map[string]bool, allocator *SlugAllocator) (itemOutcome, *models.ItemError) {
	if err := r.fetcher.ValidateItem(item); err != nil {
		r.observeError(err)
		return outcomeFailed, &models.ItemError{
			SourceGuid: item.SourceGuid,
			Title:      item.DisplayTitle(),
			Code:       apperr.Code(err),
			Message:    err.Error(),
		}
	}

	if !force && duplicates[item.SourceGuid] {
		if r.metrics != nil {
			r.metrics.ArticlesSkipped.Inc()
		}
		return outcomeSkipped, nil
	}

	// The bulk check already ran, so the per-item lookup is skipped; the
	// unique constraint catches anything that slipped through in between.
	_, err := r.ingestor.Ingest(ctx, item, IngestOptions{
		ProcessImage:       r.processImages,
		SkipDuplicateCheck: true,
		Slugs:              allocator,
	})
	if err != nil {
		var dup *apperr.DuplicateError
		if errors.As(err, &dup) {
			if r.metrics != nil {
				r.metrics.ArticlesSkipped.Inc()
			}
			return outcomeSkipped, nil
		}
		r.observeError(err)
		return outcomeFailed, &models.ItemError{
			SourceGuid: item.SourceGuid,
			Title:      item.DisplayTitle(),
			Code:       apperr.Code(err),
			Message:    err.Error(),
		}
	}

	if r.metrics != nil {
		r.metrics.ArticlesImported.Inc()
	}
	if r.seen != nil {
		if err := r.seen.MarkSeen(ctx, item.SourceGuid, r.seenTTL); err != nil {
			r.log.Debug().Err(err).Str("source_guid", item.SourceGuid).Msg("seen-cache mark failed")
		}
	}
	return outcomeImported, nil
}

// writeImportLog appends the audit row, once per run and only when the run
// imported something. Log failures never fail the run.
func (r *Runner) writeImportLog(ctx context.Context, imported int, meta map[string]any) {
	if r.importLogs == nil || imported == 0 {
		return
	}

	entry := models.ImportLog{ImportedCount: imported, Meta: meta}
	if r.sources != nil && r.upstreamURL != "" {
		if src, err := r.sources.FindOrCreate(ctx, r.upstreamURL, r.upstreamURL); err == nil {
			entry.SourceID = &src.ID
		}
	}
	if err := r.importLogs.Insert(ctx, &entry); err != nil {
		r.log.Error().Err(err).Msg("import log write failed")
	}
}

func (r *Runner) loadSlugs(ctx context.Context) (*SlugAllocator, error) {
	existing, err := r.slugs.AllSlugs(ctx)
	if err != nil {
		return nil, err
	}
	return NewSlugAllocator(existing), nil
}

func (r *Runner) observeFetch(outcome string) {
	if r.metrics != nil {
		r.metrics.FetchAttempts.WithLabelValues(outcome).Inc()
	}
}

func (r *Runner) observeError(err error) {
	if r.metrics != nil {
		r.metrics.ArticleErrors.WithLabelValues(apperr.Code(err)).Inc()
	}
}

// acquire enforces single-flight: an in-process flag for this Runner and a
// file lock against other processes sharing the schedule.
func (r *Runner) acquire() error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInFlight
	}
	if r.lock != nil {
		ok, err := r.lock.TryLock()
		if err != nil {
			r.running.Store(false)
			return fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			r.running.Store(false)
			return ErrRunInFlight
		}
	}
	return nil
}

func (r *Runner) release() {
	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil {
			r.log.Warn().Err(err).Msg("failed to release run lock")
		}
	}
	r.running.Store(false)
}
