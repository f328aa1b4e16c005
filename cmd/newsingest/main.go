// Command newsingest is the scheduler-facing entrypoint for the ingestion
// pipeline. A cron-like invoker calls `newsingest incremental` or
// `newsingest batch`; the run result is printed as JSON for log collection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsingest/internal/blob"
	"newsingest/internal/config"
	"newsingest/internal/dedup"
	"newsingest/internal/images"
	"newsingest/internal/ingest"
	"newsingest/internal/logger"
	"newsingest/internal/metrics"
	"newsingest/internal/store"
	"newsingest/internal/taxonomy"
	"newsingest/internal/upstream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "newsingest",
		Short:         "Pull, deduplicate and persist upstream news articles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		limit  int
		offset int
		force  bool
	)
	incremental := &cobra.Command{
		Use:   "incremental",
		Short: "Run one fetch+persist cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Runner.RunIncremental(cmd.Context(), limit, offset, force)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	incremental.Flags().IntVar(&limit, "limit", 20, "page size to fetch")
	incremental.Flags().IntVar(&offset, "offset", 0, "upstream offset")
	incremental.Flags().BoolVar(&force, "force", false, "re-ingest items that already exist")

	var (
		total     int
		batchSize int
	)
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Run multiple fetch+persist cycles with inter-batch pauses",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if batchSize == 0 {
				batchSize = app.Cfg.BatchSize
			}
			results, err := app.Runner.RunBatch(cmd.Context(), total, batchSize, force)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	batch.Flags().IntVar(&total, "total", 100, "total items to process across all batches")
	batch.Flags().IntVar(&batchSize, "batch-size", 0, "items per batch (defaults to BATCH_SIZE)")
	batch.Flags().BoolVar(&force, "force", false, "re-ingest items that already exist")

	fetch := &cobra.Command{
		Use:   "fetch <id>",
		Short: "Fetch and print a single upstream item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
			client := upstream.NewClient(upstream.Options{
				BaseURL: cfg.UpstreamBaseURL,
				APIKey:  cfg.UpstreamAPIKey,
				Timeout: cfg.FetchTimeout,
				Retries: cfg.FetchRetries,
			}, log)

			item, err := client.FetchByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}

	clearSeen := &cobra.Command{
		Use:   "clear-seen",
		Short: "Drop the redis seen-cache so the next run re-checks storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			cache, err := dedup.NewRedisSeenCache(cfg.RedisURL, cfg.RedisPrefix)
			if err != nil {
				return err
			}
			defer cache.Close()
			return cache.ClearSeen(cmd.Context())
		},
	}

	root.AddCommand(incremental, batch, fetch, clearSeen)
	return root
}

// app bundles the wired pipeline and its closable resources.
type app struct {
	Runner *ingest.Runner
	Cfg    *config.Config

	db    *store.Store
	cache dedup.SeenCache
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	var seen dedup.SeenCache
	seen, err = dedup.NewRedisSeenCache(cfg.RedisURL, cfg.RedisPrefix)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process seen cache")
		seen = dedup.NewMemorySeenCache()
	}

	var objects blob.Store
	if cfg.R2Endpoint != "" {
		objects, err = blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:  cfg.R2Endpoint,
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			Bucket:    cfg.R2Bucket,
			PublicURL: cfg.R2PublicURL,
		})
		if err != nil {
			seen.Close()
			db.Close()
			return nil, fmt.Errorf("connect to blob store: %w", err)
		}
	} else {
		log.Warn().Msg("no blob store configured, image uploads will stay in memory")
		objects = blob.NewMemoryStore(cfg.CDNBaseURL)
	}

	m := metrics.New(nil)

	pipeline := images.NewPipeline(images.Config{
		Store:        objects,
		CDNBaseURL:   cfg.CDNBaseURL,
		Replacements: cfg.ImageReplacements(),
		Timeout:      cfg.FetchTimeout,
	}, log)

	resolver := taxonomy.NewResolver(db.Categories, db.Tags, nil, log)

	imgOpts := images.ProcessOptions{
		Width:   cfg.ImageWidth,
		Height:  cfg.ImageHeight,
		Quality: cfg.ImageQuality,
		Format:  cfg.ImageFormat,
	}

	ingestor := ingest.NewIngestor(ingest.IngestorConfig{
		Articles:     db.Articles,
		Media:        db.Media,
		Sources:      db.Sources,
		Taxonomy:     resolver,
		Images:       pipeline,
		ImageOptions: imgOpts,
		Metrics:      m,
	}, log)

	detector := dedup.NewDetector(db.Articles, ingestor, log)
	detector.FailOpenHook = m.DedupFailOpen.Inc

	client := upstream.NewClient(upstream.Options{
		BaseURL: cfg.UpstreamBaseURL,
		APIKey:  cfg.UpstreamAPIKey,
		Timeout: cfg.FetchTimeout,
		Retries: cfg.FetchRetries,
	}, log)

	runner := ingest.NewRunner(ingest.RunnerConfig{
		Fetcher:       client,
		Detector:      detector,
		Ingestor:      ingestor,
		Slugs:         db.Articles,
		ImportLogs:    db.ImportLogs,
		Sources:       db.Sources,
		Seen:          seen,
		UpstreamURL:   cfg.UpstreamBaseURL,
		ProcessImages: cfg.ProcessImages,
		BatchPause:    cfg.BatchPause,
		Workers:       cfg.WorkerCount,
		SeenTTL:       cfg.SeenTTL,
		LockFile:      cfg.LockFile,
		Metrics:       m,
	}, log)

	return &app{Runner: runner, Cfg: cfg, db: db, cache: seen}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
