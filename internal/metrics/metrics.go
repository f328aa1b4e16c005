// Package metrics holds the pipeline's Prometheus instruments. Everything
// hangs off an injected Registerer so tests can use isolated registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsingest"

// Metrics is the pipeline's metrics sink, passed explicitly into components.
type Metrics struct {
	ArticlesImported prometheus.Counter
	ArticlesSkipped  prometheus.Counter
	ArticleErrors    *prometheus.CounterVec

	FetchAttempts *prometheus.CounterVec
	BatchDuration prometheus.Histogram

	ImageOutcomes *prometheus.CounterVec

	DedupFailOpen prometheus.Counter
}

// New registers the instruments on reg. Pass prometheus.NewRegistry() in
// tests; nil falls back to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ArticlesImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_imported_total",
			Help:      "Articles successfully ingested",
		}),
		ArticlesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_skipped_total",
			Help:      "Articles skipped as duplicates",
		}),
		ArticleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "article_errors_total",
			Help:      "Per-item ingestion failures by error code",
		}, []string{"code"}),
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Upstream fetch attempts by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one fetch+persist cycle",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ImageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_pipeline_total",
			Help:      "Image pipeline results: uploaded, fallback, or failed",
		}, []string{"outcome"}),
		DedupFailOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_fail_open_total",
			Help:      "Duplicate lookups that failed and were treated as non-duplicate",
		}),
	}
}

// ObserveBatch records one cycle's duration.
func (m *Metrics) ObserveBatch(d time.Duration) {
	m.BatchDuration.Observe(d.Seconds())
}
