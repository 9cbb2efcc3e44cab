package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	FilesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_files_read_total",
			Help: "Scraped JSON files seen, by outcome (parsed, stale, failed)",
		},
		[]string{"status"},
	)
	RecordsNormalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_normalized_total",
			Help: "Raw records normalized, by source",
		},
		[]string{"source"},
	)
	DuplicatesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_duplicates_dropped_total",
			Help: "Records dropped by in-batch deduplication",
		},
	)
	RecordsInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_inserted_total",
			Help: "Records written to the store",
		},
		[]string{"store"},
	)
	InsertConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_insert_conflicts_total",
			Help: "Records skipped because their url already exists",
		},
		[]string{"store"},
	)
	ScraperFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_scraper_failures_total",
			Help: "Scraper commands that exited with an error",
		},
		[]string{"command"},
	)
	ScraperDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_scraper_duration_seconds",
			Help:    "Wall time of one scraper command run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"command"},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_store_operation_duration_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "store"},
	)
)

// Registry holds every ingest collector. It is separate from the default
// registry so a batch run pushes only its own series.
var Registry = prometheus.NewRegistry()

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		Registry.MustRegister(FilesReadTotal)
		Registry.MustRegister(RecordsNormalizedTotal)
		Registry.MustRegister(DuplicatesDroppedTotal)
		Registry.MustRegister(RecordsInsertedTotal)
		Registry.MustRegister(InsertConflictsTotal)
		Registry.MustRegister(ScraperFailuresTotal)
		Registry.MustRegister(ScraperDuration)
		Registry.MustRegister(StoreOperationDuration)
	})
}

// Push sends the registry to a Prometheus Pushgateway under job.
func Push(ctx context.Context, url, job string) error {
	Init()
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
