package storage

import (
	"time"

	"property-ingest/metrics"
)

func observe(operation, store string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues(operation, store).Observe(time.Since(start).Seconds())
}
