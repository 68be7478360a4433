// Package metrics is a tiny facade so ingestion and the catalog can emit
// metrics without knowing the backend. The default backend discards
// everything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"status": "ok"}.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric names. Backends may ignore names they do not know.
const (
	IngestRunsTotal             = "ingest_runs_total"
	IngestSourcesTotal          = "ingest_sources_total"
	IngestRowsTotal             = "ingest_rows_total"
	IngestSourceDurationSeconds = "ingest_source_duration_seconds"
	CatalogQueriesTotal         = "catalog_queries_total"
	CatalogQueryDurationSeconds = "catalog_query_duration_seconds"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// RecordSource records the outcome of one ingested source. status is "ok",
// "failed" or "skipped".
func RecordSource(table, status string, rows int64, took time.Duration) {
	b := current()
	b.IncCounter(IngestSourcesTotal, 1, Labels{"status": status})
	if rows > 0 {
		b.IncCounter(IngestRowsTotal, float64(rows), Labels{"table": table})
	}
	b.ObserveHistogram(IngestSourceDurationSeconds, took.Seconds(), Labels{"status": status})
}

// RecordRun counts a finished ingestion run.
func RecordRun(status string) {
	current().IncCounter(IngestRunsTotal, 1, Labels{"status": status})
}

// RecordQuery records one catalog query. status is "ok", "rejected" or
// "error".
func RecordQuery(status string, took time.Duration) {
	b := current()
	b.IncCounter(CatalogQueriesTotal, 1, Labels{"status": status})
	b.ObserveHistogram(CatalogQueryDurationSeconds, took.Seconds(), Labels{"status": status})
}
