// Package metrics holds the Prometheus collectors for the upload workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mirrorsplit"

var (
	// UploadsTotal counts finished uploads by result: ok, fallback, failed, rejected.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads processed, by result.",
	}, []string{"result"})

	// MetadataAttempts counts individual upsert attempts by outcome.
	MetadataAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_attempts_total",
		Help:      "Metadata upsert attempts, by outcome.",
	}, []string{"outcome"})

	LedgerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_fallbacks_total",
		Help:      "Records written to the local ledger after the metadata store failed.",
	})

	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_failures_total",
		Help:      "Storage adapter failures, by operation.",
	}, []string{"op"})

	TrackedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracked_events_total",
		Help:      "View and play events recorded.",
	}, []string{"type"})
)

const (
	ResultOK       = "ok"
	ResultFallback = "fallback"
	ResultFailed   = "failed"
	ResultRejected = "rejected"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
