// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docgate_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"route", "status"})

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docgate_cache_lookups_total",
	Help: "Result cache lookups labelled by outcome",
}, []string{"outcome"})

var ingestRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docgate_ingest_rows_total",
	Help: "Ingested rows labelled by outcome",
}, []string{"outcome"})

var batchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docgate_ingest_batch_flushes_total",
	Help: "Batch flushes labelled by buffer kind",
}, []string{"buffer"})

var storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docgate_store_latency_seconds",
	Help:    "Latency of document store calls.",
	Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
}, []string{"operation"})

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder wraps w with a default status of 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route string, status int) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func CacheHit()  { cacheLookups.WithLabelValues("hit").Inc() }
func CacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

// IngestRows adds valid and invalid row counts of one file.
func IngestRows(valid, invalid int) {
	ingestRows.WithLabelValues("valid").Add(float64(valid))
	ingestRows.WithLabelValues("invalid").Add(float64(invalid))
}

// BatchFlush records one flush of the named buffer ("records" or "errors").
func BatchFlush(buffer string) {
	batchFlushes.WithLabelValues(buffer).Inc()
}

func ObserveStore(operation string, elapsed time.Duration) {
	storeLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}
