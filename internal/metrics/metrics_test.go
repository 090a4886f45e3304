package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStatusRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewStatusRecorder(w)
	if rec.Status != http.StatusOK {
		t.Errorf("default status = %d, want 200", rec.Status)
	}
	rec.WriteHeader(http.StatusTeapot)
	if rec.Status != http.StatusTeapot || w.Code != http.StatusTeapot {
		t.Errorf("status = %d, underlying = %d", rec.Status, w.Code)
	}
}

func TestHandler_exposesCollectors(t *testing.T) {
	ObserveRequest("/api/tabledata", 404)
	CacheHit()
	CacheMiss()
	IngestRows(3, 1)
	BatchFlush("records")
	ObserveStore("find", 5*time.Millisecond)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`docgate_http_requests_total{route="/api/tabledata",status="404"}`,
		`docgate_cache_lookups_total{outcome="hit"}`,
		`docgate_ingest_rows_total{outcome="invalid"}`,
		`docgate_ingest_batch_flushes_total{buffer="records"}`,
		`docgate_store_latency_seconds_count{operation="find"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
