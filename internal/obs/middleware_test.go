package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ihirwe-dev/backend-pos/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pos", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV(" 5, 50, oops, -1, 500 ")
	want := []float64{5, 50, 500}
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
