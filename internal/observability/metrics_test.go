package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, service, cache and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/charts/{source}/{chart}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/charts/{source}/{chart}").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("hourly", "success").Inc()
	UpstreamDuration.WithLabelValues("geocoder", "error").Observe(0.1)
	UpstreamErrorsTotal.WithLabelValues("stations", "parsing").Inc()
	UpstreamRetriesTotal.WithLabelValues("geocoder").Inc()
	StationCacheHitsTotal.Inc()
	StationCacheMissesTotal.Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	ReadingStoreHitsTotal.Inc()
	ReadingStoreGapsTotal.Inc()
	ReadingStoreExpiredMissesTotal.Inc()
	HourlyFetchAbsentTotal.Inc()
	ReadingStoreAppendedTotal.Add(3)
	RunsTotal.WithLabelValues("success").Inc()
	RunDurationSeconds.Observe(2)
	SourceUpdatesTotal.WithLabelValues("living-room", "failed").Inc()
	FreshnessAlertsTotal.WithLabelValues("living-room").Inc()
	CircuitBreakerState.WithLabelValues("hourly").Set(CircuitBreakerStateValue("open"))
}

func TestCircuitBreakerStateValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"closed", 0},
		{"half-open", 1},
		{"open", 2},
		{"unknown", 0},
	}
	for _, tt := range tests {
		if got := CircuitBreakerStateValue(tt.in); got != tt.want {
			t.Errorf("CircuitBreakerStateValue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RunsTotal.WithLabelValues("success").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "runsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
