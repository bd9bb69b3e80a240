package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/charts"
	"github.com/kjstillabower/room-climate-charts/internal/lifecycle"
	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
	"github.com/kjstillabower/room-climate-charts/internal/runstats"
	"github.com/kjstillabower/room-climate-charts/internal/service"
)

// Runner starts chart runs. Implemented by *service.Updater.
type Runner interface {
	Run(ctx context.Context) (service.RunReport, error)
	Running() bool
	LastReport() (service.RunReport, bool)
}

// ChartStore serves the latest assembled charts. Implemented by *charts.Registry.
type ChartStore interface {
	Get(source, name string) (models.Chart, bool)
	List() []charts.Summary
}

// HealthConfig holds thresholds and optional probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// NextRun, when set, reports the next scheduled run.
	NextRun func() time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner       Runner
	charts       ChartStore
	stats        *runstats.Tracker
	healthConfig *HealthConfig
	logger       *zap.Logger
	work         *lifecycle.Tracker

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. work may be nil; when set, manual runs
// are counted as in-flight work for shutdown.
func NewHandler(
	runner Runner,
	chartStore ChartStore,
	stats *runstats.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	work *lifecycle.Tracker,
) *Handler {
	if stats == nil {
		stats = runstats.NewTracker(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:       runner,
		charts:       chartStore,
		stats:        stats,
		healthConfig: healthConfig,
		logger:       logger,
		work:         work,
	}
}

// GetCharts handles GET /charts.
func (h *Handler) GetCharts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"charts": h.charts.List(),
	})
}

// GetChart handles GET /charts/{source}/{chart}.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	source := strings.TrimSpace(vars["source"])
	name := strings.TrimSpace(vars["chart"])
	if source == "" || name == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_CHART", "source and chart are required")
		return
	}
	chart, ok := h.charts.Get(source, name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "CHART_NOT_FOUND", "no chart "+name+" for source "+source)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

// PostRun handles POST /runs. The run executes within the request and the
// report is returned; 409 when a run is already active.
func (h *Handler) PostRun(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down")
		return
	}
	if h.work != nil {
		defer h.work.Begin()()
	}
	logger := requestLogger(r)

	report, err := h.runner.Run(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			writeError(w, r, http.StatusConflict, "RUN_IN_PROGRESS", "A run is already in progress")
			return
		}
		logger.Error("manual run failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "RUN_FAILED", "Run failed")
		return
	}
	logger.Info("manual run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status()))
	writeJSON(w, http.StatusOK, runResponse(report))
}

// GetLastRun handles GET /runs/last.
func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.runner.LastReport()
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_RUNS", "No run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(report))
}

func runResponse(report service.RunReport) map[string]interface{} {
	return map[string]interface{}{
		"runId":      report.RunID,
		"status":     report.Status(),
		"startedAt":  report.StartedAt.UTC().Format(time.RFC3339),
		"finishedAt": report.FinishedAt.UTC().Format(time.RFC3339),
		"sources":    report.Sources,
		"alerts":     report.Alerts,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["sources"] = "unhealthy"
	} else {
		checks["sources"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "room-climate-charts",
		"version":   "dev",
		"checks":    checks,
		"running":   h.runner.Running(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if last := h.stats.LastRun(); !last.IsZero() {
		resp["lastRun"] = last.UTC().Format(time.RFC3339)
	}
	if h.healthConfig != nil && h.healthConfig.NextRun != nil {
		if next := h.healthConfig.NextRun(); !next.IsZero() {
			resp["nextRun"] = next.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		failures, total := h.stats.FailureRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(failures) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "source_failure_rate"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
