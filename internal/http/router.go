package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/room-climate-charts/internal/lifecycle"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger *zap.Logger
	// Limiter throttles POST /runs; nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	Work           *lifecycle.Tracker
}

// NewRouter mounts the health, metrics, chart and run routes.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(opts.Work))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/charts", h.GetCharts).Methods(http.MethodGet)
	router.HandleFunc("/charts/{source}/{chart}", h.GetChart).Methods(http.MethodGet)
	router.HandleFunc("/runs/last", h.GetLastRun).Methods(http.MethodGet)

	runRouter := router.Path("/runs").Subrouter()
	runRouter.Use(RateLimitMiddleware(opts.Limiter))
	if opts.RequestTimeout > 0 {
		runRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	runRouter.Methods(http.MethodPost).HandlerFunc(h.PostRun)
	return router
}
