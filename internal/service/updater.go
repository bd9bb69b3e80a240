package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/alert"
	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
	"github.com/kjstillabower/room-climate-charts/internal/runstats"
)

// ErrRunInProgress is returned by Run when another run has not finished.
var ErrRunInProgress = errors.New("run already in progress")

// DefaultStaleAfter is how old the newest sensor row may get before an alert.
const DefaultStaleAfter = 2 * time.Hour

// SensorReader reads the raw rows of a configured data source.
type SensorReader interface {
	ReadRows(ctx context.Context, path string) ([]models.SensorRow, error)
}

// Resolver maps a postal code to a station ID.
type Resolver interface {
	ResolveStation(ctx context.Context, postalCode string) (string, error)
}

// ChartSink receives assembled charts.
type ChartSink interface {
	PublishChart(ctx context.Context, chart models.Chart) error
}

// SourceConfig describes one data source.
type SourceConfig struct {
	Name       string
	Path       string
	PostalCode string
	Charts     []ChartSpec
}

// SourceReport is the outcome of updating one source.
type SourceReport struct {
	Name          string    `json:"name"`
	StationID     string    `json:"stationId,omitempty"`
	Rows          int       `json:"rows"`
	Charts        int       `json:"charts"`
	LatestReading time.Time `json:"latestReading,omitempty"`
	Stale         bool      `json:"stale"`
	Error         string    `json:"error,omitempty"`

	read bool
}

// RunReport summarizes one run over all sources.
type RunReport struct {
	RunID      string         `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Sources    []SourceReport `json:"sources"`
	Alerts     int            `json:"alerts"`
}

// Status is "success" when every source updated, "failed" when none did and
// "partial" otherwise.
func (r RunReport) Status() string {
	failed := 0
	for _, s := range r.Sources {
		if s.Error != "" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "success"
	case failed == len(r.Sources):
		return "failed"
	default:
		return "partial"
	}
}

// UpdaterDeps groups the collaborators of an Updater.
type UpdaterDeps struct {
	Reader    SensorReader
	Resolver  Resolver
	Assembler *ChartAssembler
	Sinks     []ChartSink
	Notifier  alert.Notifier
	Stats     *runstats.Tracker
	Logger    *zap.Logger
}

// Updater is the invocation boundary of the chart job. Sources are processed
// one after another; a failing source is logged and skipped.
type Updater struct {
	sources    []SourceConfig
	deps       UpdaterDeps
	staleAfter time.Duration
	location   *time.Location
	now        func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *RunReport
}

// NewUpdater creates an Updater for sources. Alert times are formatted in loc.
func NewUpdater(sources []SourceConfig, deps UpdaterDeps, staleAfter time.Duration, loc *time.Location) *Updater {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if loc == nil {
		loc = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Stats == nil {
		deps.Stats = runstats.NewTracker(0)
	}
	return &Updater{
		sources:    sources,
		deps:       deps,
		staleAfter: staleAfter,
		location:   loc,
		now:        time.Now,
	}
}

// Running reports whether a run is in progress.
func (u *Updater) Running() bool {
	return u.running.Load()
}

// LastReport returns the report of the most recent finished run.
func (u *Updater) LastReport() (RunReport, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.last == nil {
		return RunReport{}, false
	}
	return *u.last, true
}

// Run updates every source and then checks data freshness. It returns
// ErrRunInProgress if a run is active. Source failures are reported in the
// RunReport, never as an error.
func (u *Updater) Run(ctx context.Context) (RunReport, error) {
	if !u.running.CompareAndSwap(false, true) {
		return RunReport{}, ErrRunInProgress
	}
	defer u.running.Store(false)

	report := RunReport{RunID: uuid.NewString(), StartedAt: u.now()}
	logger := u.deps.Logger.With(zap.String("run_id", report.RunID))
	ctx = observability.WithLogger(ctx, logger)
	logger.Info("run started", zap.Int("sources", len(u.sources)))

	for _, src := range u.sources {
		sr := u.updateSource(ctx, src)
		report.Sources = append(report.Sources, sr)
	}

	report.Alerts = u.checkFreshness(ctx, report.Sources)
	report.FinishedAt = u.now()

	status := report.Status()
	duration := report.FinishedAt.Sub(report.StartedAt)
	observability.RunsTotal.WithLabelValues(status).Inc()
	observability.RunDurationSeconds.Observe(duration.Seconds())
	u.deps.Stats.RecordRun(report.FinishedAt)

	logger.Info("run finished",
		zap.String("status", status),
		zap.Int("alerts", report.Alerts),
		zap.Duration("duration", duration))

	u.mu.Lock()
	u.last = &report
	u.mu.Unlock()
	return report, nil
}

func (u *Updater) updateSource(ctx context.Context, src SourceConfig) SourceReport {
	sr := SourceReport{Name: src.Name}
	logger := loggerOr(ctx, u.deps.Logger).With(zap.String("source", src.Name))
	ctx = observability.WithLogger(ctx, logger)

	err := u.processSource(ctx, src, &sr)
	if err != nil {
		sr.Error = err.Error()
		observability.SourceUpdatesTotal.WithLabelValues(src.Name, "failed").Inc()
		u.deps.Stats.RecordFailure()
		logger.Error("source update failed", zap.Error(err))
		return sr
	}
	observability.SourceUpdatesTotal.WithLabelValues(src.Name, "success").Inc()
	u.deps.Stats.RecordSuccess()
	logger.Info("source updated",
		zap.String("station_id", sr.StationID),
		zap.Int("rows", sr.Rows),
		zap.Int("charts", sr.Charts))
	return sr
}

func (u *Updater) processSource(ctx context.Context, src SourceConfig, sr *SourceReport) error {
	rows, err := u.deps.Reader.ReadRows(ctx, src.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", src.Path, err)
	}
	sr.read = true
	sr.Rows = len(rows)
	for _, r := range rows {
		if r.Timestamp.After(sr.LatestReading) {
			sr.LatestReading = r.Timestamp
		}
	}

	stationID, err := u.deps.Resolver.ResolveStation(ctx, src.PostalCode)
	if err != nil {
		return err
	}
	sr.StationID = stationID

	for _, spec := range src.Charts {
		chart, err := u.deps.Assembler.Assemble(ctx, src.Name, spec, stationID, rows)
		if err != nil {
			return err
		}
		for _, sink := range u.deps.Sinks {
			if err := sink.PublishChart(ctx, chart); err != nil {
				loggerOr(ctx, u.deps.Logger).Warn("chart publish failed", zap.String("chart", spec.Name), zap.Error(err))
			}
		}
		sr.Charts++
	}
	return nil
}

// checkFreshness marks every source that was read but whose newest row is
// older than staleAfter, and alerts for it when a notifier is configured.
// Alert failures are logged only.
func (u *Updater) checkFreshness(ctx context.Context, sources []SourceReport) int {
	logger := loggerOr(ctx, u.deps.Logger)
	cutoff := u.now().Add(-u.staleAfter)
	sent := 0
	for i := range sources {
		sr := &sources[i]
		if !sr.read || !sr.LatestReading.Before(cutoff) {
			continue
		}
		sr.Stale = true
		if u.deps.Notifier == nil {
			continue
		}

		msg := fmt.Sprintf("%s: no sensor data", sr.Name)
		if !sr.LatestReading.IsZero() {
			msg = fmt.Sprintf("%s: no sensor data since %s", sr.Name, sr.LatestReading.In(u.location).Format("2006-01-02 15:04"))
		}
		if err := u.deps.Notifier.Notify(ctx, msg); err != nil {
			logger.Warn("freshness alert failed", zap.String("source", sr.Name), zap.Error(err))
			continue
		}
		observability.FreshnessAlertsTotal.WithLabelValues(sr.Name).Inc()
		logger.Info("freshness alert sent", zap.String("source", sr.Name), zap.Time("latest_reading", sr.LatestReading))
		sent++
	}
	return sent
}
