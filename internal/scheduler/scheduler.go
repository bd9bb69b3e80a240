// Package scheduler triggers the chart job on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultCron runs the job five minutes past every hour, after the upstream
// has published the previous hour.
const DefaultCron = "5 * * * *"

// Job is the work triggered on each tick.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron expression. Singleton mode guarantees that
// ticks never overlap: a tick that fires while the previous run is still
// going is skipped.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	job        Job
	cron       string
	runTimeout time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating cron in loc. A non-positive runTimeout
// leaves runs unbounded.
func New(cron string, loc *time.Location, runTimeout time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if cron == "" {
		cron = DefaultCron
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler:  s,
		job:        job,
		cron:       cron,
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the job and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if s.job == nil {
		return errors.New("scheduler: no job configured")
	}
	job, err := s.scheduler.Cron(s.cron).Do(s.tick)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron %q: %w", s.cron, err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.String("cron", s.cron), zap.Time("next_run", job.NextRun()))
	return nil
}

// NextRun returns the time of the next scheduled tick, zero if not started.
func (s *Scheduler) NextRun() time.Time {
	_, t := s.scheduler.NextRun()
	return t
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.logger.Debug("scheduled run triggered")
	if err := s.job(ctx); err != nil {
		s.logger.Warn("scheduled run did not complete", zap.Error(err))
	}
}

// Stop cancels any in-flight run and stops future ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
