package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// StationResolver is implemented by the service layer. Used by StationWarmer
// to avoid a circular dependency on the service package.
type StationResolver interface {
	ResolveStation(ctx context.Context, postalCode string) (string, error)
}

// StationWarmer resolves configured postal codes ahead of the first run so
// the station cache is populated.
type StationWarmer struct {
	resolver StationResolver
	logger   *zap.Logger
}

// NewStationWarmer creates a StationWarmer.
func NewStationWarmer(resolver StationResolver, logger *zap.Logger) *StationWarmer {
	return &StationWarmer{resolver: resolver, logger: logger}
}

// Warm resolves each distinct postal code in order. Resolutions run one at a
// time so warming does not burst the geocoder. Returns a joined error if any
// postal code failed.
func (w *StationWarmer) Warm(ctx context.Context, postalCodes []string) error {
	start := time.Now()
	observability.StationWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming station cache", zap.Int("postal_codes", len(postalCodes)))
	}

	seen := make(map[string]struct{}, len(postalCodes))
	var errs []error
	for _, pc := range postalCodes {
		if _, dup := seen[pc]; dup {
			continue
		}
		seen[pc] = struct{}{}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		id, err := w.resolver.ResolveStation(ctx, pc)
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", pc, err))
			continue
		}
		if w.logger != nil {
			w.logger.Debug("station resolved", zap.String("postal_code", pc), zap.String("station_id", id))
		}
	}

	duration := time.Since(start).Seconds()
	observability.StationWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("station cache warming complete",
			zap.Int("postal_codes", len(seen)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.StationWarmingErrorsTotal.Inc()
		return fmt.Errorf("station warming: %w", errors.Join(errs...))
	}
	return nil
}
