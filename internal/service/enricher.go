package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/client"
	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
	"github.com/kjstillabower/room-climate-charts/internal/store"
	"github.com/kjstillabower/room-climate-charts/internal/throttle"
)

// DefaultRecentWindow is how far back a missing hour is still fetched live.
const DefaultRecentWindow = 48 * time.Hour

// Enricher attaches outdoor temperatures to timestamps. Stored readings are
// used first; missing hours inside the recent window are fetched one at a
// time and appended to the store. Older missing hours stay absent, as do
// timestamps in the future.
type Enricher struct {
	store        store.ReadingStore
	fetcher      client.TemperatureFetcher
	pacer        *throttle.Pacer
	recentWindow time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewEnricher creates an Enricher. A nil pacer disables pacing and a
// non-positive recentWindow selects DefaultRecentWindow.
func NewEnricher(readings store.ReadingStore, fetcher client.TemperatureFetcher, pacer *throttle.Pacer, recentWindow time.Duration, logger *zap.Logger) *Enricher {
	if pacer == nil {
		pacer = throttle.NewPacer(0)
	}
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	return &Enricher{
		store:        readings,
		fetcher:      fetcher,
		pacer:        pacer,
		recentWindow: recentWindow,
		now:          time.Now,
		logger:       logger,
	}
}

// Enrich returns one HourlyTemperature per timestamp, in input order, with
// Timestamp set to the input instant. Absent temperatures are nil.
//
// A fetch error for one hour leaves that hour absent. Only a store query
// failure or cancellation of ctx fails the call; readings fetched before
// cancellation are still persisted.
func (e *Enricher) Enrich(ctx context.Context, stationID string, timestamps []time.Time) ([]models.HourlyTemperature, error) {
	result := make([]models.HourlyTemperature, len(timestamps))
	if len(timestamps) == 0 {
		return result, nil
	}
	logger := loggerOr(ctx, e.logger)

	minTS, maxTS := timestamps[0], timestamps[0]
	for i, ts := range timestamps {
		result[i].Timestamp = ts
		if ts.Before(minTS) {
			minTS = ts
		}
		if ts.After(maxTS) {
			maxTS = ts
		}
	}

	stored, err := e.store.Query(ctx, stationID, models.HourKey(minTS), maxTS)
	if err != nil {
		return nil, fmt.Errorf("query reading store for %s: %w", stationID, err)
	}

	now := e.now()
	cutoff := now.Add(-e.recentWindow)
	var gaps []int
	var hits, expired int
	for i, ts := range timestamps {
		if v, ok := stored[models.HourKey(ts)]; ok {
			result[i].Temperature = models.Float(v)
			hits++
			continue
		}
		if ts.Before(cutoff) || ts.After(now) {
			expired++
			continue
		}
		gaps = append(gaps, i)
	}
	observability.ReadingStoreHitsTotal.Add(float64(hits))
	observability.ReadingStoreExpiredMissesTotal.Add(float64(expired))
	observability.ReadingStoreGapsTotal.Add(float64(len(gaps)))

	var fetched []models.HourlyTemperature
	var absent, failed int
	fetchErr := e.pacer.Each(ctx, len(gaps), func(j int) error {
		i := gaps[j]
		hour := models.NormalizeHour(timestamps[i])
		v, err := e.fetcher.FetchHour(ctx, stationID, hour)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			logger.Warn("hourly fetch failed",
				zap.String("station_id", stationID),
				zap.Time("hour", hour),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err))
			return nil
		}
		if v == nil {
			absent++
			logger.Debug("hourly reading absent", zap.String("station_id", stationID), zap.Time("hour", hour))
			return nil
		}
		result[i].Temperature = v
		fetched = append(fetched, models.HourlyTemperature{Timestamp: hour, Temperature: v})
		return nil
	})
	observability.HourlyFetchAbsentTotal.Add(float64(absent + failed))

	if len(fetched) > 0 {
		// Persist with a context that survives run cancellation so that
		// work already paid for is kept.
		appendCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			appendCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
		}
		if err := e.store.Append(appendCtx, stationID, fetched); err != nil {
			logger.Warn("reading store append failed", zap.String("station_id", stationID), zap.Int("readings", len(fetched)), zap.Error(err))
		} else {
			observability.ReadingStoreAppendedTotal.Add(float64(len(fetched)))
		}
	}

	logger.Debug("enrichment complete",
		zap.String("station_id", stationID),
		zap.Int("requested", len(timestamps)),
		zap.Int("stored", hits),
		zap.Int("expired", expired),
		zap.Int("gaps", len(gaps)),
		zap.Int("fetched", len(fetched)),
		zap.Int("absent", absent),
		zap.Int("failed", failed))

	if fetchErr != nil {
		return nil, fmt.Errorf("enrich %s: %w", stationID, fetchErr)
	}
	return result, nil
}
