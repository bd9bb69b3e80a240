package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// DefaultStationTTL is how long a postal code to station ID resolution is reused.
const DefaultStationTTL = 24 * time.Hour

// StationCache maps postal codes to resolved station IDs. Only the ID is
// stored; coordinates and station details are never cached.
type StationCache struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewStationCache wraps c. A non-positive ttl selects DefaultStationTTL.
func NewStationCache(c Cache, ttl time.Duration, logger *zap.Logger) *StationCache {
	if ttl <= 0 {
		ttl = DefaultStationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StationCache{cache: c, ttl: ttl, logger: logger}
}

// GetOrResolve returns the cached station ID for postalCode, or calls resolve
// and caches its result. A backend read error is treated as a miss and a
// backend write error is logged; neither fails the lookup.
func (s *StationCache) GetOrResolve(ctx context.Context, postalCode string, resolve func(ctx context.Context) (string, error)) (string, error) {
	id, ok, err := s.cache.Get(ctx, postalCode)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("station cache get failed", zap.String("postal_code", postalCode), zap.Error(err))
	}
	if ok && id != "" {
		observability.StationCacheHitsTotal.Inc()
		return id, nil
	}
	observability.StationCacheMissesTotal.Inc()

	id, err = resolve(ctx)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, postalCode, id, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("station cache set failed", zap.String("postal_code", postalCode), zap.Error(err))
	}
	return id, nil
}
