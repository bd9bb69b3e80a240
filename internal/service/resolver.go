package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/cache"
	"github.com/kjstillabower/room-climate-charts/internal/client"
	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/validation"
)

// StationFinder finds the observation station nearest to a coordinate.
type StationFinder interface {
	FindNearest(ctx context.Context, coord models.GeoCoordinate) (models.WeatherStation, error)
}

// StationResolver turns a postal code into the ID of the nearest observation
// station, reusing cached resolutions.
type StationResolver struct {
	geocoder client.Geocoder
	locator  StationFinder
	cache    *cache.StationCache
}

// NewStationResolver creates a StationResolver.
func NewStationResolver(geocoder client.Geocoder, locator StationFinder, stationCache *cache.StationCache) *StationResolver {
	return &StationResolver{geocoder: geocoder, locator: locator, cache: stationCache}
}

// ResolveStation returns the station ID for postalCode. An invalid or
// unknown postal code is models.ErrNotFound.
func (r *StationResolver) ResolveStation(ctx context.Context, postalCode string) (string, error) {
	pc, err := validation.NormalizePostalCode(postalCode)
	if err != nil {
		return "", fmt.Errorf("%w: postal code %q: %v", models.ErrNotFound, postalCode, err)
	}

	return r.cache.GetOrResolve(ctx, pc, func(ctx context.Context) (string, error) {
		coord, err := r.geocoder.Resolve(ctx, pc)
		if err != nil {
			return "", fmt.Errorf("resolve postal code %s: %w", pc, err)
		}
		station, err := r.locator.FindNearest(ctx, coord)
		if err != nil {
			return "", fmt.Errorf("find station near %s: %w", pc, err)
		}
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Info("station resolved",
				zap.String("postal_code", pc),
				zap.String("station_id", station.ID),
				zap.String("station_name", station.Name))
		}
		return station.ID, nil
	})
}
