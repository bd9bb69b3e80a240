// Package store persists fetched outdoor temperature readings. It is the
// durable cache tier behind the enricher: rows are only ever appended, and
// duplicate (station, hour) rows are tolerated on read.
package store

import (
	"context"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// ReadingStore is an append-only log of (hour, station, temperature) rows.
type ReadingStore interface {
	// Append writes every reading with a present temperature. Readings with
	// a nil temperature are dropped. No duplicate check is made.
	Append(ctx context.Context, stationID string, readings []models.HourlyTemperature) error

	// Query returns the readings of stationID whose hour lies in [start, end],
	// keyed by models.HourKey. When several rows share an hour the first row
	// in scan order wins.
	Query(ctx context.Context, stationID string, start, end time.Time) (map[time.Time]float64, error)
}

// present returns the readings that carry a temperature, normalized to their hour.
func present(readings []models.HourlyTemperature) []models.TemperatureReading {
	out := make([]models.TemperatureReading, 0, len(readings))
	for _, r := range readings {
		if r.Temperature == nil {
			continue
		}
		out = append(out, models.TemperatureReading{
			Timestamp:   models.HourKey(r.Timestamp),
			Temperature: *r.Temperature,
		})
	}
	return out
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
