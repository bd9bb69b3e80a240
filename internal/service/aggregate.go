package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// OutdoorLookup returns outdoor temperatures for the given hours, one per
// hour in the same order.
type OutdoorLookup func(ctx context.Context, hours []time.Time) ([]models.HourlyTemperature, error)

// DailyAggregator rolls raw rows up into per-day max/min summaries. Days are
// calendar days in the aggregator's location.
type DailyAggregator struct {
	location *time.Location
}

// NewDailyAggregator creates a DailyAggregator for loc (UTC if nil).
func NewDailyAggregator(loc *time.Location) *DailyAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyAggregator{location: loc}
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

// Aggregate returns one entry per day that has at least one row, sorted by
// date. When outdoor is non-nil it is called once per day with that day's 24
// hourly instants; outdoor max/min cover present values only and stay nil
// when every hour is absent.
func (a *DailyAggregator) Aggregate(ctx context.Context, rows []models.SensorRow, outdoor OutdoorLookup) ([]models.DailyAggregate, error) {
	byDay := make(map[dayKey]*models.DailyAggregate)
	for _, r := range rows {
		y, m, d := r.Timestamp.In(a.location).Date()
		k := dayKey{y, m, d}
		agg, ok := byDay[k]
		if !ok {
			byDay[k] = &models.DailyAggregate{
				Date:          time.Date(y, m, d, 0, 0, 0, 0, a.location),
				IndoorTempMax: r.Temperature,
				IndoorTempMin: r.Temperature,
				HumidityMax:   r.Humidity,
				HumidityMin:   r.Humidity,
			}
			continue
		}
		agg.IndoorTempMax = max(agg.IndoorTempMax, r.Temperature)
		agg.IndoorTempMin = min(agg.IndoorTempMin, r.Temperature)
		agg.HumidityMax = max(agg.HumidityMax, r.Humidity)
		agg.HumidityMin = min(agg.HumidityMin, r.Humidity)
	}

	out := make([]models.DailyAggregate, 0, len(byDay))
	for _, agg := range byDay {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	if outdoor == nil {
		return out, nil
	}
	for i := range out {
		temps, err := outdoor(ctx, a.DayHours(out[i].Date))
		if err != nil {
			return nil, fmt.Errorf("outdoor temperatures for %s: %w", out[i].Date.Format("2006-01-02"), err)
		}
		out[i].OutdoorTempMax, out[i].OutdoorTempMin = presentRange(temps)
	}
	return out, nil
}

// DayHours returns the top-of-hour instants of the calendar day of date,
// stepping in elapsed hours from local midnight. Days with a daylight saving
// transition yield 23 or 25 distinct instants.
func (a *DailyAggregator) DayHours(date time.Time) []time.Time {
	y, m, d := date.In(a.location).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, a.location)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, a.location)
	hours := make([]time.Time, 0, 25)
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return hours
}

func presentRange(temps []models.HourlyTemperature) (hi, lo *float64) {
	for _, t := range temps {
		if t.Temperature == nil {
			continue
		}
		v := *t.Temperature
		if hi == nil || v > *hi {
			hi = models.Float(v)
		}
		if lo == nil || v < *lo {
			lo = models.Float(v)
		}
	}
	return hi, lo
}
