package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// DefaultDailyThreshold is the longest range still charted at raw granularity.
const DefaultDailyThreshold = 7 * 24 * time.Hour

// OutdoorEnricher attaches outdoor temperatures to timestamps for a station.
type OutdoorEnricher interface {
	Enrich(ctx context.Context, stationID string, timestamps []time.Time) ([]models.HourlyTemperature, error)
}

// ChartSpec names a chart of a source and the trailing range it covers.
type ChartSpec struct {
	Name  string
	Range time.Duration
}

// ChartAssembler builds chart data from raw rows. Ranges up to the daily
// threshold produce raw rows; longer ranges produce daily aggregates.
type ChartAssembler struct {
	enricher       OutdoorEnricher
	aggregator     *DailyAggregator
	dailyThreshold time.Duration
	now            func() time.Time
}

// NewChartAssembler creates a ChartAssembler. A non-positive dailyThreshold
// selects DefaultDailyThreshold.
func NewChartAssembler(enricher OutdoorEnricher, aggregator *DailyAggregator, dailyThreshold time.Duration) *ChartAssembler {
	if dailyThreshold <= 0 {
		dailyThreshold = DefaultDailyThreshold
	}
	return &ChartAssembler{
		enricher:       enricher,
		aggregator:     aggregator,
		dailyThreshold: dailyThreshold,
		now:            time.Now,
	}
}

// Assemble builds the chart spec for source from rows within the trailing
// range. stationID selects the outdoor temperature series.
func (a *ChartAssembler) Assemble(ctx context.Context, source string, spec ChartSpec, stationID string, rows []models.SensorRow) (models.Chart, error) {
	to := a.now()
	from := to.Add(-spec.Range)

	var window []models.SensorRow
	for _, r := range rows {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			window = append(window, r)
		}
	}

	chart := models.Chart{
		Source:      source,
		Name:        spec.Name,
		StationID:   stationID,
		From:        from,
		To:          to,
		GeneratedAt: to,
	}

	if spec.Range <= a.dailyThreshold {
		chart.Kind = models.ChartKindRaw
		chartRows, err := a.rawRows(ctx, stationID, window)
		if err != nil {
			return models.Chart{}, fmt.Errorf("chart %s/%s: %w", source, spec.Name, err)
		}
		chart.Rows = chartRows
		return chart, nil
	}

	chart.Kind = models.ChartKindDaily
	daily, err := a.aggregator.Aggregate(ctx, window, func(ctx context.Context, hours []time.Time) ([]models.HourlyTemperature, error) {
		return a.enricher.Enrich(ctx, stationID, hours)
	})
	if err != nil {
		return models.Chart{}, fmt.Errorf("chart %s/%s: %w", source, spec.Name, err)
	}
	chart.Daily = daily
	return chart, nil
}

func (a *ChartAssembler) rawRows(ctx context.Context, stationID string, rows []models.SensorRow) ([]models.ChartRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	timestamps := make([]time.Time, len(rows))
	for i, r := range rows {
		timestamps[i] = r.Timestamp
	}
	outdoor, err := a.enricher.Enrich(ctx, stationID, timestamps)
	if err != nil {
		return nil, err
	}

	out := make([]models.ChartRow, len(rows))
	for i, r := range rows {
		out[i] = models.ChartRow{
			Timestamp:          r.Timestamp,
			IndoorTemperature:  r.Temperature,
			Humidity:           r.Humidity,
			OutdoorTemperature: outdoor[i].Temperature,
		}
	}
	return out, nil
}
