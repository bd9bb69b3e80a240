package models

import "time"

// SensorRow is one raw indoor reading from a tabular data source.
type SensorRow struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
}

// ChartRow is a raw-granularity chart point enriched with outdoor temperature.
type ChartRow struct {
	Timestamp          time.Time `json:"timestamp"`
	IndoorTemperature  float64   `json:"indoorTemperature"`
	Humidity           float64   `json:"humidity"`
	OutdoorTemperature *float64  `json:"outdoorTemperature"`
}

// DailyAggregate summarizes one calendar day of readings.
type DailyAggregate struct {
	Date           time.Time `json:"date"`
	IndoorTempMax  float64   `json:"indoorTempMax"`
	IndoorTempMin  float64   `json:"indoorTempMin"`
	HumidityMax    float64   `json:"humidityMax"`
	HumidityMin    float64   `json:"humidityMin"`
	OutdoorTempMax *float64  `json:"outdoorTempMax"`
	OutdoorTempMin *float64  `json:"outdoorTempMin"`
}

// ChartKind selects the granularity of a chart.
type ChartKind string

const (
	ChartKindRaw   ChartKind = "raw"
	ChartKindDaily ChartKind = "daily"
)

// Chart is the assembled data handed to the rendering host.
type Chart struct {
	Source      string           `json:"source"`
	Name        string           `json:"name"`
	Kind        ChartKind        `json:"kind"`
	StationID   string           `json:"stationId,omitempty"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Rows        []ChartRow       `json:"rows,omitempty"`
	Daily       []DailyAggregate `json:"daily,omitempty"`
}
