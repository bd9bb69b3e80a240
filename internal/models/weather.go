package models

import "time"

// GeoCoordinate is a point in decimal degrees.
type GeoCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WeatherStation is an entry of the observation station directory.
type WeatherStation struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Coordinate returns the station position.
func (s WeatherStation) Coordinate() GeoCoordinate {
	return GeoCoordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// HourlyTemperature is one outdoor temperature value. Temperature is nil when
// no reading is known for the hour.
type HourlyTemperature struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature"`
}

// TemperatureReading is a persisted outdoor reading for a station hour.
type TemperatureReading struct {
	Timestamp   time.Time
	StationID   string
	Temperature float64
}

// NormalizeHour truncates t to the top of its hour. Time zones with a
// sub-hour UTC offset are handled by truncating in t's own location.
func NormalizeHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// HourKey returns the normalized hour of t as a UTC instant. Lookup tables
// keyed by hour use this form so that equal hours compare equal as map keys.
func HourKey(t time.Time) time.Time {
	return NormalizeHour(t).UTC()
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
