package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// StationDirectory lists observation stations in directory order.
type StationDirectory interface {
	Stations(ctx context.Context) ([]models.WeatherStation, error)
}

// StationTableClient fetches the station table: a JSON object keyed by station
// ID whose positions are [degrees, minutes] pairs.
type StationTableClient struct {
	tableURL string
	req      *requester
}

// NewStationTableClient returns a directory client for tableURL.
func NewStationTableClient(tableURL string, opts Options) (*StationTableClient, error) {
	if _, err := url.Parse(tableURL); err != nil || tableURL == "" {
		return nil, fmt.Errorf("invalid station table URL %q", tableURL)
	}
	return &StationTableClient{tableURL: tableURL, req: newRequester("stations", opts)}, nil
}

type stationEntry struct {
	Lat    []float64 `json:"lat"`
	Lon    []float64 `json:"lon"`
	Alt    float64   `json:"alt"`
	KjName string    `json:"kjName"`
	EnName string    `json:"enName"`
}

// Stations fetches the directory and returns stations in document order.
func (c *StationTableClient) Stations(ctx context.Context) ([]models.WeatherStation, error) {
	body, err := c.req.get(ctx, c.tableURL)
	if err != nil {
		return nil, fmt.Errorf("station directory: %w", err)
	}
	stations, err := parseStationTable(body)
	if err != nil {
		return nil, fmt.Errorf("%w: station directory: %v", models.ErrUpstream, err)
	}
	return stations, nil
}

// parseStationTable streams the top-level object so that document order is kept.
func parseStationTable(body []byte) ([]models.WeatherStation, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("parse: expected object, got %v", tok)
	}

	var out []models.WeatherStation
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("parse: unexpected key %v", tok)
		}
		var e stationEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("parse station %s: %w", id, err)
		}
		if len(e.Lat) != 2 || len(e.Lon) != 2 {
			return nil, fmt.Errorf("station %s: lat/lon must be [degrees, minutes]", id)
		}
		name := e.KjName
		if name == "" {
			name = e.EnName
		}
		out = append(out, models.WeatherStation{
			ID:        id,
			Name:      name,
			Latitude:  e.Lat[0] + e.Lat[1]/60,
			Longitude: e.Lon[0] + e.Lon[1]/60,
			Altitude:  e.Alt,
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return out, nil
}

// StationLocator finds the station closest to a coordinate.
type StationLocator struct {
	directory StationDirectory
}

// NewStationLocator returns a locator backed by directory.
func NewStationLocator(directory StationDirectory) *StationLocator {
	return &StationLocator{directory: directory}
}

// FindNearest fetches the directory and returns the nearest station.
func (l *StationLocator) FindNearest(ctx context.Context, coord models.GeoCoordinate) (models.WeatherStation, error) {
	stations, err := l.directory.Stations(ctx)
	if err != nil {
		return models.WeatherStation{}, err
	}
	return Nearest(coord, stations)
}

// Nearest returns the station with the smallest Haversine distance to coord.
// Ties go to the station that appears first in stations.
func Nearest(coord models.GeoCoordinate, stations []models.WeatherStation) (models.WeatherStation, error) {
	if len(stations) == 0 {
		return models.WeatherStation{}, fmt.Errorf("%w: station directory is empty", models.ErrNotFound)
	}
	best := 0
	bestDist := Haversine(coord, stations[0].Coordinate())
	for i := 1; i < len(stations); i++ {
		d := Haversine(coord, stations[i].Coordinate())
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return stations[best], nil
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b models.GeoCoordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
