package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// memStore is an in-memory ReadingStore with the same first-match semantics
// as the real backends.
type memStore struct {
	mu        sync.Mutex
	rows      []storedRow
	appends   int
	queryErr  error
	appendErr error
}

type storedRow struct {
	hour      time.Time
	stationID string
	temp      float64
}

func (m *memStore) Append(ctx context.Context, stationID string, readings []models.HourlyTemperature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, r := range readings {
		if r.Temperature == nil {
			continue
		}
		m.rows = append(m.rows, storedRow{hour: models.HourKey(r.Timestamp), stationID: stationID, temp: *r.Temperature})
	}
	return nil
}

func (m *memStore) Query(ctx context.Context, stationID string, start, end time.Time) (map[time.Time]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make(map[time.Time]float64)
	for _, r := range m.rows {
		if r.stationID != stationID || r.hour.Before(start) || r.hour.After(end) {
			continue
		}
		if _, ok := out[r.hour]; !ok {
			out[r.hour] = r.temp
		}
	}
	return out, nil
}

// fakeFetcher serves temperatures by UTC hour and records every call.
type fakeFetcher struct {
	mu     sync.Mutex
	values map[time.Time]float64
	errs   map[time.Time]error
	calls  []time.Time
}

func (f *fakeFetcher) FetchHour(ctx context.Context, stationID string, hour time.Time) (*float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hour)
	key := hour.UTC()
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if v, ok := f.values[key]; ok {
		return models.Float(v), nil
	}
	return nil, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeReader struct {
	rows map[string][]models.SensorRow
	errs map[string]error
	read []string
}

func (r *fakeReader) ReadRows(ctx context.Context, path string) ([]models.SensorRow, error) {
	r.read = append(r.read, path)
	if err, ok := r.errs[path]; ok {
		return nil, err
	}
	return r.rows[path], nil
}

type fakeResolver struct {
	ids   map[string]string
	calls []string
}

func (r *fakeResolver) ResolveStation(ctx context.Context, postalCode string) (string, error) {
	r.calls = append(r.calls, postalCode)
	if id, ok := r.ids[postalCode]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: postal code %s", models.ErrNotFound, postalCode)
}

type recordingSink struct {
	charts []models.Chart
	err    error
}

func (s *recordingSink) PublishChart(ctx context.Context, chart models.Chart) error {
	s.charts = append(s.charts, chart)
	return s.err
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return n.err
}
