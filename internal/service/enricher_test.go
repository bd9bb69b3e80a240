package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/throttle"
)

var enrichNow = time.Date(2024, 1, 10, 12, 30, 0, 0, time.UTC)

func newTestEnricher(st *memStore, f *fakeFetcher, logger *zap.Logger) *Enricher {
	e := NewEnricher(st, f, nil, 48*time.Hour, logger)
	e.now = func() time.Time { return enrichNow }
	return e
}

func hoursAgo(h int) time.Time {
	return models.NormalizeHour(enrichNow).Add(-time.Duration(h) * time.Hour)
}

func assertTemp(t *testing.T, got models.HourlyTemperature, want *float64) {
	t.Helper()
	switch {
	case want == nil && got.Temperature != nil:
		t.Errorf("%v: temperature = %v, want absent", got.Timestamp, *got.Temperature)
	case want != nil && got.Temperature == nil:
		t.Errorf("%v: temperature absent, want %v", got.Timestamp, *want)
	case want != nil && *got.Temperature != *want:
		t.Errorf("%v: temperature = %v, want %v", got.Timestamp, *got.Temperature, *want)
	}
}

func TestEnricher_Enrich_PreservesOrderAndCardinality(t *testing.T) {
	st := &memStore{}
	_ = st.Append(context.Background(), "S", []models.HourlyTemperature{{Timestamp: hoursAgo(5), Temperature: models.Float(5)}})
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(1): 1, hoursAgo(3): 3}}
	e := newTestEnricher(st, f, nil)

	input := []time.Time{
		hoursAgo(1).Add(15 * time.Minute),
		hoursAgo(100),
		hoursAgo(5).Add(59 * time.Minute),
		hoursAgo(3),
		hoursAgo(1).Add(15 * time.Minute),
		hoursAgo(2),
	}
	want := []*float64{models.Float(1), nil, models.Float(5), models.Float(3), models.Float(1), nil}

	got, err := e.Enrich(context.Background(), "S", input)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(got) != len(input) {
		t.Fatalf("len = %d, want %d", len(got), len(input))
	}
	for i := range input {
		if !got[i].Timestamp.Equal(input[i]) {
			t.Errorf("result[%d].Timestamp = %v, want %v", i, got[i].Timestamp, input[i])
		}
		assertTemp(t, got[i], want[i])
	}
}

func TestEnricher_Enrich_FetchesNormalizedHours(t *testing.T) {
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(1): 7}}
	e := newTestEnricher(&memStore{}, f, nil)

	_, err := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1).Add(45*time.Minute + 10*time.Second)})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(f.calls) != 1 || !f.calls[0].Equal(hoursAgo(1)) {
		t.Errorf("fetch calls = %v, want [%v]", f.calls, hoursAgo(1))
	}
}

func TestEnricher_Enrich_IsIdempotent(t *testing.T) {
	st := &memStore{}
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(0): 10, hoursAgo(1): 11, hoursAgo(2): 12}}
	e := newTestEnricher(st, f, nil)
	input := []time.Time{hoursAgo(2), hoursAgo(1), hoursAgo(0)}

	first, err := e.Enrich(context.Background(), "S", input)
	if err != nil {
		t.Fatalf("first Enrich() error = %v", err)
	}
	callsAfterFirst := f.callCount()
	if callsAfterFirst != 3 {
		t.Fatalf("first call fetches = %d, want 3", callsAfterFirst)
	}

	second, err := e.Enrich(context.Background(), "S", input)
	if err != nil {
		t.Fatalf("second Enrich() error = %v", err)
	}
	if f.callCount() != callsAfterFirst {
		t.Errorf("second call issued %d new fetches, want 0", f.callCount()-callsAfterFirst)
	}
	for i := range first {
		if !first[i].Timestamp.Equal(second[i].Timestamp) {
			t.Errorf("timestamp[%d] differs", i)
		}
		assertTemp(t, second[i], first[i].Temperature)
	}
	if st.appends != 1 {
		t.Errorf("store appends = %d, want 1 (batched, none on second call)", st.appends)
	}
}

func TestEnricher_Enrich_RecentWindowBoundary(t *testing.T) {
	f := &fakeFetcher{}
	e := newTestEnricher(&memStore{}, f, nil)
	cutoff := enrichNow.Add(-48 * time.Hour)

	_, err := e.Enrich(context.Background(), "S", []time.Time{cutoff, cutoff.Add(-time.Second)})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1 (only the in-window timestamp)", len(f.calls))
	}
	if !f.calls[0].Equal(models.NormalizeHour(cutoff)) {
		t.Errorf("fetched %v, want %v", f.calls[0], models.NormalizeHour(cutoff))
	}
}

func TestEnricher_Enrich_OldGapsNeverFetched(t *testing.T) {
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(72): 1}}
	e := newTestEnricher(&memStore{}, f, nil)

	got, _ := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(72), hoursAgo(96)})
	if len(f.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(f.calls))
	}
	assertTemp(t, got[0], nil)
	assertTemp(t, got[1], nil)
}

func TestEnricher_Enrich_PerHourFailureIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := &memStore{}
	f := &fakeFetcher{
		values: map[time.Time]float64{hoursAgo(1): 1, hoursAgo(3): 3},
		errs:   map[time.Time]error{hoursAgo(2): errors.New("upstream failure: hourly: request timeout")},
	}
	e := newTestEnricher(st, f, zap.New(core))

	got, err := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1), hoursAgo(2), hoursAgo(3)})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	assertTemp(t, got[0], models.Float(1))
	assertTemp(t, got[1], nil)
	assertTemp(t, got[2], models.Float(3))
	if n := logs.FilterMessage("hourly fetch failed").Len(); n != 1 {
		t.Errorf("fetch failure warnings = %d, want 1", n)
	}
	if len(st.rows) != 2 {
		t.Errorf("stored rows = %d, want 2", len(st.rows))
	}
}

func TestEnricher_Enrich_AbsentIsRetriedNextCall(t *testing.T) {
	st := &memStore{}
	f := &fakeFetcher{}
	e := newTestEnricher(st, f, nil)
	input := []time.Time{hoursAgo(1)}

	_, _ = e.Enrich(context.Background(), "S", input)
	if len(st.rows) != 0 || st.appends != 0 {
		t.Fatalf("absent reading persisted: rows=%d appends=%d", len(st.rows), st.appends)
	}

	f.values = map[time.Time]float64{hoursAgo(1): 4}
	got, _ := e.Enrich(context.Background(), "S", input)
	assertTemp(t, got[0], models.Float(4))
	if len(f.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(f.calls))
	}
}

func TestEnricher_Enrich_SameHourFetchedPerTimestamp(t *testing.T) {
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(1): 6}}
	e := newTestEnricher(&memStore{}, f, nil)

	got, _ := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1).Add(10 * time.Minute), hoursAgo(1).Add(40 * time.Minute)})
	if len(f.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(f.calls))
	}
	assertTemp(t, got[0], models.Float(6))
	assertTemp(t, got[1], models.Float(6))
}

func TestEnricher_Enrich_StoredHourFoundFromMidHourMinimum(t *testing.T) {
	st := &memStore{}
	_ = st.Append(context.Background(), "S", []models.HourlyTemperature{{Timestamp: hoursAgo(80), Temperature: models.Float(2)}})
	f := &fakeFetcher{}
	e := newTestEnricher(st, f, nil)

	got, _ := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(80).Add(30 * time.Minute)})
	assertTemp(t, got[0], models.Float(2))
	if len(f.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(f.calls))
	}
}

func TestEnricher_Enrich_AppendFailureIsSoft(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := &memStore{appendErr: errors.New("disk full")}
	f := &fakeFetcher{values: map[time.Time]float64{hoursAgo(1): 9}}
	e := newTestEnricher(st, f, zap.New(core))

	got, err := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1)})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	assertTemp(t, got[0], models.Float(9))
	if logs.FilterMessage("reading store append failed").Len() != 1 {
		t.Error("expected append failure warning")
	}
}

func TestEnricher_Enrich_StoreQueryFailure(t *testing.T) {
	boom := errors.New("store unavailable")
	e := newTestEnricher(&memStore{queryErr: boom}, &fakeFetcher{}, nil)

	_, err := e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1)})
	if !errors.Is(err, boom) {
		t.Errorf("Enrich() error = %v, want %v", err, boom)
	}
}

func TestEnricher_Enrich_Empty(t *testing.T) {
	st := &memStore{queryErr: errors.New("should not be called")}
	e := newTestEnricher(st, &fakeFetcher{}, nil)

	got, err := e.Enrich(context.Background(), "S", nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Enrich(nil) = %v, %v; want empty, nil", got, err)
	}
}

type cancellingFetcher struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingFetcher) FetchHour(ctx context.Context, stationID string, hour time.Time) (*float64, error) {
	c.calls++
	if c.calls == 2 {
		c.cancel()
		return nil, ctx.Err()
	}
	return models.Float(float64(c.calls)), nil
}

func TestEnricher_Enrich_CancellationPersistsFetched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &memStore{}
	f := &cancellingFetcher{cancel: cancel}
	e := NewEnricher(st, f, nil, 48*time.Hour, nil)
	e.now = func() time.Time { return enrichNow }

	_, err := e.Enrich(ctx, "S", []time.Time{hoursAgo(3), hoursAgo(2), hoursAgo(1)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Enrich() error = %v, want context.Canceled", err)
	}
	if f.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.calls)
	}
	if len(st.rows) != 1 {
		t.Errorf("stored rows = %d, want 1", len(st.rows))
	}
}

func TestEnricher_Enrich_PacesFetches(t *testing.T) {
	f := &fakeFetcher{}
	e := NewEnricher(&memStore{}, f, throttle.NewPacer(20*time.Millisecond), 48*time.Hour, nil)
	e.now = func() time.Time { return enrichNow }

	start := time.Now()
	_, _ = e.Enrich(context.Background(), "S", []time.Time{hoursAgo(1), hoursAgo(2), hoursAgo(3)})
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 paced fetches took %v, want >= ~40ms", elapsed)
	}
}

func TestEnricher_Enrich_FutureHoursNotFetched(t *testing.T) {
	f := &fakeFetcher{}
	e := newTestEnricher(&memStore{}, f, nil)

	got, _ := e.Enrich(context.Background(), "S", []time.Time{enrichNow.Add(time.Hour)})
	if len(f.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(f.calls))
	}
	assertTemp(t, got[0], nil)
}
