package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestHourlyObservationClient_HourURL(t *testing.T) {
	c, err := NewHourlyObservationClient("https://example.test/map/", tokyo(t), Options{}, BreakerConfig{})
	if err != nil {
		t.Fatalf("NewHourlyObservationClient() error = %v", err)
	}
	hour := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	want := "https://example.test/map/20240102000000.json"
	if got := c.HourURL(hour); got != want {
		t.Errorf("HourURL() = %q, want %q", got, want)
	}
}

func TestHourlyObservationClient_FetchHour(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *float64
		wantErr error
	}{
		{"present", http.StatusOK, `{"44132":{"temp":[12.3,0],"humidity":[40,0]}}`, models.Float(12.3), nil},
		{"negative", http.StatusOK, `{"44132":{"temp":[-3.5,0]}}`, models.Float(-3.5), nil},
		{"station missing", http.StatusOK, `{"11001":{"temp":[1.0,0]}}`, nil, nil},
		{"no temp element", http.StatusOK, `{"44132":{"humidity":[40,0]}}`, nil, nil},
		{"null temp", http.StatusOK, `{"44132":{"temp":[null,5]}}`, nil, nil},
		{"not published", http.StatusNotFound, ``, nil, nil},
		{"server error", http.StatusBadGateway, ``, nil, nil},
		{"malformed neighbour station", http.StatusOK, `{"44132":{"temp":[12.5,0]},"99999":{"temp":"n/a"}}`, models.Float(12.5), nil},
		{"neighbour with non-numeric temp", http.StatusOK, `{"99999":{"temp":["x",0]},"44132":{"temp":[8.0,0]}}`, models.Float(8.0), nil},
		{"malformed requested station", http.StatusOK, `{"44132":{"temp":"n/a"}}`, nil, models.ErrUpstream},
		{"malformed body", http.StatusOK, `<html>`, nil, models.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewHourlyObservationClient(server.URL, time.UTC, Options{Timeout: time.Second}, BreakerConfig{})
			got, err := c.FetchHour(context.Background(), "44132", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FetchHour() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchHour() error = %v", err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("FetchHour() = %v, want absent", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("FetchHour() = %v, want %v", got, *tt.want)
			}
		})
	}
}

func TestHourlyObservationClient_RequestsNormalizedPath(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, _ := NewHourlyObservationClient(server.URL, time.UTC, Options{Timeout: time.Second}, BreakerConfig{})
	_, _ = c.FetchHour(context.Background(), "1", time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC))

	if path != "/20240305070000.json" {
		t.Errorf("path = %q, want /20240305070000.json", path)
	}
}

func TestHourlyObservationClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _ := NewHourlyObservationClient(url, time.UTC, Options{Timeout: time.Second}, BreakerConfig{})
	_, err := c.FetchHour(context.Background(), "1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, models.ErrUpstream) {
		t.Errorf("FetchHour() error = %v, want ErrUpstream", err)
	}
}

func TestHourlyObservationClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var transitions []string
	c, _ := NewHourlyObservationClient(server.URL, time.UTC, Options{Timeout: time.Second}, BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange:    func(from, to string) { transitions = append(transitions, from+"->"+to) },
	})

	hour := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		// 5xx counts as a breaker failure but still reads as an absent hour.
		if v, err := c.FetchHour(context.Background(), "1", hour); v != nil || err != nil {
			t.Fatalf("call %d: FetchHour() = %v, %v; want absent", i, v, err)
		}
	}

	_, err := c.FetchHour(context.Background(), "1", hour)
	if !errors.Is(err, models.ErrUpstream) {
		t.Fatalf("FetchHour() with open breaker error = %v, want ErrUpstream", err)
	}
	if CategorizeError(err) != ErrorCategoryCircuitOpen {
		t.Errorf("category = %q, want %q", CategorizeError(err), ErrorCategoryCircuitOpen)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestHourlyObservationClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, _ := NewHourlyObservationClient(server.URL, time.UTC, Options{Timeout: time.Second}, BreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Minute})
	for i := 0; i < 3; i++ {
		if _, err := c.FetchHour(context.Background(), "1", time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC)); err != nil {
			t.Fatalf("FetchHour() error = %v", err)
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}
