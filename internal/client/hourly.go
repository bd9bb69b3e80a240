package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// TemperatureFetcher returns the observed temperature of a station for one hour.
// A nil temperature with a nil error means no reading is available.
type TemperatureFetcher interface {
	FetchHour(ctx context.Context, stationID string, hour time.Time) (*float64, error)
}

// BreakerConfig configures the circuit breaker in front of the hourly service.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	Timeout          time.Duration
	OnStateChange    func(from, to string)
}

// HourlyObservationClient reads hourly observation snapshots addressed by
// {baseURL}/{YYYYMMDDHH}0000.json. Each snapshot maps station IDs to element
// arrays; the first element of "temp" is the temperature.
type HourlyObservationClient struct {
	baseURL  string
	location *time.Location
	req      *requester
	breaker  *gobreaker.CircuitBreaker
}

// NewHourlyObservationClient returns a fetcher for baseURL. Hours are formatted
// in loc, the time zone the upstream uses for its resource names. Requests are
// never retried; a failed hour is retried on the next run instead.
func NewHourlyObservationClient(baseURL string, loc *time.Location, opts Options, bc BreakerConfig) (*HourlyObservationClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("hourly observation base URL is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	opts.RetryAttempts = 1
	c := &HourlyObservationClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		location: loc,
		req:      newRequester("hourly", opts),
	}
	if bc.Enabled {
		threshold := bc.FailureThreshold
		if threshold <= 0 {
			threshold = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "hourly",
			MaxRequests: 1,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if bc.OnStateChange != nil {
					bc.OnStateChange(from.String(), to.String())
				}
			},
		})
	}
	return c, nil
}

// HourURL returns the snapshot URL for hour.
func (c *HourlyObservationClient) HourURL(hour time.Time) string {
	return c.baseURL + "/" + hour.In(c.location).Format("2006010215") + "0000.json"
}

// hourlySnapshot is keyed by station ID. Entries stay raw so that a
// malformed entry for another station does not affect the requested one.
type hourlySnapshot map[string]json.RawMessage

type hourlyEntry struct {
	Temp []*float64 `json:"temp"`
}

// softStatus marks a non-success response that must not trip the breaker.
type softStatus struct {
	code int
}

// FetchHour implements TemperatureFetcher. hour must already be normalized.
// Non-success statuses and missing data yield (nil, nil); transport and
// parse failures yield an error wrapping models.ErrUpstream.
func (c *HourlyObservationClient) FetchHour(ctx context.Context, stationID string, hour time.Time) (*float64, error) {
	u := c.HourURL(hour)

	var body []byte
	var err error
	if c.breaker == nil {
		body, err = c.req.get(ctx, u)
	} else {
		var res interface{}
		res, err = c.breaker.Execute(func() (interface{}, error) {
			b, getErr := c.req.get(ctx, u)
			var se *StatusError
			if errors.As(getErr, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
				return softStatus{code: se.StatusCode}, nil
			}
			if getErr != nil {
				return nil, getErr
			}
			return b, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: hourly: circuit breaker open: %v", models.ErrUpstream, err)
		}
		switch v := res.(type) {
		case []byte:
			body = v
		case softStatus:
			err = &StatusError{Service: "hourly", StatusCode: v.code}
		}
	}

	var se *StatusError
	if errors.As(err, &se) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s at %s: %w", stationID, hour.Format(time.RFC3339), err)
	}

	var snap hourlySnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: hourly %s: parse response: %v", models.ErrUpstream, hour.Format(time.RFC3339), err)
	}
	raw, ok := snap[stationID]
	if !ok {
		return nil, nil
	}
	var entry hourlyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: hourly %s: station %s: %v", models.ErrUpstream, hour.Format(time.RFC3339), stationID, err)
	}
	if len(entry.Temp) == 0 || entry.Temp[0] == nil {
		return nil, nil
	}
	v := *entry.Temp[0]
	return &v, nil
}
