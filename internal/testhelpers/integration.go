//go:build integration
// +build integration

package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/cache"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupStationCache returns the cache backend selected by cfg, falling back to
// the in-memory cache when memcached is unreachable.
func SetupStationCache(t *testing.T, cfg IntegrationTestConfig) cache.Cache {
	t.Helper()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache()
}

// Upstream fakes the geocoder, station directory and hourly observation services.
// Routes: /geocode, /stations and /hourly/{YYYYMMDDHH}0000.json.
type Upstream struct {
	Server    *httptest.Server
	StationID string

	mu          sync.Mutex
	hourlyCalls int
	geocodes    int
}

// NewUpstream starts a fake upstream with a single station near Tokyo Station.
// Every hour reports temp.
func NewUpstream(t *testing.T, stationID string, temp float64, loc *time.Location) *Upstream {
	t.Helper()
	u := &Upstream{StationID: stationID}
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.geocodes++
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":{"location":[{"x":"139.7671","y":"35.6812","postal":"`+r.URL.Query().Get("postal")+`"}]}}`)
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"%s":{"lat":[35,41.5],"lon":[139,45.0],"alt":25,"kjName":"東京","enName":"Tokyo"},"62078":{"lat":[34,40.7],"lon":[135,31.1],"alt":83,"kjName":"大阪","enName":"Osaka"}}`, stationID)
	})
	mux.HandleFunc("/hourly/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/hourly/"), "0000.json")
		if _, err := time.ParseInLocation("2006010215", name, loc); err != nil {
			http.NotFound(w, r)
			return
		}
		u.mu.Lock()
		u.hourlyCalls++
		u.mu.Unlock()
		body := map[string]interface{}{
			stationID: map[string]interface{}{"temp": []interface{}{temp, 0}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)
	return u
}

// GeocoderURL returns the geocoder endpoint.
func (u *Upstream) GeocoderURL() string { return u.Server.URL + "/geocode" }

// StationTableURL returns the station directory endpoint.
func (u *Upstream) StationTableURL() string { return u.Server.URL + "/stations" }

// HourlyBaseURL returns the hourly snapshot base URL.
func (u *Upstream) HourlyBaseURL() string { return u.Server.URL + "/hourly" }

// HourlyCalls returns the number of hourly snapshots served.
func (u *Upstream) HourlyCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hourlyCalls
}

// Geocodes returns the number of geocoder requests served.
func (u *Upstream) Geocodes() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.geocodes
}
