package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp switches into a fresh directory for the duration of the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

// clearEnv unsets keys for the test and restores them afterwards.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

var overrideKeys = []string{
	"ENV_NAME", "ALERT_WEBHOOK_URL", "DATABASE_URL", "AMQP_URL",
	"CACHE_BACKEND", "MEMCACHED_ADDRS", "STORE_BACKEND",
}

func TestLoad_MinimalDefaults(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"StationTTL", cfg.StationTTL, 24 * time.Hour},
		{"RecentWindow", cfg.RecentWindow, 48 * time.Hour},
		{"StaleAfter", cfg.StaleAfter, 2 * time.Hour},
		{"DailyThreshold", cfg.DailyThreshold, 7 * 24 * time.Hour},
		{"FetchInterval", cfg.FetchInterval, 100 * time.Millisecond},
		{"ScheduleCron", cfg.ScheduleCron, "5 * * * *"},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"StoreBackend", cfg.StoreBackend, "csv"},
		{"BreakerEnabled", cfg.BreakerEnabled, true},
		{"WarmOnStart", cfg.WarmOnStart, true},
		{"Location", cfg.Location.String(), "Asia/Tokyo"},
		{"AMQPExchange", cfg.AMQPExchange, "charts"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_SourcesParsed(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("Sources = %d, want 1", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.PostalCode != "1000001" {
		t.Errorf("PostalCode = %q, want hyphen stripped", src.PostalCode)
	}
	if len(src.Charts) != 2 {
		t.Fatalf("Charts = %d, want 2", len(src.Charts))
	}
	if src.Charts[0].Range != 24*time.Hour {
		t.Errorf("Charts[0].Range = %v, want 24h", src.Charts[0].Range)
	}
	if src.Charts[1].Range != 30*24*time.Hour {
		t.Errorf("Charts[1].Range = %v, want 30d", src.Charts[1].Range)
	}
}

func TestLoad_SecretsFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "alert_webhook_url: https://hooks.example/secret\namqp_url: amqp://from-secrets\n")
	t.Setenv("AMQP_URL", "amqp://from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AlertWebhookURL != "https://hooks.example/secret" {
		t.Errorf("AlertWebhookURL = %q, want value from secrets file", cfg.AlertWebhookURL)
	}
	if cfg.AMQPURL != "amqp://from-env" {
		t.Errorf("AMQPURL = %q, want env to win over secrets", cfg.AMQPURL)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ALERT_WEBHOOK_URL=https://hooks.example/dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AlertWebhookURL != "https://hooks.example/dotenv" {
		t.Errorf("AlertWebhookURL = %q, want value from .env", cfg.AlertWebhookURL)
	}
}

func TestLoad_EnvOverridesBackends(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Setenv("CACHE_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "cache-1:11211,cache-2:11211")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/readings")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "cache-1:11211,cache-2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.StoreBackend != "postgres" {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Setenv("STORE_BACKEND", "postgres")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error without DATABASE_URL, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Load() error = %v, want message containing DATABASE_URL", err)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t, overrideKeys...)
	chdirTemp(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML+`
cache:
  station_ttl: "forever"
freshness:
  stale_after: "-1h"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StationTTL != 24*time.Hour {
		t.Errorf("StationTTL = %v, want default 24h", cfg.StationTTL)
	}
	if cfg.StaleAfter != 2*time.Hour {
		t.Errorf("StaleAfter = %v, want default 2h", cfg.StaleAfter)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML+`
upstream:
  timeout: "0s"
`)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for zero upstream timeout, got nil")
	}
	if !strings.Contains(err.Error(), "upstream.timeout") {
		t.Errorf("Load() error = %v, want upstream.timeout message", err)
	}
}

func TestLoad_RequestTimeoutAdjusted(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML+`
upstream:
  timeout: "10s"
http:
  request_timeout: "5s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 11*time.Second {
		t.Errorf("RequestTimeout = %v, want 11s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidLocation(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML+`
upstream:
  location: "Mars/Olympus_Mons"
`)

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for unknown location, got nil")
	}
}

func TestLoad_SourceValidation(t *testing.T) {
	tests := []struct {
		name    string
		sources string
		wantErr string
	}{
		{
			name:    "no sources",
			sources: "sources: []\n",
			wantErr: "at least one source",
		},
		{
			name: "bad postal code",
			sources: `sources:
  - name: a
    path: a.csv
    postal_code: "12-34"
    charts: [{name: day, range: 24h}]
`,
			wantErr: "PostalCode",
		},
		{
			name: "missing path",
			sources: `sources:
  - name: a
    postal_code: "1000001"
    charts: [{name: day, range: 24h}]
`,
			wantErr: "Path",
		},
		{
			name: "no charts",
			sources: `sources:
  - name: a
    path: a.csv
    postal_code: "1000001"
`,
			wantErr: "Charts",
		},
		{
			name: "zero range",
			sources: `sources:
  - name: a
    path: a.csv
    postal_code: "1000001"
    charts: [{name: day, range: 0s}]
`,
			wantErr: "Range",
		},
		{
			name: "unparsable range",
			sources: `sources:
  - name: a
    path: a.csv
    postal_code: "1000001"
    charts: [{name: day, range: xd}]
`,
			wantErr: "range",
		},
		{
			name: "duplicate names",
			sources: `sources:
  - name: a
    path: a.csv
    postal_code: "1000001"
    charts: [{name: day, range: 24h}]
  - name: a
    path: b.csv
    postal_code: "1000002"
    charts: [{name: day, range: 24h}]
`,
			wantErr: "duplicate source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, overrideKeys...)
			dir := chdirTemp(t)
			writeEnvFile(t, dir, "server:\n  port: \"8080\"\n"+tt.sources)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "alert_webhook_url: [unterminated\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "secrets") {
		t.Fatalf("Load() error = %v, want secrets parse error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t, overrideKeys...)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "server: [\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t, overrideKeys...)
	origWd, _ := os.Getwd()
	if err := os.Chdir(findProjectRoot(t)); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Sources) == 0 {
		t.Error("dev config has no sources")
	}
	if len(cfg.PostalCodes()) == 0 {
		t.Error("PostalCodes() empty")
	}
}

func TestConfig_PostalCodesDeduplicated(t *testing.T) {
	cfg := &Config{Sources: []Source{
		{Name: "a", PostalCode: "1000001"},
		{Name: "b", PostalCode: "5300001"},
		{Name: "c", PostalCode: "1000001"},
	}}
	got := cfg.PostalCodes()
	if len(got) != 2 || got[0] != "1000001" || got[1] != "5300001" {
		t.Errorf("PostalCodes() = %v, want [1000001 5300001]", got)
	}
}

func TestParseSpan(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Hour},
		{"90m", 90 * time.Minute},
		{"3d", 72 * time.Hour},
		{"0d", time.Hour},
		{"abc", time.Hour},
	}
	for _, tt := range tests {
		if got := parseSpan(tt.in, time.Hour); got != tt.want {
			t.Errorf("parseSpan(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
sources:
  - name: "office"
    path: "data/office.csv"
    postal_code: "100-0001"
    charts:
      - name: "day"
        range: "24h"
      - name: "month"
        range: "30d"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
