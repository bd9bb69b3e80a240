package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/room-climate-charts/internal/validation"
)

// Config holds service configuration loaded from YAML, secrets and env.
type Config struct {
	ServerPort      string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	RateLimitRPS    int
	RateLimitBurst  int

	GeocoderURL     string
	StationTableURL string
	HourlyBaseURL   string
	UpstreamTimeout time.Duration
	Location        *time.Location

	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	FetchInterval    time.Duration
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerTimeout   time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	StationTTL            time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StoreBackend  string // "csv" or "postgres"
	CSVPath       string
	PostgresTable string
	DatabaseURL   string

	RecentWindow time.Duration

	ScheduleCron string
	RunTimeout   time.Duration
	WarmOnStart  bool

	StaleAfter time.Duration

	AlertWebhookURL string
	AlertUsername   string
	AlertIconEmoji  string
	AlertTimeout    time.Duration

	DailyThreshold time.Duration
	AMQPURL        string
	AMQPExchange   string

	DegradedWindow   time.Duration
	DegradedErrorPct int

	Sources []Source
}

// Source is one configured sensor data source.
type Source struct {
	Name       string  `validate:"required"`
	Path       string  `validate:"required"`
	PostalCode string  `validate:"required,len=7,numeric"`
	Charts     []Chart `validate:"required,min=1,dive"`
}

// Chart is a chart produced for a source, covering the last Range of data.
type Chart struct {
	Name  string        `validate:"required"`
	Range time.Duration `validate:"gt=0"`
}

// PostalCodes returns the distinct postal codes of all sources in config order.
func (c *Config) PostalCodes() []string {
	seen := make(map[string]bool, len(c.Sources))
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.PostalCode] {
			continue
		}
		seen[s.PostalCode] = true
		out = append(out, s.PostalCode)
	}
	return out
}

type fileConfig struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	HTTP struct {
		RequestTimeout string `yaml:"request_timeout"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"http"`

	Upstream struct {
		GeocoderURL     string `yaml:"geocoder_url"`
		StationTableURL string `yaml:"station_table_url"`
		HourlyBaseURL   string `yaml:"hourly_base_url"`
		Timeout         string `yaml:"timeout"`
		Location        string `yaml:"location"`
	} `yaml:"upstream"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		FetchInterval    string `yaml:"fetch_interval"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend    string `yaml:"backend"`
		StationTTL string `yaml:"station_ttl"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Backend       string `yaml:"backend"`
		CSVPath       string `yaml:"csv_path"`
		PostgresTable string `yaml:"postgres_table"`
	} `yaml:"store"`

	Enrichment struct {
		RecentWindow string `yaml:"recent_window"`
	} `yaml:"enrichment"`

	Schedule struct {
		Cron        string `yaml:"cron"`
		RunTimeout  string `yaml:"run_timeout"`
		WarmOnStart *bool  `yaml:"warm_on_start"`
	} `yaml:"schedule"`

	Freshness struct {
		StaleAfter string `yaml:"stale_after"`
	} `yaml:"freshness"`

	Alert struct {
		Username  string `yaml:"username"`
		IconEmoji string `yaml:"icon_emoji"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"alert"`

	Charts struct {
		DailyThreshold string `yaml:"daily_threshold"`
		AMQPExchange   string `yaml:"amqp_exchange"`
	} `yaml:"charts"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Sources []struct {
		Name       string `yaml:"name"`
		Path       string `yaml:"path"`
		PostalCode string `yaml:"postal_code"`
		Charts     []struct {
			Name  string `yaml:"name"`
			Range string `yaml:"range"`
		} `yaml:"charts"`
	} `yaml:"sources"`
}

type secretsFile struct {
	AlertWebhookURL string `yaml:"alert_webhook_url"`
	DatabaseURL     string `yaml:"database_url"`
	AMQPURL         string `yaml:"amqp_url"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; variables already set win.
// Env overrides secrets, secrets override nothing else. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 30*time.Second)
	cfg.RequestTimeout = parseDuration(fc.HTTP.RequestTimeout, 5*time.Second)
	cfg.RateLimitRPS = fc.HTTP.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1
	}
	cfg.RateLimitBurst = fc.HTTP.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2
	}

	cfg.GeocoderURL = fc.Upstream.GeocoderURL
	if cfg.GeocoderURL == "" {
		cfg.GeocoderURL = "https://geoapi.heartrails.com/api/json"
	}
	cfg.StationTableURL = fc.Upstream.StationTableURL
	if cfg.StationTableURL == "" {
		cfg.StationTableURL = "https://www.jma.go.jp/bosai/amedas/const/amedastable.json"
	}
	cfg.HourlyBaseURL = fc.Upstream.HourlyBaseURL
	if cfg.HourlyBaseURL == "" {
		cfg.HourlyBaseURL = "https://www.jma.go.jp/bosai/amedas/data/map"
	}
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 5*time.Second)
	locName := strings.TrimSpace(fc.Upstream.Location)
	if locName == "" {
		locName = "Asia/Tokyo"
	}
	cfg.Location, err = time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("upstream.location %q: %w", locName, err)
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.FetchInterval = parseDurationOrZero(fc.Reliability.FetchInterval, 100*time.Millisecond)
	if cfg.FetchInterval < 0 {
		cfg.FetchInterval = 0
	}
	cfg.BreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.BreakerThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.StationTTL = parseSpan(fc.Cache.StationTTL, 24*time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "csv"
	}
	cfg.CSVPath = fc.Store.CSVPath
	if cfg.CSVPath == "" {
		cfg.CSVPath = filepath.Join("data", "temperature_readings.csv")
	}
	cfg.PostgresTable = fc.Store.PostgresTable
	cfg.DatabaseURL = envOr("DATABASE_URL", sec.DatabaseURL)

	cfg.RecentWindow = parseSpan(fc.Enrichment.RecentWindow, 48*time.Hour)

	cfg.ScheduleCron = strings.TrimSpace(fc.Schedule.Cron)
	if cfg.ScheduleCron == "" {
		cfg.ScheduleCron = "5 * * * *"
	}
	cfg.RunTimeout = parseDuration(fc.Schedule.RunTimeout, 10*time.Minute)
	cfg.WarmOnStart = true
	if fc.Schedule.WarmOnStart != nil {
		cfg.WarmOnStart = *fc.Schedule.WarmOnStart
	}

	cfg.StaleAfter = parseSpan(fc.Freshness.StaleAfter, 2*time.Hour)

	cfg.AlertWebhookURL = envOr("ALERT_WEBHOOK_URL", sec.AlertWebhookURL)
	cfg.AlertUsername = fc.Alert.Username
	if cfg.AlertUsername == "" {
		cfg.AlertUsername = "room-climate-charts"
	}
	cfg.AlertIconEmoji = fc.Alert.IconEmoji
	cfg.AlertTimeout = parseDuration(fc.Alert.Timeout, 5*time.Second)

	cfg.DailyThreshold = parseSpan(fc.Charts.DailyThreshold, 7*24*time.Hour)
	cfg.AMQPURL = envOr("AMQP_URL", sec.AMQPURL)
	cfg.AMQPExchange = fc.Charts.AMQPExchange
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "charts"
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 24*time.Hour)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	for _, fs := range fc.Sources {
		src := Source{
			Name:       strings.TrimSpace(fs.Name),
			Path:       strings.TrimSpace(fs.Path),
			PostalCode: strings.TrimSpace(fs.PostalCode),
		}
		if pc, err := validation.NormalizePostalCode(src.PostalCode); err == nil {
			src.PostalCode = pc
		}
		for _, fch := range fs.Charts {
			r, err := parseSpanStrict(fch.Range)
			if err != nil {
				return nil, fmt.Errorf("source %q chart %q: range: %w", src.Name, fch.Name, err)
			}
			src.Charts = append(src.Charts, Chart{Name: strings.TrimSpace(fch.Name), Range: r})
		}
		cfg.Sources = append(cfg.Sources, src)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseSpan is parseDuration that also accepts whole days ("7d").
func parseSpan(s string, defaultVal time.Duration) time.Duration {
	d, err := parseSpanStrict(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseSpanStrict(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

var structValidator = validator.New()

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout so a manual run request outlives one upstream call.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreBackend {
	case "csv":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required for store.backend postgres (set env or config/secrets.yaml database_url)")
		}
	default:
		return fmt.Errorf("store.backend must be csv or postgres, got %q", cfg.StoreBackend)
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	names := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if err := structValidator.Struct(src); err != nil {
			return fmt.Errorf("sources[%d] (%s): %w", i, src.Name, describe(err))
		}
		if names[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		names[src.Name] = true
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
