package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/room-climate-charts/internal/alert"
	"github.com/kjstillabower/room-climate-charts/internal/cache"
	"github.com/kjstillabower/room-climate-charts/internal/charts"
	"github.com/kjstillabower/room-climate-charts/internal/client"
	"github.com/kjstillabower/room-climate-charts/internal/config"
	httphandler "github.com/kjstillabower/room-climate-charts/internal/http"
	"github.com/kjstillabower/room-climate-charts/internal/lifecycle"
	"github.com/kjstillabower/room-climate-charts/internal/mq"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
	"github.com/kjstillabower/room-climate-charts/internal/runstats"
	"github.com/kjstillabower/room-climate-charts/internal/scheduler"
	"github.com/kjstillabower/room-climate-charts/internal/service"
	"github.com/kjstillabower/room-climate-charts/internal/source"
	"github.com/kjstillabower/room-climate-charts/internal/store"
	"github.com/kjstillabower/room-climate-charts/internal/throttle"
)

// stationCacheBackend carries the selected cache and, for memcached, its health probe.
type stationCacheBackend struct {
	cache cache.Cache
	ping  func() error
}

// ProvideStationCacheBackend selects the in-memory or memcached backend.
func ProvideStationCacheBackend(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (stationCacheBackend, error) {
	if cfg.CacheBackend != "memcached" {
		logger.Info("cache backend: in_memory")
		return stationCacheBackend{cache: cache.NewInMemoryCache()}, nil
	}
	mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	if err != nil {
		return stationCacheBackend{}, fmt.Errorf("memcached cache: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mc.Close()
		},
	})
	logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	return stationCacheBackend{cache: mc, ping: mc.Ping}, nil
}

// ProvideStationCache wraps the backend with the station TTL policy.
func ProvideStationCache(backend stationCacheBackend, cfg *config.Config, logger *zap.Logger) *cache.StationCache {
	return cache.NewStationCache(backend.cache, cfg.StationTTL, logger)
}

// ProvideReadingStore opens the CSV file or the Postgres pool holding persisted readings.
func ProvideReadingStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (store.ReadingStore, error) {
	if cfg.StoreBackend != "postgres" {
		logger.Info("reading store: csv", zap.String("path", cfg.CSVPath))
		return store.NewCSVStore(cfg.CSVPath, logger)
	}

	pool, err := store.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pg, err := store.NewPostgresStore(pool, cfg.PostgresTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("failed to ping database %s: %w", store.MaskPassword(cfg.DatabaseURL), err)
			}
			logger.Info("reading store: postgres", zap.String("url", store.MaskPassword(cfg.DatabaseURL)))
			return pg.EnsureSchema(ctx)
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pg, nil
}

func upstreamOptions(cfg *config.Config) client.Options {
	return client.Options{
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
}

// ProvideGeocoder creates the postal code geocoder client.
func ProvideGeocoder(cfg *config.Config) (client.Geocoder, error) {
	return client.NewPostalGeocoder(cfg.GeocoderURL, upstreamOptions(cfg))
}

// ProvideStationLocator creates the nearest-station locator over the station directory.
func ProvideStationLocator(cfg *config.Config) (service.StationFinder, error) {
	directory, err := client.NewStationTableClient(cfg.StationTableURL, upstreamOptions(cfg))
	if err != nil {
		return nil, err
	}
	return client.NewStationLocator(directory), nil
}

// ProvideTemperatureFetcher creates the hourly observation client behind a circuit breaker.
func ProvideTemperatureFetcher(cfg *config.Config, logger *zap.Logger) (client.TemperatureFetcher, error) {
	bc := client.BreakerConfig{
		Enabled:          cfg.BreakerEnabled,
		FailureThreshold: cfg.BreakerThreshold,
		Timeout:          cfg.BreakerTimeout,
		OnStateChange: func(from, to string) {
			observability.CircuitBreakerState.WithLabelValues("hourly").Set(observability.CircuitBreakerStateValue(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", "hourly"),
				zap.String("from", from),
				zap.String("to", to))
		},
	}
	fetcher, err := client.NewHourlyObservationClient(cfg.HourlyBaseURL, cfg.Location, upstreamOptions(cfg), bc)
	if err != nil {
		return nil, err
	}
	if cfg.BreakerEnabled {
		observability.CircuitBreakerState.WithLabelValues("hourly").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}
	return fetcher, nil
}

// ProvideStationResolver composes geocoder, locator and station cache.
func ProvideStationResolver(geocoder client.Geocoder, locator service.StationFinder, stationCache *cache.StationCache) *service.StationResolver {
	return service.NewStationResolver(geocoder, locator, stationCache)
}

// ProvideChartAssembler builds the enrichment and aggregation pipeline.
func ProvideChartAssembler(cfg *config.Config, readings store.ReadingStore, fetcher client.TemperatureFetcher, logger *zap.Logger) *service.ChartAssembler {
	enricher := service.NewEnricher(readings, fetcher, throttle.NewPacer(cfg.FetchInterval), cfg.RecentWindow, logger)
	return service.NewChartAssembler(enricher, service.NewDailyAggregator(cfg.Location), cfg.DailyThreshold)
}

// ProvideChartSinks returns the in-process registry plus, when AMQP_URL is set,
// the broker publisher.
func ProvideChartSinks(lc fx.Lifecycle, cfg *config.Config, registry *charts.Registry, logger *zap.Logger) ([]service.ChartSink, error) {
	sinks := []service.ChartSink{registry}
	if cfg.AMQPURL == "" {
		return sinks, nil
	}
	conn, err := mq.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, err
	}
	publisher, err := mq.NewPublisher(conn, cfg.AMQPExchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return errors.Join(publisher.Close(), conn.Close())
		},
	})
	logger.Info("chart publishing enabled", zap.String("exchange", cfg.AMQPExchange))
	return append(sinks, publisher), nil
}

// ProvideNotifier returns the webhook notifier, or a log-only notifier when no webhook is set.
func ProvideNotifier(cfg *config.Config, logger *zap.Logger) alert.Notifier {
	if cfg.AlertWebhookURL == "" {
		logger.Info("alert webhook not configured; alerts are logged only")
		return alert.NewLogNotifier(func(message string) {
			logger.Warn("alert", zap.String("message", message))
		})
	}
	return alert.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertUsername, cfg.AlertIconEmoji, cfg.AlertTimeout)
}

// ProvideRunStats tracks source outcomes over the health window.
func ProvideRunStats(cfg *config.Config) *runstats.Tracker {
	return runstats.NewTracker(cfg.DegradedWindow)
}

// ProvideUpdater builds the run boundary over all configured sources.
func ProvideUpdater(
	cfg *config.Config,
	resolver *service.StationResolver,
	assembler *service.ChartAssembler,
	sinks []service.ChartSink,
	notifier alert.Notifier,
	stats *runstats.Tracker,
	logger *zap.Logger,
) *service.Updater {
	sources := make([]service.SourceConfig, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		specs := make([]service.ChartSpec, 0, len(s.Charts))
		for _, c := range s.Charts {
			specs = append(specs, service.ChartSpec{Name: c.Name, Range: c.Range})
		}
		sources = append(sources, service.SourceConfig{
			Name:       s.Name,
			Path:       s.Path,
			PostalCode: s.PostalCode,
			Charts:     specs,
		})
	}
	return service.NewUpdater(sources, service.UpdaterDeps{
		Reader:    source.NewCSVSheet(cfg.Location, logger),
		Resolver:  resolver,
		Assembler: assembler,
		Sinks:     sinks,
		Notifier:  notifier,
		Stats:     stats,
		Logger:    logger,
	}, cfg.StaleAfter, cfg.Location)
}

// ProvideScheduler registers the cron job. Warming runs before the first tick
// is scheduled; shutdown waits for an in-flight run before cancelling it.
func ProvideScheduler(
	lc fx.Lifecycle,
	cfg *config.Config,
	updater *service.Updater,
	resolver *service.StationResolver,
	work *lifecycle.Tracker,
	logger *zap.Logger,
) *scheduler.Scheduler {
	job := func(ctx context.Context) error {
		defer work.Begin()()
		_, err := updater.Run(ctx)
		return err
	}
	sched := scheduler.New(cfg.ScheduleCron, cfg.Location, cfg.RunTimeout, job, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.WarmOnStart {
				warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := cache.NewStationWarmer(resolver, logger).Warm(warmCtx, cfg.PostalCodes()); err != nil {
					logger.Warn("station cache warming failed", zap.Error(err))
				}
				cancel()
			}
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			if err := work.WaitIdle(ctx, 100*time.Millisecond); err != nil {
				logger.Warn("run still in progress at shutdown; cancelling", zap.Int64("active", work.Active()))
			}
			sched.Stop()
			return nil
		},
	})
	return sched
}

// ProvideHandler builds the HTTP handler.
func ProvideHandler(
	cfg *config.Config,
	updater *service.Updater,
	registry *charts.Registry,
	stats *runstats.Tracker,
	backend stationCacheBackend,
	sched *scheduler.Scheduler,
	work *lifecycle.Tracker,
	logger *zap.Logger,
) *httphandler.Handler {
	hc := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		CachePing:        backend.ping,
		NextRun:          sched.NextRun,
	}
	return httphandler.NewHandler(updater, registry, stats, hc, logger, work)
}

// startHTTPServer serves the router until the app stops.
func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, handler *httphandler.Handler, work *lifecycle.Tracker, logger *zap.Logger) {
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Work:           work,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("server starting", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lifecycle.SetShuttingDown(true)
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("server shutdown", zap.Error(err))
			}
			return nil
		},
	})
}
