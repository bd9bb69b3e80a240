package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/charts"
	"github.com/kjstillabower/room-climate-charts/internal/config"
	"github.com/kjstillabower/room-climate-charts/internal/lifecycle"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

const startTimeout = 30 * time.Second

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	app := fx.New(appOptions(cfg, logger))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			logger.Error("application start timed out; check database, memcached and broker reachability")
		}
		logger.Fatal("start", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("application stop", zap.Error(err))
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// appOptions is the dependency graph of the service.
func appOptions(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Supply(cfg, logger),
		fx.Provide(
			ProvideStationCacheBackend,
			ProvideStationCache,
			ProvideReadingStore,
			ProvideGeocoder,
			ProvideStationLocator,
			ProvideTemperatureFetcher,
			ProvideStationResolver,
			ProvideChartAssembler,
			charts.NewRegistry,
			ProvideChartSinks,
			ProvideNotifier,
			ProvideRunStats,
			ProvideUpdater,
			func() *lifecycle.Tracker { return &lifecycle.Tracker{} },
			ProvideScheduler,
			ProvideHandler,
		),
		fx.Invoke(startHTTPServer),
	)
}
