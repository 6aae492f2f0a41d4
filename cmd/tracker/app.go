package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"tracker.onebusaway.org/internal/app"
	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/assignments"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/gtfs"
	"tracker.onebusaway.org/internal/ingest"
	"tracker.onebusaway.org/internal/logging"
	"tracker.onebusaway.org/internal/metrics"
	"tracker.onebusaway.org/internal/realtime"
	"tracker.onebusaway.org/internal/webui"
)

const dbStatsInterval = 15 * time.Second

func newLogger(cfg appconf.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return logging.NewLogger(os.Stdout, level, cfg.Env == appconf.Production)
}

// BuildApplication wires every long-lived component. The returned
// application owns background goroutines; release them with Shutdown.
func BuildApplication(cfg appconf.Config, gtfsCfg gtfs.Config) (*app.Application, error) {
	cfg = cfg.WithDefaults()
	logger := newLogger(cfg)
	appClock := clock.RealClock{}
	appMetrics := metrics.NewWithLogger(logger)

	dbPath := cfg.AssignmentsDBPath
	if cfg.Env == appconf.Test {
		dbPath = ":memory:"
	}
	store, err := assignments.NewStore(assignments.Config{DBPath: dbPath, Env: cfg.Env, Clock: appClock})
	if err != nil {
		return nil, fmt.Errorf("failed to open assignments database: %w", err)
	}
	appMetrics.StartDBStatsCollector(store.DB, dbStatsInterval)

	manager, err := gtfs.InitGTFSManager(context.Background(), gtfsCfg, gtfs.Dependencies{
		Clock:       appClock,
		Metrics:     appMetrics,
		Logger:      logger,
		Assignments: store,
	})
	if err != nil {
		appMetrics.Shutdown()
		logging.SafeCloseWithLogging(store, logger, "assignments database")
		return nil, fmt.Errorf("failed to initialize GTFS manager: %w", err)
	}

	cache := realtime.NewRecordCache(cfg.RecordRetention)
	service := realtime.NewBlockLocationService(manager, cache, realtime.ServiceOptions{
		Policy:  realtime.SlackAbsorptionPolicy{Horizon: cfg.PredictionHorizon},
		Metrics: appMetrics,
		Logger:  logger,
	})
	manager.StartRealtime(service)

	coreApp := &app.Application{
		Config:               cfg,
		GtfsConfig:           gtfsCfg,
		Logger:               logger,
		GtfsManager:          manager,
		RecordCache:          cache,
		BlockLocationService: service,
		Assignments:          store,
		Clock:                appClock,
		Metrics:              appMetrics,
	}

	if cfg.NATSURL != "" {
		subscriber := ingest.NewSubscriber(ingest.Options{
			Sink:     service,
			Trips:    manager,
			Location: manager.Location,
			Metrics:  appMetrics,
			Logger:   logger,
		})
		if err := subscriber.Connect(cfg.NATSURL, cfg.NATSSubject); err != nil {
			Shutdown(coreApp)
			return nil, fmt.Errorf("failed to start vehicle report subscriber: %w", err)
		}
		coreApp.Subscriber = subscriber
	}

	return coreApp, nil
}

// CreateServer builds the operations HTTP server.
func CreateServer(coreApp *app.Application, cfg appconf.Config) *http.Server {
	return &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      webui.New(coreApp).Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
}

// Run serves until ctx is cancelled, then shuts the server and every
// background component down.
func Run(ctx context.Context, srv *http.Server, coreApp *app.Application) error {
	logger := coreApp.Logger.With(slog.String("component", "server"))

	evictCtx, stopEviction := context.WithCancel(context.Background())
	evictionDone := make(chan struct{})
	go func() {
		defer close(evictionDone)
		coreApp.RunEviction(evictCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_starting",
			slog.String("addr", srv.Addr),
			slog.String("env", coreApp.Config.Env.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "Server shutdown failed", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopEviction()
	<-evictionDone
	Shutdown(coreApp)

	logging.LogOperation(logger, "server_stopped")
	return runErr
}

// Shutdown stops background work and releases the application's resources.
func Shutdown(coreApp *app.Application) {
	if coreApp.Subscriber != nil {
		coreApp.Subscriber.Close()
	}
	if coreApp.GtfsManager != nil {
		coreApp.GtfsManager.Shutdown()
	}
	if coreApp.Metrics != nil {
		coreApp.Metrics.Shutdown()
	}
	if coreApp.Assignments != nil {
		logging.SafeCloseWithLogging(coreApp.Assignments, coreApp.Logger, "assignments database")
	}
}
