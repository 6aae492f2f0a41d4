// Command tracker runs the real-time block location engine: it loads a static
// GTFS feed, ingests vehicle reports from GTFS-RT feeds and NATS, and serves
// health, metrics and debug endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/gtfs"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, gtfsCfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	coreApp, err := BuildApplication(cfg, gtfsCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, CreateServer(coreApp, coreApp.Config), coreApp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseConfig reads flags, falling back to TRACKER_* environment variables
// for their defaults. A -f config file replaces the flag values entirely.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (appconf.Config, gtfs.Config, error) {
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	fs.SetOutput(output)

	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	defaultPort, err := strconv.Atoi(envOr("TRACKER_PORT", strconv.Itoa(appconf.DefaultPort)))
	if err != nil {
		return appconf.Config{}, gtfs.Config{}, fmt.Errorf("invalid TRACKER_PORT: %w", err)
	}

	var (
		configFile  = fs.String("f", "", "Path to a JSON or YAML config file")
		port        = fs.Int("port", defaultPort, "Operations server port")
		env         = fs.String("env", envOr("TRACKER_ENV", "development"), "Environment (development|test|production)")
		verbose     = fs.Bool("verbose", false, "Enable debug logging")
		gtfsURL     = fs.String("gtfs-url", envOr("TRACKER_GTFS_URL", ""), "Static GTFS zip path or URL")
		tripUpdates = fs.String("trip-updates-url", envOr("TRACKER_TRIP_UPDATES_URL", ""), "GTFS-RT trip updates URL")
		positions   = fs.String("vehicle-positions-url", envOr("TRACKER_VEHICLE_POSITIONS_URL", ""), "GTFS-RT vehicle positions URL")
		natsURL     = fs.String("nats-url", envOr("TRACKER_NATS_URL", ""), "NATS server URL for vehicle reports")
		natsSubject = fs.String("nats-subject", envOr("TRACKER_NATS_SUBJECT", appconf.DefaultNATSSubject), "NATS subject for vehicle reports")
		dbPath      = fs.String("assignments-db", envOr("TRACKER_ASSIGNMENTS_DB", appconf.DefaultAssignmentsDBPath), "Path to the assignments SQLite database")
		retention   = fs.Duration("retention", appconf.DefaultRecordRetention, "How long location records are kept")
		horizon     = fs.Duration("prediction-horizon", 0, "How far ahead deviation is propagated (0 for no limit)")
	)

	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, gtfs.Config{}, err
	}

	if *configFile != "" {
		fileCfg, err := appconf.LoadFromFile(*configFile)
		if err != nil {
			return appconf.Config{}, gtfs.Config{}, err
		}
		return fileCfg.ToAppConfig(), gtfsConfigFromData(fileCfg.ToGtfsConfigData()), nil
	}

	environment, err := appconf.EnvFlagToEnvironment(*env)
	if err != nil {
		return appconf.Config{}, gtfs.Config{}, err
	}
	if *gtfsURL == "" {
		return appconf.Config{}, gtfs.Config{}, errors.New("a static GTFS source is required: set -gtfs-url or -f")
	}

	cfg := appconf.Config{
		Port:              *port,
		Env:               environment,
		Verbose:           *verbose,
		RecordRetention:   *retention,
		PredictionHorizon: *horizon,
		AssignmentsDBPath: *dbPath,
		NATSURL:           *natsURL,
		NATSSubject:       *natsSubject,
	}.WithDefaults()

	gtfsCfg := gtfs.Config{
		GtfsURL: *gtfsURL,
		Env:     environment,
		Verbose: *verbose,
	}
	if *tripUpdates != "" || *positions != "" {
		gtfsCfg.RTFeeds = []gtfs.RTFeedConfig{{
			ID:                  "default",
			TripUpdatesURL:      *tripUpdates,
			VehiclePositionsURL: *positions,
			Enabled:             true,
		}}
	}

	return cfg, gtfsCfg, nil
}

func gtfsConfigFromData(data appconf.GtfsConfigData) gtfs.Config {
	feeds := make([]gtfs.RTFeedConfig, 0, len(data.RTFeeds))
	for _, feed := range data.RTFeeds {
		feeds = append(feeds, gtfs.RTFeedConfig{
			ID:                  feed.ID,
			TripUpdatesURL:      feed.TripUpdatesURL,
			VehiclePositionsURL: feed.VehiclePositionsURL,
			Headers:             feed.Headers,
			RefreshInterval:     feed.RefreshInterval,
			Enabled:             feed.IsEnabled(),
		})
	}
	return gtfs.Config{
		GtfsURL:               data.GtfsURL,
		StaticAuthHeaderKey:   data.StaticAuthHeaderKey,
		StaticAuthHeaderValue: data.StaticAuthHeaderValue,
		StaticRefreshInterval: data.StaticRefreshInterval,
		RTFeeds:               feeds,
		Env:                   data.Env,
		Verbose:               data.Verbose,
	}
}
