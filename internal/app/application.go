package app

import (
	"log/slog"

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/assignments"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/gtfs"
	"tracker.onebusaway.org/internal/ingest"
	"tracker.onebusaway.org/internal/metrics"
	"tracker.onebusaway.org/internal/realtime"
)

// Application holds the long-lived components of the tracker process, shared
// by the operations endpoint and the background loops.
type Application struct {
	Config               appconf.Config
	GtfsConfig           gtfs.Config
	Logger               *slog.Logger
	GtfsManager          *gtfs.Manager
	RecordCache          *realtime.RecordCache
	BlockLocationService *realtime.BlockLocationService
	Assignments          *assignments.Store
	Subscriber           *ingest.Subscriber
	Clock                clock.Clock
	Metrics              *metrics.Metrics
}
