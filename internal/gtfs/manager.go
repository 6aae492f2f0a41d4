// Package gtfs loads static GTFS into the block graph and turns GTFS-RT feeds
// into vehicle location records.
package gtfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/metrics"
	"tracker.onebusaway.org/internal/realtime"
)

// RecordSink receives the records converted from each realtime poll.
type RecordSink interface {
	HandleVehicleLocationRecords(records []realtime.VehicleLocationRecord)
}

// BlockAssigner looks up the block a vehicle is assigned to when its report
// carries no trip. It returns an empty id when the vehicle is unassigned.
type BlockAssigner interface {
	BlockForVehicle(ctx context.Context, vehicleID string, serviceDate time.Time) (string, error)
}

// Dependencies are the collaborators a Manager uses. Only Clock is required
// to be non-nil after defaults are applied.
type Dependencies struct {
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Assignments BlockAssigner
}

// Manager owns the current block graph and the realtime pollers. It
// implements blocks.Graph by delegating to whichever graph is current.
type Manager struct {
	config      Config
	isLocalFile bool
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
	assignments BlockAssigner
	interner    *blocks.Interner

	static            *staticGraph
	lastUpdated       time.Time
	isHealthy         bool
	staticMutex       sync.RWMutex
	staticUpdateMutex sync.Mutex

	feedTrips     map[string][]gtfs.Trip
	feedVehicles  map[string][]gtfs.Vehicle
	feedUpdatedAt map[string]time.Time
	realTimeMutex sync.RWMutex

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func newManager(config Config, deps Dependencies) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		config:        config,
		isLocalFile:   !strings.HasPrefix(config.GtfsURL, "http://") && !strings.HasPrefix(config.GtfsURL, "https://"),
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		assignments:   deps.Assignments,
		interner:      blocks.NewInterner(),
		feedTrips:     make(map[string][]gtfs.Trip),
		feedVehicles:  make(map[string][]gtfs.Vehicle),
		feedUpdatedAt: make(map[string]time.Time),
		shutdownChan:  make(chan struct{}),
	}
}

// InitGTFSManager loads the static feed and starts the static refresher.
// Realtime polling starts separately with StartRealtime, once a sink exists.
func InitGTFSManager(ctx context.Context, config Config, deps Dependencies) (*Manager, error) {
	manager := newManager(config, deps)

	if manager.isLocalFile {
		if _, err := os.Stat(config.GtfsURL); err != nil {
			return nil, fmt.Errorf("GTFS source %q: %w", config.GtfsURL, err)
		}
	}

	if err := manager.ForceUpdate(ctx); err != nil {
		return nil, err
	}

	manager.wg.Add(1)
	go manager.updateStaticGTFS()

	return manager, nil
}

// StartRealtime begins polling every enabled feed, handing converted records
// to sink.
func (manager *Manager) StartRealtime(sink RecordSink) {
	for _, feed := range manager.config.enabledFeeds() {
		manager.wg.Add(1)
		go manager.updateGTFSRealtimePeriodically(feed, sink)
	}
}

// Shutdown stops every background goroutine and waits for them to exit. It
// is safe to call more than once.
func (manager *Manager) Shutdown() {
	manager.shutdownOnce.Do(func() {
		close(manager.shutdownChan)
	})
	manager.wg.Wait()
}

func (manager *Manager) current() *staticGraph {
	manager.staticMutex.RLock()
	defer manager.staticMutex.RUnlock()
	return manager.static
}

func (manager *Manager) BlockForID(blockID string) (*blocks.BlockEntry, error) {
	s := manager.current()
	if s == nil {
		return nil, fmt.Errorf("no static data loaded: %w", blocks.ErrNoSuchEntity)
	}
	return s.graph.BlockForID(blockID)
}

func (manager *Manager) TripForID(tripID string) (*blocks.TripEntry, error) {
	s := manager.current()
	if s == nil {
		return nil, fmt.Errorf("no static data loaded: %w", blocks.ErrNoSuchEntity)
	}
	return s.graph.TripForID(tripID)
}

func (manager *Manager) BlockConfigurationForInstance(instance blocks.BlockInstance) (*blocks.BlockConfiguration, error) {
	s := manager.current()
	if s == nil {
		return nil, fmt.Errorf("no static data loaded: %w", blocks.ErrNoSuchEntity)
	}
	return s.graph.BlockConfigurationForInstance(instance)
}

// BlockIDs lists the blocks of the current graph.
func (manager *Manager) BlockIDs() []string {
	s := manager.current()
	if s == nil {
		return nil
	}
	return s.graph.BlockIDs()
}

// Location is the agency time zone service dates are expressed in.
func (manager *Manager) Location() *time.Location {
	s := manager.current()
	if s == nil {
		return time.UTC
	}
	return s.location
}

func (manager *Manager) RegionBounds() *RegionBounds {
	s := manager.current()
	if s == nil {
		return nil
	}
	return s.bounds
}

// IsHealthy reports whether a static graph is loaded.
func (manager *Manager) IsHealthy() bool {
	manager.staticMutex.RLock()
	defer manager.staticMutex.RUnlock()
	return manager.isHealthy
}

func (manager *Manager) LastUpdated() time.Time {
	manager.staticMutex.RLock()
	defer manager.staticMutex.RUnlock()
	return manager.lastUpdated
}

// FeedUpdatedAt returns when each realtime feed last fetched successfully.
func (manager *Manager) FeedUpdatedAt() map[string]time.Time {
	manager.realTimeMutex.RLock()
	defer manager.realTimeMutex.RUnlock()
	out := make(map[string]time.Time, len(manager.feedUpdatedAt))
	for id, t := range manager.feedUpdatedAt {
		out[id] = t
	}
	return out
}
