package blocks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tracker.onebusaway.org/internal/utils"
)

// Graph is the read-only view of the static schedule the tracker needs.
type Graph interface {
	BlockForID(blockID string) (*BlockEntry, error)
	TripForID(tripID string) (*TripEntry, error)
	// BlockConfigurationForInstance returns the configuration the block runs
	// on the instance's service date.
	BlockConfigurationForInstance(instance BlockInstance) (*BlockConfiguration, error)
}

// ServiceCalendar answers whether a service id runs on a service date.
type ServiceCalendar interface {
	IsActive(serviceID string, serviceDate time.Time) bool
}

// CalendarFunc adapts a function to ServiceCalendar.
type CalendarFunc func(serviceID string, serviceDate time.Time) bool

func (f CalendarFunc) IsActive(serviceID string, serviceDate time.Time) bool {
	return f(serviceID, serviceDate)
}

// ScheduledStop is one row of a trip's raw schedule. Times are seconds since
// service-date midnight. ShapeDistTraveled is in meters when present.
type ScheduledStop struct {
	Stop              *StopEntry
	ArrivalTime       int
	DepartureTime     int
	ShapeDistTraveled *float64
}

// TripSchedule is a trip and its ordered stops.
type TripSchedule struct {
	Trip  *TripEntry
	Stops []ScheduledStop
}

type blockSchedule struct {
	entry *BlockEntry
	trips []TripSchedule
}

// StaticGraph is an immutable Graph built from trip schedules. Block
// configurations are assembled on first use for each distinct set of active
// service ids and then reused.
type StaticGraph struct {
	blocks   map[string]*blockSchedule
	trips    map[string]*TripEntry
	calendar ServiceCalendar

	configCache      map[string]*BlockConfiguration
	configCacheMutex sync.RWMutex
}

// NewStaticGraph groups trips into blocks by BlockID. A trip without a block
// id runs as a block of its own, keyed by the trip id. Trips inside a block
// are ordered by first departure.
func NewStaticGraph(calendar ServiceCalendar, schedules []TripSchedule) (*StaticGraph, error) {
	g := &StaticGraph{
		blocks:      make(map[string]*blockSchedule),
		trips:       make(map[string]*TripEntry, len(schedules)),
		calendar:    calendar,
		configCache: make(map[string]*BlockConfiguration),
	}

	for _, schedule := range schedules {
		if schedule.Trip == nil || len(schedule.Stops) == 0 {
			continue
		}
		if schedule.Trip.BlockID == "" {
			schedule.Trip.BlockID = schedule.Trip.ID
		}
		if _, dup := g.trips[schedule.Trip.ID]; dup {
			return nil, fmt.Errorf("duplicate trip %q: %w", schedule.Trip.ID, ErrMalformedInput)
		}
		g.trips[schedule.Trip.ID] = schedule.Trip

		b, ok := g.blocks[schedule.Trip.BlockID]
		if !ok {
			b = &blockSchedule{entry: &BlockEntry{ID: schedule.Trip.BlockID}}
			g.blocks[schedule.Trip.BlockID] = b
		}
		b.trips = append(b.trips, schedule)
	}

	for _, b := range g.blocks {
		sort.SliceStable(b.trips, func(i, j int) bool {
			return b.trips[i].Stops[0].DepartureTime < b.trips[j].Stops[0].DepartureTime
		})
		for _, ts := range b.trips {
			b.entry.Trips = append(b.entry.Trips, ts.Trip)
		}
		// Each trip is checked on its own. Trips of different service ids may
		// overlap in time, so whole-block ordering is only checked per
		// service date in BlockConfigurationForInstance.
		for _, ts := range b.trips {
			single, err := NewBlockConfiguration(b.entry, []TripSchedule{ts})
			if err != nil {
				return nil, fmt.Errorf("block %q trip %q: %w", b.entry.ID, ts.Trip.ID, err)
			}
			ts.Trip.TotalDistance = single.TotalDistance
		}
	}

	return g, nil
}

func (g *StaticGraph) BlockForID(blockID string) (*BlockEntry, error) {
	b, ok := g.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("block %q: %w", blockID, ErrNoSuchEntity)
	}
	return b.entry, nil
}

func (g *StaticGraph) TripForID(tripID string) (*TripEntry, error) {
	t, ok := g.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %q: %w", tripID, ErrNoSuchEntity)
	}
	return t, nil
}

func (g *StaticGraph) BlockConfigurationForInstance(instance BlockInstance) (*BlockConfiguration, error) {
	b, ok := g.blocks[instance.BlockID]
	if !ok {
		return nil, fmt.Errorf("block %q: %w", instance.BlockID, ErrNoSuchEntity)
	}

	var active []TripSchedule
	serviceIDs := make(map[string]struct{})
	for _, ts := range b.trips {
		if g.calendar == nil || g.calendar.IsActive(ts.Trip.ServiceID, instance.ServiceDate) {
			active = append(active, ts)
			serviceIDs[ts.Trip.ServiceID] = struct{}{}
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("block %s not active: %w", instance, ErrNoSuchEntity)
	}

	ids := make([]string, 0, len(serviceIDs))
	for id := range serviceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cacheKey := instance.BlockID + "|" + strings.Join(ids, ",")

	g.configCacheMutex.RLock()
	config, ok := g.configCache[cacheKey]
	g.configCacheMutex.RUnlock()
	if ok {
		return config, nil
	}

	config, err := NewBlockConfiguration(b.entry, active)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", instance, err)
	}
	config.ServiceIDs = ids

	g.configCacheMutex.Lock()
	defer g.configCacheMutex.Unlock()
	if existing, ok := g.configCache[cacheKey]; ok {
		return existing, nil
	}
	g.configCache[cacheKey] = config
	return config, nil
}

// BlockIDs lists every block in the graph, sorted.
func (g *StaticGraph) BlockIDs() []string {
	ids := make([]string, 0, len(g.blocks))
	for id := range g.blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewBlockConfiguration lays trips end to end. Distance along the block uses
// shape_dist_traveled when every stop of a trip has it and the great-circle
// distance between consecutive stops otherwise.
func NewBlockConfiguration(block *BlockEntry, trips []TripSchedule) (*BlockConfiguration, error) {
	config := &BlockConfiguration{Block: block}
	serviceIDs := make(map[string]struct{})

	var (
		blockDistance float64
		slack         int
		sequence      int
	)

	for i, ts := range trips {
		serviceIDs[ts.Trip.ServiceID] = struct{}{}
		bt := &BlockTripEntry{
			Trip:               ts.Trip,
			Sequence:           i,
			DistanceAlongBlock: blockDistance,
			AccumulatedSlack:   slack,
			Configuration:      config,
		}

		useShapeDist := true
		for _, s := range ts.Stops {
			if s.ShapeDistTraveled == nil {
				useShapeDist = false
				break
			}
		}

		var tripDistance float64
		for j, s := range ts.Stops {
			switch {
			case useShapeDist:
				tripDistance = *s.ShapeDistTraveled - *ts.Stops[0].ShapeDistTraveled
			case j > 0:
				tripDistance += utils.PointDistance(ts.Stops[j-1].Stop.Point(), s.Stop.Point())
			}
			st := &StopTimeEntry{
				Stop:               s.Stop,
				ArrivalTime:        s.ArrivalTime,
				DepartureTime:      s.DepartureTime,
				DistanceAlongBlock: blockDistance + tripDistance,
				BlockSequence:      sequence,
				Trip:               bt,
			}
			sequence++
			slack += st.SlackTime()
			bt.StopTimes = append(bt.StopTimes, st)
			config.StopTimes = append(config.StopTimes, st)
		}

		blockDistance += tripDistance
		config.Trips = append(config.Trips, bt)
	}

	if err := ValidateStopTimes(config.StopTimes); err != nil {
		return nil, err
	}

	for id := range serviceIDs {
		config.ServiceIDs = append(config.ServiceIDs, id)
	}
	sort.Strings(config.ServiceIDs)
	config.TotalDistance = blockDistance
	return config, nil
}

// FederatedGraph answers from the first graph that knows the entity. It lets
// several feeds, each with its own graph, sit behind one Graph.
type FederatedGraph struct {
	graphs []Graph
}

func NewFederatedGraph(graphs ...Graph) *FederatedGraph {
	return &FederatedGraph{graphs: graphs}
}

func (f *FederatedGraph) BlockForID(blockID string) (*BlockEntry, error) {
	return federate(f.graphs, func(g Graph) (*BlockEntry, error) { return g.BlockForID(blockID) })
}

func (f *FederatedGraph) TripForID(tripID string) (*TripEntry, error) {
	return federate(f.graphs, func(g Graph) (*TripEntry, error) { return g.TripForID(tripID) })
}

func (f *FederatedGraph) BlockConfigurationForInstance(instance BlockInstance) (*BlockConfiguration, error) {
	return federate(f.graphs, func(g Graph) (*BlockConfiguration, error) {
		return g.BlockConfigurationForInstance(instance)
	})
}

func federate[T any](graphs []Graph, lookup func(Graph) (*T, error)) (*T, error) {
	for _, g := range graphs {
		v, err := lookup(g)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNoSuchEntity) {
			return nil, err
		}
	}
	return nil, ErrNoSuchEntity
}
