package realtime

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/logging"
	"tracker.onebusaway.org/internal/metrics"
)

// ServiceOptions configures a BlockLocationService. Zero values select the
// defaults.
type ServiceOptions struct {
	Policy  PredictionPolicy
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// BlockLocationService answers where a block's vehicle is and when it will
// reach each stop, from the static graph and the records in the cache.
type BlockLocationService struct {
	graph   blocks.Graph
	cache   *RecordCache
	policy  PredictionPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger

	unresolvedTripWarning rate.Sometimes
}

func NewBlockLocationService(graph blocks.Graph, cache *RecordCache, opts ServiceOptions) *BlockLocationService {
	s := &BlockLocationService{
		graph:                 graph,
		cache:                 cache,
		policy:                opts.Policy,
		metrics:               opts.Metrics,
		logger:                opts.Logger,
		unresolvedTripWarning: rate.Sometimes{First: 5, Interval: time.Minute},
	}
	if s.policy == nil {
		s.policy = SlackAbsorptionPolicy{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "block_location_service"))
	return s
}

func (s *BlockLocationService) Cache() *RecordCache {
	return s.cache
}

// HandleVehicleLocationRecords stores records in the cache. A record without
// a block id takes the block of its trip. Records whose trip is unknown are
// stored unchanged.
func (s *BlockLocationService) HandleVehicleLocationRecords(records []VehicleLocationRecord) {
	evicted := 0
	for _, record := range records {
		if record.BlockID == "" && record.TripID != "" {
			trip, err := s.graph.TripForID(record.TripID)
			if err != nil {
				s.unresolvedTripWarning.Do(func() {
					s.logger.Warn("could not resolve block for trip",
						slog.String("trip_id", record.TripID),
						slog.String("vehicle_id", record.VehicleID),
						slog.String("error", err.Error()))
				})
			} else {
				record.BlockID = trip.BlockID
			}
		}
		evicted += s.cache.Put(record)
	}

	s.metrics.ObserveEvicted(evicted)
	s.metrics.SetCacheKeys(s.cache.Len())
}

// EvictStale drops cache keys that have not reported within the retention
// window before now.
func (s *BlockLocationService) EvictStale(now time.Time) int {
	evicted := s.cache.EvictStale(now)
	s.metrics.ObserveEvicted(evicted)
	s.metrics.SetCacheKeys(s.cache.Len())
	if evicted > 0 {
		logging.LogOperation(s.logger, "evicted_stale_records",
			slog.Int("records", evicted),
			slog.Int("remaining_keys", s.cache.Len()))
	}
	return evicted
}

// GetLocationForBlockInstance locates the block at queryTime. Whether the
// block is in service is decided by the schedule alone. The newest record at
// or before queryTime, from any vehicle on the block, moves the position by
// its deviation.
func (s *BlockLocationService) GetLocationForBlockInstance(instance blocks.BlockInstance, queryTime time.Time) (BlockLocation, error) {
	return s.locate(instance, queryTime, "")
}

// GetLocationForVehicle locates the block the vehicle most recently reported
// against at or before queryTime.
func (s *BlockLocationService) GetLocationForVehicle(vehicleID string, queryTime time.Time) (BlockLocation, error) {
	record, ok := newestAtOrBefore(s.cache.GetRecordsForVehicle(vehicleID), queryTime)
	if !ok {
		s.metrics.ObserveQuery(metrics.ResultError)
		return BlockLocation{}, fmt.Errorf("vehicle %q: %w", vehicleID, blocks.ErrNoSuchEntity)
	}
	if record.BlockID == "" {
		s.metrics.ObserveQuery(metrics.ResultError)
		return BlockLocation{}, fmt.Errorf("vehicle %q has no block: %w", vehicleID, blocks.ErrNoSuchEntity)
	}
	return s.locate(record.BlockInstance(), queryTime, vehicleID)
}

func (s *BlockLocationService) locate(instance blocks.BlockInstance, queryTime time.Time, vehicleID string) (BlockLocation, error) {
	config, err := s.graph.BlockConfigurationForInstance(instance)
	if err != nil {
		s.metrics.ObserveQuery(metrics.ResultError)
		return BlockLocation{}, fmt.Errorf("block instance %s: %w", instance, err)
	}

	scheduleTime := int(math.Floor(clock.SecondsSince(instance.ServiceDate, queryTime)))
	scheduled, err := blocks.ResolveByTime(config.StopTimes, scheduleTime)
	if err != nil {
		s.metrics.ObserveQuery(metrics.ResultError)
		return BlockLocation{}, fmt.Errorf("block instance %s: %w", instance, err)
	}

	location := BlockLocation{BlockInstance: instance}
	if !scheduled.InService {
		s.metrics.ObserveQuery(metrics.ResultNotInService)
		return location, nil
	}

	location.InService = true
	applyScheduled(&location, scheduled)
	scheduledDistance := scheduled.DistanceAlongBlock
	location.ScheduledDistanceAlongBlock = &scheduledDistance

	records := s.cache.GetRecordsForBlockInstance(instance.BlockID, instance.ServiceDate)
	if vehicleID != "" {
		records = recordsForVehicle(records, vehicleID)
	}
	if record, ok := newestAtOrBefore(records, queryTime); ok {
		deviation := record.ScheduleDeviation
		location.ScheduleDeviation = &deviation
		location.Predicted = true
		location.VehicleID = record.VehicleID
		location.LastUpdateTime = record.TimeOfRecord

		actual := resolveClamped(config.StopTimes, scheduleTime-int(math.Round(deviation)))
		applyScheduled(&location, actual)
		distance := actual.DistanceAlongBlock
		location.DistanceAlongBlock = &distance

		if record.Location != nil {
			point := *record.Location
			location.Location = &point
		}
	}

	s.metrics.ObserveQuery(metrics.ResultInService)
	return location, nil
}

func applyScheduled(location *BlockLocation, scheduled blocks.ScheduledBlockLocation) {
	point := scheduled.Location
	location.Location = &point
	location.ActiveTrip = scheduled.ActiveTrip
	location.ClosestStop = scheduled.ClosestStop
	location.ClosestStopTimeOffset = scheduled.ClosestStopTimeOffset
	location.NextStop = scheduled.NextStop
	location.NextStopTimeOffset = scheduled.NextStopTimeOffset
}

// resolveClamped resolves scheduleTime, holding a vehicle that is running
// late past the first stop's arrival at the first stop, and one running
// early past the last departure at the last stop.
func resolveClamped(stopTimes []*blocks.StopTimeEntry, scheduleTime int) blocks.ScheduledBlockLocation {
	first, last := stopTimes[0], stopTimes[len(stopTimes)-1]
	switch {
	case scheduleTime < first.ArrivalTime:
		scheduleTime = first.ArrivalTime
	case scheduleTime > last.DepartureTime:
		scheduleTime = last.DepartureTime
	}
	// stopTimes is non-empty, so this cannot fail.
	loc, _ := blocks.ResolveByTime(stopTimes, scheduleTime)
	return loc
}

// ApplyRealtimeData writes predicted offsets onto instances in place. Every
// instance must belong to the same block instance. The cache is read on
// every call.
func (s *BlockLocationService) ApplyRealtimeData(instances []*StopTimeInstance, queryTime time.Time) error {
	start := time.Now()
	defer func() { s.metrics.ObservePrediction(time.Since(start)) }()

	instance, config, err := s.batchInstance(instances)
	if err != nil {
		return err
	}

	records := s.cache.GetRecordsForBlockInstance(instance.BlockID, instance.ServiceDate)
	newest, ok := newestAtOrBefore(records, queryTime)
	if !ok {
		for _, sti := range instances {
			sti.PredictedArrivalOffset = 0
			sti.PredictedDepartureOffset = 0
			sti.HasPredictions = false
		}
		return nil
	}

	records = recordsAtOrBefore(recordsForVehicle(records, newest.VehicleID), queryTime)
	observations := observationsFromRecords(instance.ServiceDate, records)
	offsets := s.policy.Predict(config.StopTimes, observations)

	bySequence := make(map[int]Offsets, len(offsets))
	for i, st := range config.StopTimes {
		bySequence[st.BlockSequence] = offsets[i]
	}
	for _, sti := range instances {
		o := bySequence[sti.StopTime.BlockSequence]
		sti.PredictedArrivalOffset = o.Arrival
		sti.PredictedDepartureOffset = o.Departure
		sti.HasPredictions = true
	}
	return nil
}

func (s *BlockLocationService) batchInstance(instances []*StopTimeInstance) (blocks.BlockInstance, *blocks.BlockConfiguration, error) {
	if len(instances) == 0 {
		return blocks.BlockInstance{}, nil, fmt.Errorf("empty stop time batch: %w", blocks.ErrMalformedInput)
	}

	first := instances[0]
	if first.StopTime == nil || first.StopTime.Trip == nil || first.StopTime.Trip.Trip == nil {
		return blocks.BlockInstance{}, nil, fmt.Errorf("stop time without trip: %w", blocks.ErrMalformedInput)
	}
	instance := blocks.BlockInstance{BlockID: first.StopTime.Trip.Trip.BlockID, ServiceDate: first.ServiceDate}
	config := first.StopTime.Configuration()

	for _, sti := range instances[1:] {
		if sti.StopTime == nil || sti.StopTime.Trip == nil || sti.StopTime.Trip.Trip == nil {
			return blocks.BlockInstance{}, nil, fmt.Errorf("stop time without trip: %w", blocks.ErrMalformedInput)
		}
		if sti.StopTime.Trip.Trip.BlockID != instance.BlockID || !sti.ServiceDate.Equal(instance.ServiceDate) ||
			sti.StopTime.Configuration() != config {
			return blocks.BlockInstance{}, nil, fmt.Errorf("batch mixes block instances: %w", blocks.ErrMalformedInput)
		}
	}

	if config == nil {
		var err error
		config, err = s.graph.BlockConfigurationForInstance(instance)
		if err != nil {
			return blocks.BlockInstance{}, nil, fmt.Errorf("block instance %s: %w", instance, err)
		}
	}
	return instance, config, nil
}

// ScheduledLocationAtTime resolves the block's scheduled position at t.
func (s *BlockLocationService) ScheduledLocationAtTime(instance blocks.BlockInstance, t time.Time) (blocks.ScheduledBlockLocation, error) {
	config, err := s.graph.BlockConfigurationForInstance(instance)
	if err != nil {
		return blocks.ScheduledBlockLocation{}, fmt.Errorf("block instance %s: %w", instance, err)
	}
	return blocks.ResolveByTime(config.StopTimes, int(math.Floor(clock.SecondsSince(instance.ServiceDate, t))))
}

// ScheduledLocationAtDistance resolves the block's scheduled position after
// distance meters.
func (s *BlockLocationService) ScheduledLocationAtDistance(instance blocks.BlockInstance, distance float64) (blocks.ScheduledBlockLocation, error) {
	config, err := s.graph.BlockConfigurationForInstance(instance)
	if err != nil {
		return blocks.ScheduledBlockLocation{}, fmt.Errorf("block instance %s: %w", instance, err)
	}
	return blocks.ResolveByDistance(config.StopTimes, distance)
}

func newestAtOrBefore(records []VehicleLocationRecord, t time.Time) (VehicleLocationRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].TimeOfRecord.After(t) {
			return records[i], true
		}
	}
	return VehicleLocationRecord{}, false
}

func recordsAtOrBefore(records []VehicleLocationRecord, t time.Time) []VehicleLocationRecord {
	out := records[:0:0]
	for _, r := range records {
		if !r.TimeOfRecord.After(t) {
			out = append(out, r)
		}
	}
	return out
}

func recordsForVehicle(records []VehicleLocationRecord, vehicleID string) []VehicleLocationRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out
}
