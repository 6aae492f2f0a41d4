package gtfs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/logging"
	"tracker.onebusaway.org/internal/realtime"
	"tracker.onebusaway.org/internal/utils"
)

// recordsFromFeed converts one poll of a feed into location records. Trip
// updates are matched to vehicle positions by vehicle id; vehicles that
// appear in only one of the two still produce a record when their block and
// deviation can be worked out.
func (manager *Manager) recordsFromFeed(ctx context.Context, trips []gtfs.Trip, vehicles []gtfs.Vehicle, createdAt time.Time) []realtime.VehicleLocationRecord {
	logger := logging.FromContext(ctx)

	positions := make(map[string]*gtfs.Vehicle, len(vehicles))
	for i := range vehicles {
		positions[vehicles[i].ID.ID] = &vehicles[i]
	}

	records := make([]realtime.VehicleLocationRecord, 0, len(vehicles)+len(trips))
	seen := make(map[string]bool, len(trips))

	for i := range trips {
		trip := &trips[i]
		vehicleID := tripVehicleID(trip)
		if vehicleID == "" || seen[vehicleID] {
			continue
		}
		seen[vehicleID] = true

		vehicle := positions[vehicleID]
		if vehicle == nil {
			vehicle = trip.Vehicle
		}
		record, ok := manager.recordFor(ctx, vehicleID, trip, vehicle, createdAt)
		if ok {
			records = append(records, record)
		}
	}

	for i := range vehicles {
		vehicle := &vehicles[i]
		if seen[vehicle.ID.ID] {
			continue
		}
		seen[vehicle.ID.ID] = true
		record, ok := manager.recordFor(ctx, vehicle.ID.ID, vehicle.Trip, vehicle, createdAt)
		if ok {
			records = append(records, record)
		}
	}

	if dropped := len(seen) - len(records); dropped > 0 {
		logger.Debug("realtime vehicles without a usable record", slog.Int("count", dropped))
	}
	return records
}

func tripVehicleID(trip *gtfs.Trip) string {
	if trip.Vehicle == nil || trip.Vehicle.ID == nil {
		return ""
	}
	return trip.Vehicle.ID.ID
}

// recordFor builds the record for one vehicle. trip and vehicle may each be
// nil.
func (manager *Manager) recordFor(ctx context.Context, vehicleID string, trip *gtfs.Trip, vehicle *gtfs.Vehicle, createdAt time.Time) (realtime.VehicleLocationRecord, bool) {
	loc := manager.Location()
	record := realtime.VehicleLocationRecord{
		VehicleID:    vehicleID,
		TimeOfRecord: timeOfRecord(vehicle, createdAt, manager.clock),
	}
	record.ServiceDate = serviceDateFor(trip, record.TimeOfRecord, loc)
	record.Location = vehiclePosition(vehicle)

	if trip != nil && trip.ID.ID != "" {
		record.TripID = trip.ID.ID
		entry, err := manager.TripForID(trip.ID.ID)
		switch {
		case err == nil:
			record.BlockID = entry.BlockID
		case !errors.Is(err, blocks.ErrNoSuchEntity):
			logging.LogError(logging.FromContext(ctx), "Error looking up trip", err,
				slog.String("trip_id", trip.ID.ID))
			return record, false
		}
	} else if manager.assignments != nil {
		blockID, err := manager.assignments.BlockForVehicle(ctx, vehicleID, record.ServiceDate)
		if err != nil {
			logging.LogError(logging.FromContext(ctx), "Error looking up vehicle assignment", err,
				slog.String("vehicle_id", vehicleID))
			return record, false
		}
		record.BlockID = blockID
	}

	deviation, reported := reportedDeviation(trip)
	if reported {
		record.ScheduleDeviation = deviation
	}
	// A trip missing from the loaded schedule is passed on with no block; its
	// deviation cannot be inferred.
	if record.BlockID == "" {
		return record, reported && record.TripID != ""
	}
	if reported {
		return record, true
	}

	if record.Location == nil {
		return record, false
	}
	config, err := manager.BlockConfigurationForInstance(record.BlockInstance())
	if err != nil {
		if !errors.Is(err, blocks.ErrNoSuchEntity) {
			logging.LogError(logging.FromContext(ctx), "Error resolving block configuration", err,
				slog.String("block_id", record.BlockID))
		}
		return record, false
	}
	inferred, ok := inferDeviation(config, *record.Location, clock.SecondsSince(record.ServiceDate, record.TimeOfRecord))
	if !ok {
		return record, false
	}
	record.ScheduleDeviation = inferred
	return record, true
}

// reportedDeviation takes the delay of the first stop time update that
// carries one, arrival before departure.
func reportedDeviation(trip *gtfs.Trip) (float64, bool) {
	if trip == nil {
		return 0, false
	}
	for _, stu := range trip.StopTimeUpdates {
		if stu.Arrival != nil && stu.Arrival.Delay != nil {
			return stu.Arrival.Delay.Seconds(), true
		}
		if stu.Departure != nil && stu.Departure.Delay != nil {
			return stu.Departure.Delay.Seconds(), true
		}
	}
	return 0, false
}

// inferDeviation estimates deviation from a position. The vehicle must be
// within DefaultStopSearchRadius of a stop on the block; it is on time while
// the stop's arrival-departure window covers now, early before it and late
// after it.
func inferDeviation(config *blocks.BlockConfiguration, position utils.CoordinatePoint, now float64) (float64, bool) {
	st, ok := config.StopIndex().Nearest(position, blocks.DefaultStopSearchRadius, int(now))
	if !ok {
		return 0, false
	}
	switch {
	case now < float64(st.ArrivalTime):
		return now - float64(st.ArrivalTime), true
	case now > float64(st.DepartureTime):
		return now - float64(st.DepartureTime), true
	default:
		return 0, true
	}
}

func timeOfRecord(vehicle *gtfs.Vehicle, createdAt time.Time, c clock.Clock) time.Time {
	if vehicle != nil && vehicle.Timestamp != nil && !vehicle.Timestamp.IsZero() {
		return *vehicle.Timestamp
	}
	if !createdAt.IsZero() {
		return createdAt
	}
	return c.Now()
}

func serviceDateFor(trip *gtfs.Trip, t time.Time, loc *time.Location) time.Time {
	if trip != nil && trip.ID.HasStartDate {
		d := trip.ID.StartDate
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	}
	return clock.ServiceDate(t, loc)
}

func vehiclePosition(vehicle *gtfs.Vehicle) *utils.CoordinatePoint {
	if vehicle == nil || vehicle.Position == nil || vehicle.Position.Latitude == nil || vehicle.Position.Longitude == nil {
		return nil
	}
	return &utils.CoordinatePoint{
		Lat: float64(*vehicle.Position.Latitude),
		Lon: float64(*vehicle.Position.Longitude),
	}
}
