// Package ingest receives vehicle reports over NATS and hands them to the
// block location service as location records.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/realtime"
	"tracker.onebusaway.org/internal/utils"
)

// Report is the JSON body of one vehicle report. Either TripID or BlockID
// must be present; when both are and the trip is known, the trip must belong
// to the block.
type Report struct {
	VehicleID         string    `json:"vehicleId" validate:"required"`
	TripID            string    `json:"tripId" validate:"required_without=BlockID"`
	BlockID           string    `json:"blockId"`
	ServiceDate       string    `json:"serviceDate" validate:"required,len=8,numeric"`
	Timestamp         time.Time `json:"timestamp" validate:"required"`
	ScheduleDeviation *float64  `json:"scheduleDeviation" validate:"required"`
	Lat               *float64  `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon               *float64  `json:"lon,omitempty" validate:"omitempty,longitude"`
}

var ErrInvalidReport = errors.New("invalid vehicle report")

var validate = validator.New(validator.WithRequiredStructEnabled())

// TripLookup resolves trip ids to their block.
type TripLookup interface {
	TripForID(tripID string) (*blocks.TripEntry, error)
}

// DecodeReport parses and validates one message. Service dates are read in
// loc.
func DecodeReport(data []byte, trips TripLookup, loc *time.Location) (realtime.VehicleLocationRecord, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if err := validate.Struct(report); err != nil {
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return report.toRecord(trips, loc)
}

func (r Report) toRecord(trips TripLookup, loc *time.Location) (realtime.VehicleLocationRecord, error) {
	serviceDate, err := clock.ParseServiceDate(r.ServiceDate, loc)
	if err != nil {
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: service date %q: %v", ErrInvalidReport, r.ServiceDate, err)
	}

	record := realtime.VehicleLocationRecord{
		VehicleID:         r.VehicleID,
		TripID:            r.TripID,
		BlockID:           r.BlockID,
		ServiceDate:       serviceDate,
		TimeOfRecord:      r.Timestamp,
		ScheduleDeviation: *r.ScheduleDeviation,
	}
	if (r.Lat == nil) != (r.Lon == nil) {
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: lat and lon must be given together", ErrInvalidReport)
	}
	if r.Lat != nil {
		record.Location = &utils.CoordinatePoint{Lat: *r.Lat, Lon: *r.Lon}
	}

	if r.TripID == "" || trips == nil {
		return record, nil
	}
	trip, err := trips.TripForID(r.TripID)
	switch {
	case errors.Is(err, blocks.ErrNoSuchEntity):
		// Trips missing from the loaded schedule pass through with the block
		// as reported, which may be empty.
		return record, nil
	case err != nil:
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if record.BlockID != "" && record.BlockID != trip.BlockID {
		return realtime.VehicleLocationRecord{}, fmt.Errorf("%w: trip %q is on block %q, not %q",
			ErrInvalidReport, r.TripID, trip.BlockID, record.BlockID)
	}
	record.BlockID = trip.BlockID
	return record, nil
}
