// Package realtime blends vehicle reports with the static block schedule to
// locate vehicles and predict their arrivals.
package realtime

import (
	"time"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/utils"
)

// VehicleLocationRecord is one report from a vehicle. ScheduleDeviation is in
// seconds, positive when the vehicle runs late. Records are never modified
// after they are created.
type VehicleLocationRecord struct {
	VehicleID         string
	TripID            string
	BlockID           string
	ServiceDate       time.Time
	TimeOfRecord      time.Time
	ScheduleDeviation float64
	Location          *utils.CoordinatePoint
}

func (r VehicleLocationRecord) Key() RecordKey {
	return RecordKey{VehicleID: r.VehicleID, BlockID: r.BlockID, ServiceDate: r.ServiceDate}
}

func (r VehicleLocationRecord) BlockInstance() blocks.BlockInstance {
	return blocks.BlockInstance{BlockID: r.BlockID, ServiceDate: r.ServiceDate}
}

// RecordKey identifies the records one vehicle reported against one block
// instance.
type RecordKey struct {
	VehicleID   string
	BlockID     string
	ServiceDate time.Time
}

type instanceKey struct {
	blockID     string
	serviceDate int64
}

func newInstanceKey(blockID string, serviceDate time.Time) instanceKey {
	return instanceKey{blockID: blockID, serviceDate: serviceDate.Unix()}
}
