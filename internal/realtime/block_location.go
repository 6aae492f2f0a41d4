package realtime

import (
	"time"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/utils"
)

// BlockLocation is the answer to a location query. Pointer fields are nil
// when the value is absent, which is distinct from zero.
type BlockLocation struct {
	BlockInstance blocks.BlockInstance
	InService     bool
	Location      *utils.CoordinatePoint

	ClosestStop           *blocks.StopTimeEntry
	ClosestStopTimeOffset int
	NextStop              *blocks.StopTimeEntry
	NextStopTimeOffset    int
	ActiveTrip            *blocks.BlockTripEntry

	ScheduleDeviation           *float64
	DistanceAlongBlock          *float64
	ScheduledDistanceAlongBlock *float64

	Predicted      bool
	LastUpdateTime time.Time
	VehicleID      string
}

func (l BlockLocation) HasScheduleDeviation() bool {
	return l.ScheduleDeviation != nil
}

func (l BlockLocation) HasDistanceAlongBlock() bool {
	return l.DistanceAlongBlock != nil
}

// StopTimeInstance is a stop time on a particular service date, carrying
// the predicted offsets written by ApplyRealtimeData.
type StopTimeInstance struct {
	StopTime    *blocks.StopTimeEntry
	ServiceDate time.Time

	PredictedArrivalOffset   int
	PredictedDepartureOffset int
	HasPredictions           bool
}

// ScheduledArrival is the scheduled arrival as an instant.
func (sti *StopTimeInstance) ScheduledArrival() time.Time {
	return sti.ServiceDate.Add(time.Duration(sti.StopTime.ArrivalTime) * time.Second)
}

// PredictedArrival is the scheduled arrival shifted by the predicted offset.
func (sti *StopTimeInstance) PredictedArrival() time.Time {
	return sti.ScheduledArrival().Add(time.Duration(sti.PredictedArrivalOffset) * time.Second)
}

func (sti *StopTimeInstance) ScheduledDeparture() time.Time {
	return sti.ServiceDate.Add(time.Duration(sti.StopTime.DepartureTime) * time.Second)
}

func (sti *StopTimeInstance) PredictedDeparture() time.Time {
	return sti.ScheduledDeparture().Add(time.Duration(sti.PredictedDepartureOffset) * time.Second)
}

// NewStopTimeInstances wraps every stop time of config for serviceDate.
func NewStopTimeInstances(config *blocks.BlockConfiguration, serviceDate time.Time) []*StopTimeInstance {
	instances := make([]*StopTimeInstance, len(config.StopTimes))
	for i, st := range config.StopTimes {
		instances[i] = &StopTimeInstance{StopTime: st, ServiceDate: serviceDate}
	}
	return instances
}
