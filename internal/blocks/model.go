// Package blocks holds the static block graph the tracker resolves positions
// against, and the resolver that maps a schedule time or a distance onto it.
package blocks

import (
	"sync"
	"time"

	"tracker.onebusaway.org/internal/utils"
)

type StopEntry struct {
	ID  string
	Lat float64
	Lon float64
}

func (s *StopEntry) Point() utils.CoordinatePoint {
	return utils.CoordinatePoint{Lat: s.Lat, Lon: s.Lon}
}

type TripEntry struct {
	ID            string
	RouteID       string
	ServiceID     string
	ShapeID       string
	BlockID       string
	TotalDistance float64
}

// BlockTripEntry places a trip inside one block configuration.
type BlockTripEntry struct {
	Trip               *TripEntry
	Sequence           int
	DistanceAlongBlock float64
	// AccumulatedSlack is the dwell time, in seconds, summed over every stop
	// of the block before this trip's first stop.
	AccumulatedSlack int
	StopTimes        []*StopTimeEntry
	Configuration    *BlockConfiguration
}

// StopTimeEntry is one scheduled visit to a stop. Times are seconds since
// service-date midnight.
type StopTimeEntry struct {
	Stop               *StopEntry
	ArrivalTime        int
	DepartureTime      int
	DistanceAlongBlock float64
	BlockSequence      int
	Trip               *BlockTripEntry
}

// SlackTime is the scheduled dwell at this stop.
func (st *StopTimeEntry) SlackTime() int {
	return st.DepartureTime - st.ArrivalTime
}

func (st *StopTimeEntry) Configuration() *BlockConfiguration {
	if st.Trip == nil {
		return nil
	}
	return st.Trip.Configuration
}

// BlockEntry is a block and every trip it can run, in first-departure order
// across all service ids.
type BlockEntry struct {
	ID    string
	Trips []*TripEntry
}

// BlockConfiguration is the trip sequence a block runs when a given set of
// service ids is active.
type BlockConfiguration struct {
	Block         *BlockEntry
	ServiceIDs    []string
	Trips         []*BlockTripEntry
	StopTimes     []*StopTimeEntry
	TotalDistance float64

	stopIndexOnce sync.Once
	stopIndex     *StopIndex
}

// StopIndex returns the spatial index over this configuration's stop times,
// building it on first use.
func (c *BlockConfiguration) StopIndex() *StopIndex {
	c.stopIndexOnce.Do(func() {
		c.stopIndex = NewStopIndex(c.StopTimes)
	})
	return c.stopIndex
}

// BlockInstance is a block running on one service date.
type BlockInstance struct {
	BlockID     string
	ServiceDate time.Time
}

func (bi BlockInstance) String() string {
	return bi.BlockID + "@" + bi.ServiceDate.Format("20060102")
}

// ScheduledBlockLocation is where a block should be according to the
// schedule alone.
type ScheduledBlockLocation struct {
	InService             bool
	ActiveTrip            *BlockTripEntry
	ClosestStop           *StopTimeEntry
	ClosestStopTimeOffset int
	NextStop              *StopTimeEntry
	NextStopTimeOffset    int
	DistanceAlongBlock    float64
	ScheduledTime         int
	Location              utils.CoordinatePoint
}
