package blocks

import (
	"fmt"

	"tracker.onebusaway.org/internal/search"
	"tracker.onebusaway.org/internal/utils"
)

func arrivalTime(st *StopTimeEntry) float64 { return float64(st.ArrivalTime) }

func distanceAlongBlock(st *StopTimeEntry) float64 { return st.DistanceAlongBlock }

// ResolveByTime returns where the block should be at scheduleTime, in seconds
// since service-date midnight. Times outside the first arrival through the
// last departure yield a location that is not in service.
func ResolveByTime(stopTimes []*StopTimeEntry, scheduleTime int) (ScheduledBlockLocation, error) {
	if len(stopTimes) == 0 {
		return ScheduledBlockLocation{}, fmt.Errorf("resolve by time: %w", ErrMalformedInput)
	}

	first, last := stopTimes[0], stopTimes[len(stopTimes)-1]
	if scheduleTime < first.ArrivalTime || scheduleTime > last.DepartureTime {
		return ScheduledBlockLocation{ScheduledTime: scheduleTime}, nil
	}

	idx := search.Search(stopTimes, float64(scheduleTime), arrivalTime)
	if idx < len(stopTimes) && stopTimes[idx].ArrivalTime == scheduleTime {
		return atStop(stopTimes[idx], scheduleTime), nil
	}

	prev := stopTimes[idx-1]
	if scheduleTime <= prev.DepartureTime {
		return atStop(prev, scheduleTime), nil
	}

	next := stopTimes[idx]
	ratio := float64(scheduleTime-prev.DepartureTime) / float64(next.ArrivalTime-prev.DepartureTime)
	distance := prev.DistanceAlongBlock + ratio*(next.DistanceAlongBlock-prev.DistanceAlongBlock)
	return between(prev, next, ratio, scheduleTime, distance), nil
}

// ResolveByDistance returns where the block should be when it has travelled
// distance meters along the block. The schedule time is interpolated between
// the bracketing departure and arrival.
func ResolveByDistance(stopTimes []*StopTimeEntry, distance float64) (ScheduledBlockLocation, error) {
	if len(stopTimes) == 0 {
		return ScheduledBlockLocation{}, fmt.Errorf("resolve by distance: %w", ErrMalformedInput)
	}

	first, last := stopTimes[0], stopTimes[len(stopTimes)-1]
	if distance < first.DistanceAlongBlock || distance > last.DistanceAlongBlock {
		return ScheduledBlockLocation{DistanceAlongBlock: distance}, nil
	}

	idx := search.Search(stopTimes, distance, distanceAlongBlock)
	if idx < len(stopTimes) && stopTimes[idx].DistanceAlongBlock == distance {
		return atStop(stopTimes[idx], stopTimes[idx].ArrivalTime), nil
	}

	prev, next := stopTimes[idx-1], stopTimes[idx]
	ratio := (distance - prev.DistanceAlongBlock) / (next.DistanceAlongBlock - prev.DistanceAlongBlock)
	scheduleTime := prev.DepartureTime + int(ratio*float64(next.ArrivalTime-prev.DepartureTime))
	return between(prev, next, ratio, scheduleTime, distance), nil
}

func atStop(st *StopTimeEntry, scheduleTime int) ScheduledBlockLocation {
	return ScheduledBlockLocation{
		InService:          true,
		ActiveTrip:         st.Trip,
		ClosestStop:        st,
		NextStop:           st,
		DistanceAlongBlock: st.DistanceAlongBlock,
		ScheduledTime:      scheduleTime,
		Location:           st.Stop.Point(),
	}
}

func between(prev, next *StopTimeEntry, ratio float64, scheduleTime int, distance float64) ScheduledBlockLocation {
	loc := ScheduledBlockLocation{
		InService:          true,
		ActiveTrip:         next.Trip,
		NextStop:           next,
		NextStopTimeOffset: next.ArrivalTime - scheduleTime,
		DistanceAlongBlock: distance,
		ScheduledTime:      scheduleTime,
		Location:           utils.Interpolate(prev.Stop.Point(), next.Stop.Point(), ratio),
	}
	if ratio < 0.5 {
		loc.ClosestStop = prev
		loc.ClosestStopTimeOffset = prev.DepartureTime - scheduleTime
	} else {
		loc.ClosestStop = next
		loc.ClosestStopTimeOffset = next.ArrivalTime - scheduleTime
	}
	return loc
}
