package blocks

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchEntity is returned when a block, trip or vehicle id is unknown.
	ErrNoSuchEntity = errors.New("no such entity")
	// ErrMalformedInput is returned for empty or non-monotonic stop times and
	// for empty query batches.
	ErrMalformedInput = errors.New("malformed input")
)

// ValidateStopTimes checks that stop times are non-empty and ordered
// consistently by time and by distance.
func ValidateStopTimes(stopTimes []*StopTimeEntry) error {
	if len(stopTimes) == 0 {
		return fmt.Errorf("empty stop time sequence: %w", ErrMalformedInput)
	}
	for i, st := range stopTimes {
		if st.DepartureTime < st.ArrivalTime {
			return fmt.Errorf("stop time %d departs at %d before arriving at %d: %w",
				i, st.DepartureTime, st.ArrivalTime, ErrMalformedInput)
		}
		if i == 0 {
			continue
		}
		prev := stopTimes[i-1]
		if st.ArrivalTime < prev.DepartureTime {
			return fmt.Errorf("stop time %d arrives at %d before previous departure %d: %w",
				i, st.ArrivalTime, prev.DepartureTime, ErrMalformedInput)
		}
		if st.DistanceAlongBlock < prev.DistanceAlongBlock {
			return fmt.Errorf("stop time %d distance %.1f precedes previous %.1f: %w",
				i, st.DistanceAlongBlock, prev.DistanceAlongBlock, ErrMalformedInput)
		}
	}
	return nil
}
