package realtime

import (
	"math"
	"slices"
	"time"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/search"
)

// Observation is a deviation measured when the vehicle was at ScheduleTime,
// in seconds since service-date midnight, along its schedule.
type Observation struct {
	ScheduleTime float64
	Deviation    float64
}

// Offsets are predicted arrival and departure offsets in seconds.
type Offsets struct {
	Arrival   int
	Departure int
}

// PredictionPolicy turns observations into per-stop offsets. observations
// are ordered by strictly increasing ScheduleTime and are never empty. The
// result is aligned with stopTimes.
type PredictionPolicy interface {
	Predict(stopTimes []*blocks.StopTimeEntry, observations []Observation) []Offsets
}

// SlackAbsorptionPolicy interpolates deviation between observations. Past the
// newest observation it carries the newest deviation forward and lets each
// stop's scheduled dwell absorb it, so lateness shrinks toward zero and never
// changes sign.
type SlackAbsorptionPolicy struct {
	// Horizon, when positive, zeroes offsets for stop events scheduled more
	// than Horizon after the newest observation.
	Horizon time.Duration
}

func (p SlackAbsorptionPolicy) Predict(stopTimes []*blocks.StopTimeEntry, observations []Observation) []Offsets {
	offsets := make([]Offsets, len(stopTimes))
	if len(observations) == 0 {
		return offsets
	}

	newest := observations[len(observations)-1]
	carried := newest.Deviation
	horizon := p.Horizon.Seconds()

	offsetAt := func(scheduleTime int, carriedValue float64) int {
		t := float64(scheduleTime)
		if t <= newest.ScheduleTime {
			return roundSeconds(interpolateDeviation(observations, t))
		}
		if horizon > 0 && t-newest.ScheduleTime > horizon {
			return 0
		}
		return roundSeconds(carriedValue)
	}

	for i, st := range stopTimes {
		arrivalCarried := float64(st.ArrivalTime) > newest.ScheduleTime
		offsets[i].Arrival = offsetAt(st.ArrivalTime, carried)

		if arrivalCarried {
			carried = absorbSlack(carried, float64(st.SlackTime()))
		}
		offsets[i].Departure = offsetAt(st.DepartureTime, carried)
	}
	return offsets
}

func absorbSlack(deviation, slack float64) float64 {
	switch {
	case deviation > 0:
		return math.Max(0, deviation-slack)
	case deviation < 0:
		return math.Min(0, deviation+slack)
	}
	return 0
}

func observationTime(o Observation) float64 { return o.ScheduleTime }

func interpolateDeviation(observations []Observation, scheduleTime float64) float64 {
	if scheduleTime <= observations[0].ScheduleTime {
		return observations[0].Deviation
	}
	idx := search.Search(observations, scheduleTime, observationTime)
	if idx >= len(observations) {
		return observations[len(observations)-1].Deviation
	}
	if observations[idx].ScheduleTime == scheduleTime {
		return observations[idx].Deviation
	}
	before, after := observations[idx-1], observations[idx]
	ratio := (scheduleTime - before.ScheduleTime) / (after.ScheduleTime - before.ScheduleTime)
	return before.Deviation + ratio*(after.Deviation-before.Deviation)
}

func roundSeconds(v float64) int {
	return int(math.Round(v))
}

// observationsFromRecords maps records, oldest first, onto the schedule.
// Walking from the newest record back, a record is kept only if it places
// the vehicle strictly earlier in the schedule than every newer record kept.
func observationsFromRecords(serviceDate time.Time, records []VehicleLocationRecord) []Observation {
	var observations []Observation
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		scheduleTime := clock.SecondsSince(serviceDate, r.TimeOfRecord) - r.ScheduleDeviation
		if len(observations) > 0 && scheduleTime >= observations[len(observations)-1].ScheduleTime {
			continue
		}
		observations = append(observations, Observation{ScheduleTime: scheduleTime, Deviation: r.ScheduleDeviation})
	}
	slices.Reverse(observations)
	return observations
}
