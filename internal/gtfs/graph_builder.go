package gtfs

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tracker.onebusaway.org/internal/blocks"
)

// staticGraph is everything built from one static feed.
type staticGraph struct {
	graph    *blocks.StaticGraph
	stops    []*blocks.StopEntry
	location *time.Location
	bounds   *RegionBounds
}

// buildGraph turns a parsed static feed into a block graph. Route, service,
// shape and block ids are interned so repeated values share storage across
// rebuilds.
func buildGraph(static *gtfs.Static, interner *blocks.Interner, logger *slog.Logger) (*staticGraph, error) {
	stopsByID := make(map[string]*blocks.StopEntry, len(static.Stops))
	stops := make([]*blocks.StopEntry, 0, len(static.Stops))
	for i := range static.Stops {
		s := &static.Stops[i]
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		entry := &blocks.StopEntry{ID: s.Id, Lat: *s.Latitude, Lon: *s.Longitude}
		stopsByID[s.Id] = entry
		stops = append(stops, entry)
	}

	schedules := make([]blocks.TripSchedule, 0, len(static.Trips))
	skipped := 0
	for i := range static.Trips {
		trip := &static.Trips[i]
		schedule, ok := tripSchedule(trip, stopsByID, interner)
		if !ok {
			skipped++
			continue
		}
		schedules = append(schedules, schedule)
	}
	if skipped > 0 && logger != nil {
		logger.Warn("skipped trips without usable stop times", slog.Int("count", skipped))
	}

	graph, err := blocks.NewStaticGraph(newServiceCalendar(static.Services), schedules)
	if err != nil {
		return nil, fmt.Errorf("failed to build block graph: %w", err)
	}

	return &staticGraph{
		graph:    graph,
		stops:    stops,
		location: agencyLocation(static, logger),
		bounds:   ComputeRegionBounds(stops),
	}, nil
}

func tripSchedule(trip *gtfs.ScheduledTrip, stops map[string]*blocks.StopEntry, interner *blocks.Interner) (blocks.TripSchedule, bool) {
	entry := &blocks.TripEntry{ID: trip.ID, BlockID: interner.Intern(trip.BlockID)}
	if trip.Route != nil {
		entry.RouteID = interner.Intern(trip.Route.Id)
	}
	if trip.Service != nil {
		entry.ServiceID = interner.Intern(trip.Service.Id)
	}
	if trip.Shape != nil {
		entry.ShapeID = interner.Intern(trip.Shape.ID)
	}

	stopTimes := slices.Clone(trip.StopTimes)
	slices.SortFunc(stopTimes, func(a, b gtfs.ScheduledStopTime) int {
		return a.StopSequence - b.StopSequence
	})

	scheduled := make([]blocks.ScheduledStop, 0, len(stopTimes))
	for i, st := range stopTimes {
		if st.Stop == nil {
			continue
		}
		stop, ok := stops[st.Stop.Id]
		if !ok {
			continue
		}
		arrival, departure := int(st.ArrivalTime.Seconds()), int(st.DepartureTime.Seconds())
		switch {
		case arrival == 0 && departure == 0 && i > 0:
			// Untimed intermediate stop.
			continue
		case arrival == 0:
			arrival = departure
		case departure == 0:
			departure = arrival
		}
		scheduled = append(scheduled, blocks.ScheduledStop{
			Stop:              stop,
			ArrivalTime:       arrival,
			DepartureTime:     departure,
			ShapeDistTraveled: st.ShapeDistanceTraveled,
		})
	}
	if len(scheduled) == 0 {
		return blocks.TripSchedule{}, false
	}
	return blocks.TripSchedule{Trip: entry, Stops: scheduled}, true
}

// agencyLocation returns the time zone of the first agency, falling back to
// UTC.
func agencyLocation(static *gtfs.Static, logger *slog.Logger) *time.Location {
	if len(static.Agencies) == 0 || static.Agencies[0].Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(static.Agencies[0].Timezone)
	if err != nil {
		if logger != nil {
			logger.Warn("unknown agency time zone, using UTC",
				slog.String("timezone", static.Agencies[0].Timezone))
		}
		return time.UTC
	}
	return loc
}
