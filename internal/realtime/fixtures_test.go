package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracker.onebusaway.org/internal/blocks"
)

var serviceDate = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

func hms(h, m, s int) int {
	return h*3600 + m*60 + s
}

func at(h, m, s int) time.Time {
	return serviceDate.Add(time.Duration(hms(h, m, s)) * time.Second)
}

func dist(v float64) *float64 { return &v }

var blockInstance = blocks.BlockInstance{BlockID: "block-1", ServiceDate: serviceDate}

// newTestGraph builds one block with a single trip:
//
//	A 09:10 / 09:11   0m
//	B 09:20 / 09:22   1000m
//	C 09:30 / 09:30   2000m
//	D 09:40 / 09:45   3000m
func newTestGraph(t *testing.T) *blocks.StaticGraph {
	t.Helper()

	stops := []*blocks.StopEntry{
		{ID: "A", Lat: 47.6000, Lon: -122.3300},
		{ID: "B", Lat: 47.6090, Lon: -122.3300},
		{ID: "C", Lat: 47.6180, Lon: -122.3300},
		{ID: "D", Lat: 47.6270, Lon: -122.3300},
	}
	graph, err := blocks.NewStaticGraph(
		blocks.CalendarFunc(func(string, time.Time) bool { return true }),
		[]blocks.TripSchedule{{
			Trip: &blocks.TripEntry{ID: "trip-1", BlockID: "block-1", RouteID: "route-1", ServiceID: "WEEKDAY"},
			Stops: []blocks.ScheduledStop{
				{Stop: stops[0], ArrivalTime: hms(9, 10, 0), DepartureTime: hms(9, 11, 0), ShapeDistTraveled: dist(0)},
				{Stop: stops[1], ArrivalTime: hms(9, 20, 0), DepartureTime: hms(9, 22, 0), ShapeDistTraveled: dist(1000)},
				{Stop: stops[2], ArrivalTime: hms(9, 30, 0), DepartureTime: hms(9, 30, 0), ShapeDistTraveled: dist(2000)},
				{Stop: stops[3], ArrivalTime: hms(9, 40, 0), DepartureTime: hms(9, 45, 0), ShapeDistTraveled: dist(3000)},
			},
		}},
	)
	require.NoError(t, err)
	return graph
}

func record(vehicleID string, timeOfRecord time.Time, deviation float64) VehicleLocationRecord {
	return VehicleLocationRecord{
		VehicleID:         vehicleID,
		TripID:            "trip-1",
		BlockID:           "block-1",
		ServiceDate:       serviceDate,
		TimeOfRecord:      timeOfRecord,
		ScheduleDeviation: deviation,
	}
}
