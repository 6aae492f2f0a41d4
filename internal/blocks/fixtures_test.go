package blocks

import "time"

func hms(h, m, s int) int {
	return h*3600 + m*60 + s
}

var serviceDate = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

// fourStops is a single trip visiting A through D, 1km apart.
func fourStops() []*StopTimeEntry {
	stops := []*StopEntry{
		{ID: "A", Lat: 47.6000, Lon: -122.3300},
		{ID: "B", Lat: 47.6090, Lon: -122.3300},
		{ID: "C", Lat: 47.6180, Lon: -122.3300},
		{ID: "D", Lat: 47.6270, Lon: -122.3300},
	}
	trip := &BlockTripEntry{Trip: &TripEntry{ID: "trip-1", BlockID: "block-1"}}
	times := [][2]int{
		{hms(9, 10, 0), hms(9, 11, 0)},
		{hms(9, 20, 0), hms(9, 22, 0)},
		{hms(9, 30, 0), hms(9, 30, 0)},
		{hms(9, 40, 0), hms(9, 45, 0)},
	}
	stopTimes := make([]*StopTimeEntry, len(stops))
	for i, s := range stops {
		stopTimes[i] = &StopTimeEntry{
			Stop:               s,
			ArrivalTime:        times[i][0],
			DepartureTime:      times[i][1],
			DistanceAlongBlock: float64(i) * 1000,
			BlockSequence:      i,
			Trip:               trip,
		}
	}
	trip.StopTimes = stopTimes
	return stopTimes
}

func scheduled(stop *StopEntry, arrival, departure int) ScheduledStop {
	return ScheduledStop{Stop: stop, ArrivalTime: arrival, DepartureTime: departure}
}

func alwaysActive() ServiceCalendar {
	return CalendarFunc(func(string, time.Time) bool { return true })
}
