package gtfs

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/realtime"
)

// Block B1 runs T1 (A, B, C) then T2 (C, D) on weekdays. Block B2 runs T3
// on weekends. Stops sit about 760 m apart on one parallel.
var testFeedFiles = map[string][]string{
	"agency.txt": {
		"agency_id,agency_name,agency_url,agency_timezone",
		"1,Test Transit,http://example.com,America/Los_Angeles",
	},
	"stops.txt": {
		"stop_id,stop_name,stop_lat,stop_lon",
		"A,Stop A,47.0,-122.00",
		"B,Stop B,47.0,-121.99",
		"C,Stop C,47.0,-121.98",
		"D,Stop D,47.0,-121.97",
	},
	"routes.txt": {
		"route_id,agency_id,route_short_name,route_long_name,route_type",
		"R1,1,1,Main Street,3",
	},
	"calendar.txt": {
		"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
		"WK,1,1,1,1,1,0,0,20250101,20251231",
		"WE,0,0,0,0,0,1,1,20250101,20251231",
	},
	"trips.txt": {
		"route_id,service_id,trip_id,block_id",
		"R1,WK,T1,B1",
		"R1,WK,T2,B1",
		"R1,WE,T3,B2",
	},
	"stop_times.txt": {
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"T1,09:00:00,09:00:00,A,1",
		"T1,09:05:00,09:06:00,B,2",
		"T1,09:10:00,09:10:00,C,3",
		"T2,09:20:00,09:20:00,C,1",
		"T2,09:30:00,09:30:00,D,2",
		"T3,10:00:00,10:00:00,A,1",
		"T3,10:10:00,10:10:00,D,2",
	},
}

func writeTestFeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, lines := range testFeedFiles {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(strings.Join(lines, "\n") + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

var losAngeles = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// monday is the service date of the weekday fixtures.
var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, losAngeles)

func at(h, m, s int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func newTestManager(t *testing.T, deps Dependencies) *Manager {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = clock.NewMockClock(at(9, 0, 0))
	}
	manager, err := InitGTFSManager(context.Background(), Config{
		GtfsURL: writeTestFeed(t),
		Env:     appconf.Test,
	}, deps)
	require.NoError(t, err)
	t.Cleanup(manager.Shutdown)
	return manager
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]realtime.VehicleLocationRecord
}

func (s *recordingSink) HandleVehicleLocationRecords(records []realtime.VehicleLocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) byVehicle() map[string]realtime.VehicleLocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]realtime.VehicleLocationRecord)
	for _, batch := range s.batches {
		for _, r := range batch {
			out[r.VehicleID] = r
		}
	}
	return out
}

type staticAssigner map[string]string

func (a staticAssigner) BlockForVehicle(_ context.Context, vehicleID string, _ time.Time) (string, error) {
	return a[vehicleID], nil
}

type tripUpdate struct {
	tripID    string
	vehicleID string
	startDate string
	stopDelay *int32
}

type vehiclePositionFixture struct {
	vehicleID string
	tripID    string
	lat, lon  float32
	timestamp time.Time
}

func feedHeader(created time.Time) *gtfsrt.FeedHeader {
	return &gtfsrt.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
		Timestamp:           proto.Uint64(uint64(created.Unix())),
	}
}

func buildTripUpdatesFeed(t *testing.T, created time.Time, updates ...tripUpdate) []byte {
	t.Helper()
	entities := make([]*gtfsrt.FeedEntity, 0, len(updates))
	for _, u := range updates {
		tu := &gtfsrt.TripUpdate{
			Trip:    &gtfsrt.TripDescriptor{TripId: proto.String(u.tripID)},
			Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String(u.vehicleID)},
		}
		if u.startDate != "" {
			tu.Trip.StartDate = proto.String(u.startDate)
		}
		if u.stopDelay != nil {
			tu.StopTimeUpdate = []*gtfsrt.TripUpdate_StopTimeUpdate{{
				StopId:  proto.String("B"),
				Arrival: &gtfsrt.TripUpdate_StopTimeEvent{Delay: u.stopDelay},
			}}
		}
		entities = append(entities, &gtfsrt.FeedEntity{Id: proto.String("tu-" + u.tripID), TripUpdate: tu})
	}
	data, err := proto.Marshal(&gtfsrt.FeedMessage{Header: feedHeader(created), Entity: entities})
	require.NoError(t, err)
	return data
}

func buildVehiclePositionsFeed(t *testing.T, created time.Time, positions ...vehiclePositionFixture) []byte {
	t.Helper()
	entities := make([]*gtfsrt.FeedEntity, 0, len(positions))
	for _, p := range positions {
		vp := &gtfsrt.VehiclePosition{
			Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String(p.vehicleID)},
			Position: &gtfsrt.Position{Latitude: proto.Float32(p.lat), Longitude: proto.Float32(p.lon)},
		}
		if p.tripID != "" {
			vp.Trip = &gtfsrt.TripDescriptor{TripId: proto.String(p.tripID)}
		}
		if !p.timestamp.IsZero() {
			vp.Timestamp = proto.Uint64(uint64(p.timestamp.Unix()))
		}
		entities = append(entities, &gtfsrt.FeedEntity{Id: proto.String("vp-" + p.vehicleID), Vehicle: vp})
	}
	data, err := proto.Marshal(&gtfsrt.FeedMessage{Header: feedHeader(created), Entity: entities})
	require.NoError(t, err)
	return data
}
