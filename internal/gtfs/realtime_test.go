package gtfs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/metrics"
	"tracker.onebusaway.org/internal/utils"
)

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoadRealtimeData_Non200StatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"InternalServerError", http.StatusInternalServerError},
		{"NotFound", http.StatusNotFound},
		{"Forbidden", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			result, err := loadRealtimeData(context.Background(), server.URL, nil)
			assert.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), fmt.Sprintf("%d", tt.statusCode))
		})
	}
}

func TestLoadRealtimeData_GzipAndHeaders(t *testing.T) {
	data := buildVehiclePositionsFeed(t, at(9, 8, 0),
		vehiclePositionFixture{vehicleID: "v1", tripID: "T1", lat: 47.0, lon: -121.99})

	var gotAuth, gotEncoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Api-Key")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(data)
		_ = gz.Close()
	}))
	defer server.Close()

	result, err := loadRealtimeData(context.Background(), server.URL, map[string]string{"X-Api-Key": "secret"})
	require.NoError(t, err)
	require.Len(t, result.Vehicles, 1)
	assert.Equal(t, "v1", result.Vehicles[0].ID.ID)
	assert.Equal(t, "secret", gotAuth)
	assert.Equal(t, "gzip", gotEncoding)
}

func TestLoadRealtimeData_BadGzipBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("plain bytes"))
	}))
	defer server.Close()

	_, err := loadRealtimeData(context.Background(), server.URL, nil)
	assert.Error(t, err)
}

func TestUpdateFeedRealtime_ConvertsRecords(t *testing.T) {
	mockClock := clock.NewMockClock(at(9, 8, 0))
	manager := newTestManager(t, Dependencies{
		Clock:       mockClock,
		Assignments: staticAssigner{"v3": "B1"},
	})

	trips := serveBytes(t, buildTripUpdatesFeed(t, at(9, 8, 0),
		tripUpdate{tripID: "T1", vehicleID: "v1", startDate: "20250602", stopDelay: proto.Int32(120)}))
	positions := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 8, 0),
		vehiclePositionFixture{vehicleID: "v1", tripID: "T1", lat: 47.0, lon: -121.99, timestamp: at(9, 7, 0)},
		vehiclePositionFixture{vehicleID: "v2", tripID: "T1", lat: 47.0, lon: -121.98, timestamp: at(9, 12, 0)},
		vehiclePositionFixture{vehicleID: "v3", lat: 47.0, lon: -122.0, timestamp: at(8, 59, 0)},
		vehiclePositionFixture{vehicleID: "v4", tripID: "ghost", lat: 47.0, lon: -122.0, timestamp: at(9, 0, 0)},
	))

	sink := &recordingSink{}
	feed := RTFeedConfig{ID: "feed-a", TripUpdatesURL: trips.URL, VehiclePositionsURL: positions.URL, Enabled: true}
	manager.updateFeedRealtime(context.Background(), feed, sink)

	require.Equal(t, 1, sink.batchCount())
	records := sink.byVehicle()
	require.Len(t, records, 3)
	assert.NotContains(t, records, "v4", "unscheduled trip without a delay")

	t.Run("reported delay", func(t *testing.T) {
		r := records["v1"]
		assert.Equal(t, "T1", r.TripID)
		assert.Equal(t, "B1", r.BlockID)
		assert.True(t, r.ServiceDate.Equal(monday))
		assert.True(t, r.TimeOfRecord.Equal(at(9, 7, 0)))
		assert.Equal(t, 120.0, r.ScheduleDeviation)
		require.NotNil(t, r.Location)
		assert.InDelta(t, -121.99, r.Location.Lon, 1e-4)
	})

	t.Run("inferred from position at a revisited stop", func(t *testing.T) {
		r := records["v2"]
		assert.Equal(t, "B1", r.BlockID)
		assert.True(t, r.ServiceDate.Equal(monday))
		// C is served at 09:10 by T1 and 09:20 by T2; 09:12 is nearer the first.
		assert.Equal(t, 120.0, r.ScheduleDeviation)
	})

	t.Run("block from assignment", func(t *testing.T) {
		r := records["v3"]
		assert.Equal(t, "", r.TripID)
		assert.Equal(t, "B1", r.BlockID)
		assert.Equal(t, -60.0, r.ScheduleDeviation)
	})

	assert.Len(t, manager.GetRealTimeVehicles(), 4)
	assert.Len(t, manager.GetRealTimeTrips(), 1)
	assert.Equal(t, at(9, 8, 0), manager.FeedUpdatedAt()["feed-a"])
}

func TestUpdateFeedRealtime_TripUpdateOnly(t *testing.T) {
	manager := newTestManager(t, Dependencies{Clock: clock.NewMockClock(at(9, 8, 0))})
	trips := serveBytes(t, buildTripUpdatesFeed(t, at(9, 8, 0),
		tripUpdate{tripID: "T2", vehicleID: "v9", stopDelay: proto.Int32(90)}))

	sink := &recordingSink{}
	manager.updateFeedRealtime(context.Background(), RTFeedConfig{ID: "tu", TripUpdatesURL: trips.URL, Enabled: true}, sink)

	r, ok := sink.byVehicle()["v9"]
	require.True(t, ok)
	assert.Equal(t, "T2", r.TripID)
	assert.Equal(t, "B1", r.BlockID)
	assert.Equal(t, 90.0, r.ScheduleDeviation)
	assert.Nil(t, r.Location)
	assert.True(t, r.TimeOfRecord.Equal(at(9, 8, 0)), "falls back to the feed timestamp")
	assert.True(t, r.ServiceDate.Equal(monday))
}

func TestUpdateFeedRealtime_TripNotInSchedule(t *testing.T) {
	manager := newTestManager(t, Dependencies{Clock: clock.NewMockClock(at(9, 8, 0))})
	trips := serveBytes(t, buildTripUpdatesFeed(t, at(9, 8, 0),
		tripUpdate{tripID: "future-trip", vehicleID: "v7", stopDelay: proto.Int32(75)},
		tripUpdate{tripID: "T1", vehicleID: "v8", stopDelay: proto.Int32(-15)}))
	positions := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 8, 0),
		vehiclePositionFixture{vehicleID: "v9", tripID: "another-future-trip", lat: 47.0, lon: -122.0, timestamp: at(9, 0, 0)}))

	sink := &recordingSink{}
	feed := RTFeedConfig{ID: "next-schedule", TripUpdatesURL: trips.URL, VehiclePositionsURL: positions.URL, Enabled: true}
	manager.updateFeedRealtime(context.Background(), feed, sink)

	records := sink.byVehicle()
	require.Len(t, records, 2)

	tests := []struct {
		vehicleID string
		tripID    string
		blockID   string
		deviation float64
	}{
		{vehicleID: "v7", tripID: "future-trip", blockID: "", deviation: 75},
		{vehicleID: "v8", tripID: "T1", blockID: "B1", deviation: -15},
	}
	for _, tt := range tests {
		t.Run(tt.vehicleID, func(t *testing.T) {
			r, ok := records[tt.vehicleID]
			require.True(t, ok)
			assert.Equal(t, tt.tripID, r.TripID)
			assert.Equal(t, tt.blockID, r.BlockID)
			assert.Equal(t, tt.deviation, r.ScheduleDeviation)
		})
	}
	assert.NotContains(t, records, "v9", "no delay and no block to infer one from")
}

func TestUpdateFeedRealtime_FetchErrors(t *testing.T) {
	m := metrics.New()
	manager := newTestManager(t, Dependencies{Metrics: m})
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	sink := &recordingSink{}
	feed := RTFeedConfig{ID: "broken", TripUpdatesURL: failing.URL, VehiclePositionsURL: failing.URL, Enabled: true}
	manager.updateFeedRealtime(context.Background(), feed, sink)

	assert.Equal(t, 0, sink.batchCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedFetchErrors.WithLabelValues("broken")))
	_, updated := manager.FeedUpdatedAt()["broken"]
	assert.False(t, updated)
}

func TestUpdateFeedRealtime_FeedIsolation(t *testing.T) {
	manager := newTestManager(t, Dependencies{})
	feedA := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 0, 0),
		vehiclePositionFixture{vehicleID: "a1", tripID: "T1", lat: 47.0, lon: -122.0}))
	feedB := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 0, 0),
		vehiclePositionFixture{vehicleID: "b1", tripID: "T1", lat: 47.0, lon: -122.0},
		vehiclePositionFixture{vehicleID: "b2", tripID: "T1", lat: 47.0, lon: -122.0}))
	empty := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 1, 0)))

	ctx := context.Background()
	manager.updateFeedRealtime(ctx, RTFeedConfig{ID: "a", VehiclePositionsURL: feedA.URL}, nil)
	manager.updateFeedRealtime(ctx, RTFeedConfig{ID: "b", VehiclePositionsURL: feedB.URL}, nil)
	assert.Len(t, manager.GetRealTimeVehicles(), 3)

	manager.updateFeedRealtime(ctx, RTFeedConfig{ID: "b", VehiclePositionsURL: empty.URL}, nil)
	vehicles := manager.GetRealTimeVehicles()
	require.Len(t, vehicles, 1)
	assert.Equal(t, "a1", vehicles[0].ID.ID)
}

func TestStartRealtime_Polls(t *testing.T) {
	manager := newTestManager(t, Dependencies{})
	positions := serveBytes(t, buildVehiclePositionsFeed(t, at(9, 0, 0),
		vehiclePositionFixture{vehicleID: "v1", tripID: "T1", lat: 47.0, lon: -122.0, timestamp: at(9, 0, 0)}))

	manager.config.RTFeeds = []RTFeedConfig{
		{ID: "fast", VehiclePositionsURL: positions.URL, RefreshInterval: 1, Enabled: true},
		{ID: "off", VehiclePositionsURL: positions.URL, RefreshInterval: 1, Enabled: false},
	}
	sink := &recordingSink{}
	manager.StartRealtime(sink)

	require.Eventually(t, func() bool { return sink.batchCount() > 0 }, 5*time.Second, 50*time.Millisecond)
	manager.Shutdown()

	_, polled := manager.FeedUpdatedAt()["off"]
	assert.False(t, polled)
}

func TestReportedDeviation(t *testing.T) {
	d := func(s int) *time.Duration {
		v := time.Duration(s) * time.Second
		return &v
	}
	tests := []struct {
		name   string
		trip   *gtfs.Trip
		want   float64
		wantOK bool
	}{
		{"nil trip", nil, 0, false},
		{"no delays", &gtfs.Trip{}, 0, false},
		{"first update wins", &gtfs.Trip{
			StopTimeUpdates: []gtfs.StopTimeUpdate{
				{Arrival: &gtfs.StopTimeEvent{Delay: d(30)}},
				{Arrival: &gtfs.StopTimeEvent{Delay: d(99)}},
			},
		}, 30, true},
		{"arrival before departure", &gtfs.Trip{
			StopTimeUpdates: []gtfs.StopTimeUpdate{{
				Arrival:   &gtfs.StopTimeEvent{Delay: d(20)},
				Departure: &gtfs.StopTimeEvent{Delay: d(40)},
			}},
		}, 20, true},
		{"first arrival delay", &gtfs.Trip{
			StopTimeUpdates: []gtfs.StopTimeUpdate{{Arrival: &gtfs.StopTimeEvent{Delay: d(-45)}}},
		}, -45, true},
		{"departure when arrival has none", &gtfs.Trip{
			StopTimeUpdates: []gtfs.StopTimeUpdate{
				{Arrival: &gtfs.StopTimeEvent{}},
				{Departure: &gtfs.StopTimeEvent{Delay: d(15)}},
			},
		}, 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reportedDeviation(tt.trip)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferDeviation(t *testing.T) {
	manager := newTestManager(t, Dependencies{})
	config, err := manager.BlockConfigurationForInstance(blocks.BlockInstance{BlockID: "B1", ServiceDate: monday})
	require.NoError(t, err)

	stopB := utils.CoordinatePoint{Lat: 47.0, Lon: -121.99}
	secs := func(h, m, s int) float64 { return float64(h*3600 + m*60 + s) }

	tests := []struct {
		name     string
		position utils.CoordinatePoint
		now      float64
		want     float64
		wantOK   bool
	}{
		{"early", stopB, secs(9, 4, 0), -60, true},
		{"dwelling", stopB, secs(9, 5, 30), 0, true},
		{"late", stopB, secs(9, 8, 0), 120, true},
		{"nowhere near a stop", utils.CoordinatePoint{Lat: 47.5, Lon: -121.99}, secs(9, 5, 0), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inferDeviation(config, tt.position, tt.now)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEnabledFeeds(t *testing.T) {
	tests := []struct {
		name    string
		feeds   []RTFeedConfig
		wantIDs []string
	}{
		{"empty config returns no feeds", nil, nil},
		{"disabled feed is excluded", []RTFeedConfig{
			{ID: "disabled", VehiclePositionsURL: "http://example.com/vp", Enabled: false},
		}, nil},
		{"enabled feed with no URLs is excluded", []RTFeedConfig{
			{ID: "no-urls", Enabled: true},
		}, nil},
		{"enabled feed with trip-updates URL is included", []RTFeedConfig{
			{ID: "trip-feed", TripUpdatesURL: "http://example.com/tu", Enabled: true},
		}, []string{"trip-feed"}},
		{"enabled feed with vehicle-positions URL is included", []RTFeedConfig{
			{ID: "vp-feed", VehiclePositionsURL: "http://example.com/vp", Enabled: true},
		}, []string{"vp-feed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, f := range (Config{RTFeeds: tt.feeds}).enabledFeeds() {
				got = append(got, f.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestRefreshIntervals(t *testing.T) {
	assert.Equal(t, 30*time.Second, RTFeedConfig{}.refreshInterval())
	assert.Equal(t, 5*time.Second, RTFeedConfig{RefreshInterval: 5}.refreshInterval())
	assert.Equal(t, 24*time.Hour, Config{}.staticRefreshInterval())
	assert.Equal(t, time.Hour, Config{StaticRefreshInterval: time.Hour}.staticRefreshInterval())
}
