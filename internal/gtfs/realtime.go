package gtfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"tracker.onebusaway.org/internal/logging"
)

// realtimeHTTPClient is a dedicated HTTP client for GTFS-RT feed fetching,
// with explicit timeouts instead of http.DefaultClient's none.
var realtimeHTTPClient = newRealtimeHTTPClient()

func newRealtimeHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	// Compression is negotiated explicitly so gzip bodies are decoded below.
	transport.DisableCompression = true

	return &http.Client{
		// Keep this <= the per-poll context timeout.
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

const maxRealtimeBodySize = 25 * 1024 * 1024

func loadRealtimeData(ctx context.Context, source string, headers map[string]string) (*gtfs.Realtime, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept-Encoding", "gzip")
	for key, value := range headers {
		req.Header.Add(key, value)
	}

	resp, err := realtimeHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GTFS-RT request: %w", err)
	}

	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_realtime_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtfs-rt fetch failed: %s returned %s", source, resp.Status)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer logging.SafeCloseWithLogging(gz,
			slog.Default().With(slog.String("component", "gtfs_realtime_downloader")),
			"gzip_reader")
		body = gz
	}

	data, err := io.ReadAll(io.LimitReader(body, maxRealtimeBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > maxRealtimeBodySize {
		return nil, fmt.Errorf("GTFS-RT response exceeds size limit of %d bytes", maxRealtimeBodySize)
	}

	return gtfs.ParseRealtime(data, &gtfs.ParseRealtimeOptions{})
}

// GetRealTimeVehicles returns the vehicles of every feed from their last
// successful fetch.
func (manager *Manager) GetRealTimeVehicles() []gtfs.Vehicle {
	manager.realTimeMutex.RLock()
	defer manager.realTimeMutex.RUnlock()
	var vehicles []gtfs.Vehicle
	for _, v := range manager.feedVehicles {
		vehicles = append(vehicles, v...)
	}
	return vehicles
}

// GetRealTimeTrips returns the trip updates of every feed from their last
// successful fetch.
func (manager *Manager) GetRealTimeTrips() []gtfs.Trip {
	manager.realTimeMutex.RLock()
	defer manager.realTimeMutex.RUnlock()
	var trips []gtfs.Trip
	for _, t := range manager.feedTrips {
		trips = append(trips, t...)
	}
	return trips
}

// updateFeedRealtime fetches one feed's trip updates and vehicle positions in
// parallel, stores what succeeded and hands the converted records to sink.
func (manager *Manager) updateFeedRealtime(ctx context.Context, feed RTFeedConfig, sink RecordSink) {
	logger := logging.FromContext(ctx).With(
		slog.String("component", "gtfs_realtime"),
		slog.String("feed", feed.ID),
		slog.String("poll_id", uuid.NewString()))

	var wg sync.WaitGroup
	var tripData, vehicleData *gtfs.Realtime
	var tripErr, vehicleErr error

	if feed.TripUpdatesURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tripData, tripErr = loadRealtimeData(ctx, feed.TripUpdatesURL, feed.Headers)
		}()
	}

	if feed.VehiclePositionsURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vehicleData, vehicleErr = loadRealtimeData(ctx, feed.VehiclePositionsURL, feed.Headers)
		}()
	}

	wg.Wait()

	if tripErr != nil {
		manager.metrics.ObserveFeedError(feed.ID)
		logging.LogError(logger, "Error loading GTFS-RT trip updates data", tripErr,
			slog.String("url", feed.TripUpdatesURL))
	}
	if vehicleErr != nil {
		manager.metrics.ObserveFeedError(feed.ID)
		logging.LogError(logger, "Error loading GTFS-RT vehicle positions data", vehicleErr,
			slog.String("url", feed.VehiclePositionsURL))
	}

	if ctx.Err() != nil {
		return
	}

	var trips []gtfs.Trip
	var vehicles []gtfs.Vehicle
	createdAt := time.Time{}

	manager.realTimeMutex.Lock()
	if tripData != nil {
		manager.feedTrips[feed.ID] = tripData.Trips
		trips = tripData.Trips
		createdAt = tripData.CreatedAt
	}
	if vehicleData != nil {
		manager.feedVehicles[feed.ID] = withVehicleID(vehicleData.Vehicles)
		vehicles = manager.feedVehicles[feed.ID]
		if vehicleData.CreatedAt.After(createdAt) {
			createdAt = vehicleData.CreatedAt
		}
	}
	if tripData != nil || vehicleData != nil {
		manager.feedUpdatedAt[feed.ID] = manager.clock.Now()
	}
	manager.realTimeMutex.Unlock()

	if sink == nil || (trips == nil && vehicles == nil) {
		return
	}

	records := manager.recordsFromFeed(ctx, trips, vehicles, createdAt)
	sink.HandleVehicleLocationRecords(records)
	manager.metrics.ObserveIngested("gtfs-rt", len(records))

	if manager.config.Verbose {
		logging.LogOperation(logger, "gtfs_realtime_records_ingested",
			slog.Int("trips", len(trips)),
			slog.Int("vehicles", len(vehicles)),
			slog.Int("records", len(records)))
	}
}

func withVehicleID(vehicles []gtfs.Vehicle) []gtfs.Vehicle {
	valid := make([]gtfs.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v.ID != nil && v.ID.ID != "" {
			valid = append(valid, v)
		}
	}
	return valid
}

func (manager *Manager) updateGTFSRealtimePeriodically(feed RTFeedConfig, sink RecordSink) {
	defer manager.wg.Done()

	logger := manager.logger.With(
		slog.String("component", "gtfs_realtime_updater"),
		slog.String("feed", feed.ID))

	interval := feed.refreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ctx = logging.WithLogger(ctx, logger)
			manager.updateFeedRealtime(ctx, feed, sink)
			cancel()
		case <-manager.shutdownChan:
			logging.LogOperation(logger, "shutting_down_realtime_updates")
			return
		}
	}
}
