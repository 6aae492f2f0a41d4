package gtfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tracker.onebusaway.org/internal/logging"
)

const maxStaticSize = 200 * 1024 * 1024

func rawGtfsData(ctx context.Context, source string, isLocalFile bool, config Config) ([]byte, error) {
	if isLocalFile {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("error reading local GTFS file: %w", err)
		}
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GTFS request: %w", err)
	}

	// Add auth header if provided
	if config.StaticAuthHeaderKey != "" && config.StaticAuthHeaderValue != "" {
		req.Header.Set(config.StaticAuthHeaderKey, config.StaticAuthHeaderValue)
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading GTFS data: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download GTFS data: received HTTP status %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticSize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}
	if int64(len(b)) > maxStaticSize {
		return nil, fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticSize)
	}
	return b, nil
}

// loadGTFSData loads and parses GTFS data from either a URL or a local file
func loadGTFSData(ctx context.Context, source string, isLocalFile bool, config Config) (*gtfs.Static, error) {
	b, err := rawGtfsData(ctx, source, isLocalFile, config)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}

	return staticData, nil
}

// updateStaticGTFS reloads a remote static feed on the configured interval.
func (manager *Manager) updateStaticGTFS() {
	defer manager.wg.Done()

	logger := manager.logger.With(slog.String("component", "gtfs_static_updater"))

	// If it's a local file, don't update periodically
	if manager.isLocalFile {
		logging.LogOperation(logger, "gtfs_source_is_local_file_skipping_periodic_updates",
			slog.String("source", manager.config.GtfsURL))
		return
	}

	ticker := time.NewTicker(manager.config.staticRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := manager.ForceUpdate(ctx)
			cancel()

			if err != nil {
				logging.LogError(logger, "Error updating GTFS data", err,
					slog.String("source", manager.config.GtfsURL))
			}

		case <-manager.shutdownChan:
			logging.LogOperation(logger, "shutting_down_static_gtfs_updates")
			return
		}
	}
}

// ForceUpdate reloads the static feed and hot-swaps the block graph. Readers
// keep the previous graph until the new one is fully built; on failure the
// previous graph stays in service.
func (manager *Manager) ForceUpdate(ctx context.Context) error {
	manager.staticUpdateMutex.Lock()
	defer manager.staticUpdateMutex.Unlock()

	logger := manager.logger.With(slog.String("component", "gtfs_updater"))

	newStaticData, err := loadGTFSData(ctx, manager.config.GtfsURL, manager.isLocalFile, manager.config)
	if err != nil {
		logging.LogError(logger, "Error updating GTFS data", err,
			slog.String("source", manager.config.GtfsURL))
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	built, err := buildGraph(newStaticData, manager.interner, logger)
	if err != nil {
		logging.LogError(logger, "Error building block graph", err)
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	manager.setStaticGraph(built)

	logging.LogOperation(logger, "gtfs_static_data_updated_hot_swap",
		slog.String("source", manager.config.GtfsURL),
		slog.Int("blocks", len(built.graph.BlockIDs())),
		slog.Int("stops", len(built.stops)))

	return nil
}

func (manager *Manager) setStaticGraph(built *staticGraph) {
	manager.staticMutex.Lock()
	defer manager.staticMutex.Unlock()

	manager.static = built
	manager.lastUpdated = manager.clock.Now()
	manager.isHealthy = true
}
