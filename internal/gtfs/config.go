package gtfs

import (
	"time"

	"tracker.onebusaway.org/internal/appconf"
)

const defaultRefreshInterval = 30 * time.Second

// RTFeedConfig describes one GTFS-RT source.
type RTFeedConfig struct {
	ID                  string
	TripUpdatesURL      string
	VehiclePositionsURL string
	Headers             map[string]string
	RefreshInterval     int // seconds, default 30
	Enabled             bool
}

func (feed RTFeedConfig) refreshInterval() time.Duration {
	if feed.RefreshInterval <= 0 {
		return defaultRefreshInterval
	}
	return time.Duration(feed.RefreshInterval) * time.Second
}

// Config holds GTFS configuration for the manager.
type Config struct {
	GtfsURL               string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
	// StaticRefreshInterval is how often a remote static feed is reloaded.
	// Zero means daily.
	StaticRefreshInterval time.Duration
	RTFeeds               []RTFeedConfig
	Env                   appconf.Environment
	Verbose               bool
}

// enabledFeeds returns only the enabled feeds that have at least one URL configured.
func (config Config) enabledFeeds() []RTFeedConfig {
	var feeds []RTFeedConfig
	for _, feed := range config.RTFeeds {
		if feed.Enabled && (feed.TripUpdatesURL != "" || feed.VehiclePositionsURL != "") {
			feeds = append(feeds, feed)
		}
	}
	return feeds
}

func (config Config) staticRefreshInterval() time.Duration {
	if config.StaticRefreshInterval <= 0 {
		return 24 * time.Hour
	}
	return config.StaticRefreshInterval
}
