package appconf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RTFeedFileConfig is one GTFS-RT feed as written in a config file.
type RTFeedFileConfig struct {
	ID                  string            `json:"id" yaml:"id" validate:"required"`
	TripUpdatesURL      string            `json:"trip-updates-url" yaml:"trip-updates-url" validate:"omitempty,url"`
	VehiclePositionsURL string            `json:"vehicle-positions-url" yaml:"vehicle-positions-url" validate:"omitempty,url"`
	Headers             map[string]string `json:"headers" yaml:"headers"`
	RefreshInterval     int               `json:"refresh-interval" yaml:"refresh-interval" validate:"gte=0"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled" yaml:"enabled"`
}

func (f RTFeedFileConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// FileConfig is the on-disk configuration format.
type FileConfig struct {
	Port    int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Env     string `json:"env" yaml:"env" validate:"omitempty,oneof=development test production"`
	Verbose bool   `json:"verbose" yaml:"verbose"`

	RecordRetentionSeconds   int `json:"record-retention" yaml:"record-retention" validate:"gte=0"`
	EvictionIntervalSeconds  int `json:"eviction-interval" yaml:"eviction-interval" validate:"gte=0"`
	PredictionHorizonSeconds int `json:"prediction-horizon" yaml:"prediction-horizon" validate:"gte=0"`

	AssignmentsDBPath string `json:"assignments-db" yaml:"assignments-db"`
	NATSURL           string `json:"nats-url" yaml:"nats-url" validate:"omitempty,url"`
	NATSSubject       string `json:"nats-subject" yaml:"nats-subject"`

	GtfsURL               string             `json:"gtfs-url" yaml:"gtfs-url" validate:"required"`
	StaticAuthHeaderKey   string             `json:"gtfs-static-auth-header-name" yaml:"gtfs-static-auth-header-name"`
	StaticAuthHeaderValue string             `json:"gtfs-static-auth-header-value" yaml:"gtfs-static-auth-header-value" validate:"required_with=StaticAuthHeaderKey"`
	StaticRefreshMinutes  int                `json:"gtfs-static-refresh" yaml:"gtfs-static-refresh" validate:"gte=0"`
	RTFeeds               []RTFeedFileConfig `json:"gtfs-rt-feeds" yaml:"gtfs-rt-feeds" validate:"unique=ID,dive"`
}

// GtfsConfigData carries the GTFS settings without importing the gtfs
// package.
type GtfsConfigData struct {
	GtfsURL               string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
	StaticRefreshInterval time.Duration
	RTFeeds               []RTFeedFileConfig
	Env                   Environment
	Verbose               bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFromFile reads a JSON or YAML config file, chosen by extension, and
// validates it.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, feed := range c.RTFeeds {
		if feed.TripUpdatesURL == "" && feed.VehiclePositionsURL == "" {
			return fmt.Errorf("invalid configuration: feed %q has no URLs", feed.ID)
		}
	}
	return nil
}

func (c *FileConfig) environment() Environment {
	env, err := EnvFlagToEnvironment(c.Env)
	if err != nil {
		return Development
	}
	return env
}

func (c *FileConfig) ToAppConfig() Config {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return Config{
		Port:              port,
		Env:               c.environment(),
		Verbose:           c.Verbose,
		RecordRetention:   time.Duration(c.RecordRetentionSeconds) * time.Second,
		EvictionInterval:  time.Duration(c.EvictionIntervalSeconds) * time.Second,
		PredictionHorizon: time.Duration(c.PredictionHorizonSeconds) * time.Second,
		AssignmentsDBPath: c.AssignmentsDBPath,
		NATSURL:           c.NATSURL,
		NATSSubject:       c.NATSSubject,
	}.WithDefaults()
}

func (c *FileConfig) ToGtfsConfigData() GtfsConfigData {
	return GtfsConfigData{
		GtfsURL:               c.GtfsURL,
		StaticAuthHeaderKey:   c.StaticAuthHeaderKey,
		StaticAuthHeaderValue: c.StaticAuthHeaderValue,
		StaticRefreshInterval: time.Duration(c.StaticRefreshMinutes) * time.Minute,
		RTFeeds:               c.RTFeeds,
		Env:                   c.environment(),
		Verbose:               c.Verbose,
	}
}
