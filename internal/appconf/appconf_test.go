package appconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEnvFlagToEnvironment(t *testing.T) {
	tests := []struct {
		input   string
		want    Environment
		wantErr bool
	}{
		{"", Development, false},
		{"development", Development, false},
		{"dev", Development, false},
		{"TEST", Test, false},
		{" production ", Production, false},
		{"prod", Production, false},
		{"staging", Development, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := EnvFlagToEnvironment(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvironmentString(t *testing.T) {
	assert.Equal(t, "development", Development.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, "production", Production.String())
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, DefaultRecordRetention, c.RecordRetention)
	assert.Equal(t, DefaultEvictionInterval, c.EvictionInterval)
	assert.Equal(t, DefaultAssignmentsDBPath, c.AssignmentsDBPath)
	assert.Equal(t, "", c.NATSSubject, "no subject without a NATS url")

	c = Config{NATSURL: "nats://localhost:4222", RecordRetention: time.Hour}.WithDefaults()
	assert.Equal(t, DefaultNATSSubject, c.NATSSubject)
	assert.Equal(t, time.Hour, c.RecordRetention)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "port": 8080,
  "env": "production",
  "verbose": true,
  "record-retention": 600,
  "eviction-interval": 30,
  "prediction-horizon": 3600,
  "assignments-db": "/data/assignments.db",
  "nats-url": "nats://localhost:4222",
  "gtfs-url": "https://example.com/gtfs.zip",
  "gtfs-static-refresh": 60,
  "gtfs-rt-feeds": [
    {
      "id": "kcm",
      "trip-updates-url": "https://api.example.com/trip-updates.pb",
      "vehicle-positions-url": "https://api.example.com/vehicle-positions.pb",
      "headers": {"Authorization": "Bearer token123"},
      "refresh-interval": 15
    },
    {
      "id": "st",
      "vehicle-positions-url": "https://api.example.com/st.pb",
      "enabled": false
    }
  ]
}`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	app := config.ToAppConfig()
	assert.Equal(t, 8080, app.Port)
	assert.Equal(t, Production, app.Env)
	assert.True(t, app.Verbose)
	assert.Equal(t, 10*time.Minute, app.RecordRetention)
	assert.Equal(t, 30*time.Second, app.EvictionInterval)
	assert.Equal(t, time.Hour, app.PredictionHorizon)
	assert.Equal(t, "/data/assignments.db", app.AssignmentsDBPath)
	assert.Equal(t, DefaultNATSSubject, app.NATSSubject)

	gtfsData := config.ToGtfsConfigData()
	assert.Equal(t, "https://example.com/gtfs.zip", gtfsData.GtfsURL)
	assert.Equal(t, time.Hour, gtfsData.StaticRefreshInterval)
	assert.Equal(t, Production, gtfsData.Env)
	require.Len(t, gtfsData.RTFeeds, 2)
	assert.Equal(t, "Bearer token123", gtfsData.RTFeeds[0].Headers["Authorization"])
	assert.Equal(t, 15, gtfsData.RTFeeds[0].RefreshInterval)
	assert.True(t, gtfsData.RTFeeds[0].IsEnabled())
	assert.False(t, gtfsData.RTFeeds[1].IsEnabled())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
port: 5000
env: test
gtfs-url: /data/gtfs.zip
gtfs-rt-feeds:
  - id: metro
    vehicle-positions-url: https://example.com/vp.pb
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	app := config.ToAppConfig()
	assert.Equal(t, 5000, app.Port)
	assert.Equal(t, Test, app.Env)
	assert.Equal(t, DefaultRecordRetention, app.RecordRetention)

	gtfsData := config.ToGtfsConfigData()
	assert.Equal(t, "/data/gtfs.zip", gtfsData.GtfsURL)
	require.Len(t, gtfsData.RTFeeds, 1)
	assert.Equal(t, "metro", gtfsData.RTFeeds[0].ID)
}

func TestLoadFromFile_DefaultPort(t *testing.T) {
	path := writeConfig(t, "config.json", `{"gtfs-url": "/data/gtfs.zip"}`)
	config, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, config.ToAppConfig().Port)
	assert.Equal(t, Development, config.ToAppConfig().Env)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"malformed JSON", "bad.json", `{"port": `, "failed to parse JSON config"},
		{"malformed YAML", "bad.yml", "port: [1, 2", "failed to parse YAML config"},
		{"missing gtfs url", "c.json", `{"port": 4000}`, "invalid configuration"},
		{"port out of range", "c.json", `{"port": 70000, "gtfs-url": "x.zip"}`, "invalid configuration"},
		{"unknown env", "c.json", `{"env": "staging", "gtfs-url": "x.zip"}`, "invalid configuration"},
		{"bad nats url", "c.json", `{"nats-url": "not a url", "gtfs-url": "x.zip"}`, "invalid configuration"},
		{"feed without id", "c.json", `{"gtfs-url": "x.zip", "gtfs-rt-feeds": [{"vehicle-positions-url": "https://e.com/vp"}]}`, "invalid configuration"},
		{"feed without urls", "c.json", `{"gtfs-url": "x.zip", "gtfs-rt-feeds": [{"id": "a"}]}`, "has no URLs"},
		{"duplicate feed ids", "c.json", `{"gtfs-url": "x.zip", "gtfs-rt-feeds": [
			{"id": "a", "vehicle-positions-url": "https://e.com/1"},
			{"id": "a", "vehicle-positions-url": "https://e.com/2"}]}`, "invalid configuration"},
		{"auth key without value", "c.json", `{"gtfs-url": "x.zip", "gtfs-static-auth-header-name": "X-Key"}`, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadFromFile(writeConfig(t, tt.file, tt.content))
			assert.Nil(t, config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("nonexistent file", func(t *testing.T) {
		config, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.Nil(t, config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to stat config file")
	})
}
