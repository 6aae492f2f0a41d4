// Package appconf holds process configuration and loads it from JSON or YAML
// files.
package appconf

import (
	"fmt"
	"strings"
	"time"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the -env flag value onto an Environment.
func EnvFlagToEnvironment(env string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	default:
		return Development, fmt.Errorf("unknown environment %q", env)
	}
}

const (
	DefaultPort              = 4000
	DefaultRecordRetention   = 30 * time.Minute
	DefaultEvictionInterval  = time.Minute
	DefaultNATSSubject       = "vehicles.reports"
	DefaultAssignmentsDBPath = "assignments.db"
)

// Config is the runtime configuration of the tracker process.
type Config struct {
	Port    int
	Env     Environment
	Verbose bool

	// RecordRetention is how long location records stay in the cache.
	RecordRetention time.Duration
	// EvictionInterval is how often stale records are swept.
	EvictionInterval time.Duration
	// PredictionHorizon limits how far ahead deviation is propagated. Zero
	// means no limit.
	PredictionHorizon time.Duration

	AssignmentsDBPath string

	// NATSURL enables the vehicle report subscriber when set.
	NATSURL     string
	NATSSubject string
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.RecordRetention <= 0 {
		c.RecordRetention = DefaultRecordRetention
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = DefaultEvictionInterval
	}
	if c.AssignmentsDBPath == "" {
		c.AssignmentsDBPath = DefaultAssignmentsDBPath
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		c.NATSSubject = DefaultNATSSubject
	}
	return c
}
