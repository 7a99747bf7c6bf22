// Package config loads fleet control plane configuration from environment
// variables with sensible defaults, the way the AgentOven control plane's
// config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the fleet control plane.
type Config struct {
	Port      int
	Version   string
	StaticDir string // optional prebuilt dashboard dir served for unmatched GETs
	Store     StoreConfig
	Fleet     FleetConfig
	Telemetry TelemetryConfig
}

// StoreConfig controls where per-OwnerKey SQLite databases live.
type StoreConfig struct {
	DataDir string // directory holding one <tenant>__<path-hash>.db file per agent
}

// FleetConfig holds the knobs named in spec.md §6.
type FleetConfig struct {
	// MsgMemRing bounds the in-memory message ring per agent.
	MsgMemRing int
	// MsgRetention is the server-side message purge age.
	MsgRetention time.Duration
	// PingInterval / IdleMax bound subscription liveness.
	PingInterval time.Duration
	IdleMax      time.Duration
	// CacheTTLState / CacheTTLInventory are loaded from the environment or
	// the file overlay; no read-side cache in this code base consults them.
	CacheTTLState     time.Duration
	CacheTTLInventory time.Duration
	// ApprovalAmountThreshold / ApprovalWait gate the reorder auto-approval hook.
	ApprovalAmountThreshold int
	ApprovalWait            time.Duration
	// DefaultAgentType is assigned to agents created without an explicit type.
	DefaultAgentType string
	// DefaultTenant is loaded from FLEET_DEFAULT_TENANT or the file overlay.
	// Request tenant derivation does not read it: it falls back to the
	// fixed fleetpath.DefaultTenant ("demo").
	DefaultTenant string
}

// TelemetryConfig controls OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:      envInt("FLEET_PORT", 8080),
		Version:   envStr("FLEET_VERSION", "0.1.0"),
		StaticDir: envStr("FLEET_STATIC_DIR", ""),
		Store: StoreConfig{
			DataDir: envStr("FLEET_DB_DIR", "./data"),
		},
		Fleet: FleetConfig{
			MsgMemRing:              envInt("FLEET_MSG_MEM_RING", 100),
			MsgRetention:            envDuration("FLEET_MSG_RETENTION", 30*24*time.Hour),
			PingInterval:            envDuration("FLEET_PING_INTERVAL", 10*time.Second),
			IdleMax:                 envDuration("FLEET_IDLE_MAX", 120*time.Second),
			CacheTTLState:           envDuration("FLEET_CACHE_TTL_STATE", 30*time.Second),
			CacheTTLInventory:       envDuration("FLEET_CACHE_TTL_INVENTORY", 60*time.Second),
			ApprovalAmountThreshold: envInt("FLEET_APPROVAL_AMOUNT_THRESHOLD", 1000),
			ApprovalWait:            envDuration("FLEET_APPROVAL_WAIT", 2*time.Second),
			DefaultAgentType:        envStr("FLEET_DEFAULT_AGENT_TYPE", "orchestrator"),
			DefaultTenant:           envStr("FLEET_DEFAULT_TENANT", "demo"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "fleet-control-plane"),
		},
	}
}

// fileConfig is the YAML shape LoadFile reads, overlaying only the fields
// present in the file onto the env-derived defaults from Load.
type fileConfig struct {
	Port      *int    `yaml:"port"`
	Version   *string `yaml:"version"`
	StaticDir *string `yaml:"staticDir"`
	Store     struct {
		DataDir *string `yaml:"dataDir"`
	} `yaml:"store"`
	Fleet struct {
		MsgMemRing              *int    `yaml:"msgMemRing"`
		MsgRetention            *string `yaml:"msgRetention"`
		PingInterval            *string `yaml:"pingInterval"`
		IdleMax                 *string `yaml:"idleMax"`
		CacheTTLState           *string `yaml:"cacheTtlState"`
		CacheTTLInventory       *string `yaml:"cacheTtlInventory"`
		ApprovalAmountThreshold *int    `yaml:"approvalAmountThreshold"`
		ApprovalWait            *string `yaml:"approvalWait"`
		DefaultAgentType        *string `yaml:"defaultAgentType"`
		DefaultTenant           *string `yaml:"defaultTenant"`
	} `yaml:"fleet"`
	Telemetry struct {
		Enabled      *bool   `yaml:"enabled"`
		OTLPEndpoint *string `yaml:"otlpEndpoint"`
		ServiceName  *string `yaml:"serviceName"`
	} `yaml:"telemetry"`
}

// LoadFile reads a YAML config file and overlays it onto the env-derived
// defaults Load() would produce, so a deployment can pin its fleet knobs in
// a checked-in file instead of (or alongside) environment variables.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := Load()
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Version != nil {
		cfg.Version = *fc.Version
	}
	if fc.StaticDir != nil {
		cfg.StaticDir = *fc.StaticDir
	}
	if fc.Store.DataDir != nil {
		cfg.Store.DataDir = *fc.Store.DataDir
	}
	if fc.Fleet.MsgMemRing != nil {
		cfg.Fleet.MsgMemRing = *fc.Fleet.MsgMemRing
	}
	if d, err := parseDurationField(fc.Fleet.MsgRetention); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.MsgRetention = *d
	}
	if d, err := parseDurationField(fc.Fleet.PingInterval); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.PingInterval = *d
	}
	if d, err := parseDurationField(fc.Fleet.IdleMax); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.IdleMax = *d
	}
	if d, err := parseDurationField(fc.Fleet.CacheTTLState); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.CacheTTLState = *d
	}
	if d, err := parseDurationField(fc.Fleet.CacheTTLInventory); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.CacheTTLInventory = *d
	}
	if fc.Fleet.ApprovalAmountThreshold != nil {
		cfg.Fleet.ApprovalAmountThreshold = *fc.Fleet.ApprovalAmountThreshold
	}
	if d, err := parseDurationField(fc.Fleet.ApprovalWait); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Fleet.ApprovalWait = *d
	}
	if fc.Fleet.DefaultAgentType != nil {
		cfg.Fleet.DefaultAgentType = *fc.Fleet.DefaultAgentType
	}
	if fc.Fleet.DefaultTenant != nil {
		cfg.Fleet.DefaultTenant = *fc.Fleet.DefaultTenant
	}
	if fc.Telemetry.Enabled != nil {
		cfg.Telemetry.Enabled = *fc.Telemetry.Enabled
	}
	if fc.Telemetry.OTLPEndpoint != nil {
		cfg.Telemetry.OTLPEndpoint = *fc.Telemetry.OTLPEndpoint
	}
	if fc.Telemetry.ServiceName != nil {
		cfg.Telemetry.ServiceName = *fc.Telemetry.ServiceName
	}
	return cfg, nil
}

func parseDurationField(s *string) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", *s, err)
	}
	return &d, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
