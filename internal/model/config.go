// Package model defines shared configuration structures used to initialize the AgroLink broker.
// It includes global timing options, vehicle definitions and spray mission tuning.
package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulatedEndpoint is the reserved endpoint value that selects the in-process
// flight-controller simulator instead of a physical serial port.
const SimulatedEndpoint = "simulated"

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	HTTPAddr string `yaml:"http_addr"` // shared listener for HTTP API and websocket
	LogDebug bool   `yaml:"log_debug"`

	HeartbeatIntervalMs  int    `yaml:"heartbeat_interval_ms"`   // outbound heartbeat period
	HeartbeatTimeoutMs   int    `yaml:"heartbeat_timeout_ms"`    // inbound silence before disconnect
	TelemetryPollMs      int    `yaml:"telemetry_poll_ms"`       // operator-facing fan-out period
	CommandAckTimeoutMs  int    `yaml:"command_ack_timeout_ms"`  // command-long ack deadline
	MissionItemTimeoutMs int    `yaml:"mission_item_timeout_ms"` // per mission item, 3 retries
	StatusRingSize       int    `yaml:"status_ring_size"`
	DetectionDedupSize   int    `yaml:"detection_dedup_size"`
	MissionsDir          string `yaml:"missions_dir"`
	JournalPath          string `yaml:"journal_path"`

	Vehicles []VehicleConfig `yaml:"vehicles"`
	Spray    SprayConfig     `yaml:"spray"`
}

// VehicleConfig defines one flight controller the broker should manage.
type VehicleConfig struct {
	ID       int    `yaml:"id"`
	Endpoint string `yaml:"endpoint"` // serial port path or "simulated"
	Baud     int    `yaml:"baud"`
}

// SprayConfig tunes the refill-aware spray mission controller.
type SprayConfig struct {
	TankCapacity              float64 `yaml:"tank_capacity"`
	VolumePerTarget           float64 `yaml:"spray_volume_per_target"`
	RefillThreshold           float64 `yaml:"refill_threshold"`
	SprayDurationSec          int     `yaml:"spray_duration_sec"`
	LoiterTimeSec             int     `yaml:"loiter_time_sec"`
	SprayAltitude             float64 `yaml:"spray_altitude"`
	AutoResumeAfterRefill     *bool   `yaml:"auto_resume_after_refill"`
	RequireManualConfirmation *bool   `yaml:"require_manual_confirmation"`
}

// LoadConfig reads and validates the YAML configuration file.
// A broken configuration is the only fatal startup condition.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	seen := map[int]bool{}
	for _, v := range cfg.Vehicles {
		if v.ID <= 0 {
			return nil, fmt.Errorf("config %s: vehicle id must be positive, got %d", path, v.ID)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("config %s: duplicate vehicle id %d", path, v.ID)
		}
		seen[v.ID] = true
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued options with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.HeartbeatIntervalMs <= 0 {
		c.HeartbeatIntervalMs = 1000
	}
	if c.HeartbeatTimeoutMs <= 0 {
		c.HeartbeatTimeoutMs = 3000
	}
	if c.TelemetryPollMs <= 0 {
		c.TelemetryPollMs = 250
	}
	if c.CommandAckTimeoutMs <= 0 {
		c.CommandAckTimeoutMs = 3000
	}
	if c.MissionItemTimeoutMs <= 0 {
		c.MissionItemTimeoutMs = 3000
	}
	if c.StatusRingSize <= 0 {
		c.StatusRingSize = 20
	}
	if c.DetectionDedupSize <= 0 {
		c.DetectionDedupSize = 1000
	}
	if c.MissionsDir == "" {
		c.MissionsDir = "missions"
	}
	if c.JournalPath == "" {
		c.JournalPath = "tmp/journal.db"
	}
	for i := range c.Vehicles {
		if c.Vehicles[i].Baud <= 0 {
			c.Vehicles[i].Baud = 57600
		}
	}
	c.Spray.applyDefaults()
}

func (s *SprayConfig) applyDefaults() {
	if s.TankCapacity <= 0 {
		s.TankCapacity = 1000
	}
	if s.VolumePerTarget <= 0 {
		s.VolumePerTarget = 50
	}
	if s.RefillThreshold <= 0 {
		s.RefillThreshold = 100
	}
	if s.SprayDurationSec <= 0 {
		s.SprayDurationSec = 3
	}
	if s.LoiterTimeSec <= 0 {
		s.LoiterTimeSec = 5
	}
	if s.SprayAltitude <= 0 {
		s.SprayAltitude = 5
	}
	if s.AutoResumeAfterRefill == nil {
		t := true
		s.AutoResumeAfterRefill = &t
	}
	if s.RequireManualConfirmation == nil {
		t := true
		s.RequireManualConfirmation = &t
	}
}

// HeartbeatInterval returns the outbound heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatTimeout returns the inbound silence window before disconnect.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// TelemetryPoll returns the operator-facing telemetry fan-out period.
func (c *Config) TelemetryPoll() time.Duration {
	return time.Duration(c.TelemetryPollMs) * time.Millisecond
}

// CommandAckTimeout returns the command acknowledgment deadline.
func (c *Config) CommandAckTimeout() time.Duration {
	return time.Duration(c.CommandAckTimeoutMs) * time.Millisecond
}

// MissionItemTimeout returns the per-item deadline of the upload handshake.
func (c *Config) MissionItemTimeout() time.Duration {
	return time.Duration(c.MissionItemTimeoutMs) * time.Millisecond
}
