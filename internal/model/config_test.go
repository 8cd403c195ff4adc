package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
vehicles:
  - id: 1
    endpoint: simulated
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr %q", cfg.HTTPAddr)
	}
	if cfg.HeartbeatInterval() != time.Second {
		t.Errorf("heartbeat interval %v", cfg.HeartbeatInterval())
	}
	if cfg.HeartbeatTimeout() != 3*time.Second {
		t.Errorf("heartbeat timeout %v", cfg.HeartbeatTimeout())
	}
	if cfg.TelemetryPoll() != 250*time.Millisecond {
		t.Errorf("telemetry poll %v", cfg.TelemetryPoll())
	}
	if cfg.CommandAckTimeout() != 3*time.Second {
		t.Errorf("ack timeout %v", cfg.CommandAckTimeout())
	}
	if cfg.StatusRingSize != 20 || cfg.DetectionDedupSize != 1000 {
		t.Errorf("ring %d dedup %d", cfg.StatusRingSize, cfg.DetectionDedupSize)
	}
	if cfg.Vehicles[0].Baud != 57600 {
		t.Errorf("baud %d, want default 57600", cfg.Vehicles[0].Baud)
	}

	s := cfg.Spray
	if s.TankCapacity != 1000 || s.VolumePerTarget != 50 || s.RefillThreshold != 100 {
		t.Errorf("spray tank defaults %+v", s)
	}
	if s.SprayDurationSec != 3 || s.LoiterTimeSec != 5 || s.SprayAltitude != 5 {
		t.Errorf("spray timing defaults %+v", s)
	}
	if s.AutoResumeAfterRefill == nil || !*s.AutoResumeAfterRefill {
		t.Error("auto_resume_after_refill default not true")
	}
	if s.RequireManualConfirmation == nil || !*s.RequireManualConfirmation {
		t.Error("require_manual_confirmation default not true")
	}
}

func TestLoadConfigExplicitFalseSurvives(t *testing.T) {
	path := writeConfig(t, `
spray:
  auto_resume_after_refill: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Spray.AutoResumeAfterRefill == nil || *cfg.Spray.AutoResumeAfterRefill {
		t.Error("explicit false overwritten by default")
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"duplicate ids", "vehicles:\n  - id: 1\n    endpoint: simulated\n  - id: 1\n    endpoint: simulated\n"},
		{"non-positive id", "vehicles:\n  - id: 0\n    endpoint: simulated\n"},
		{"malformed yaml", "vehicles: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.body)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("missing file accepted")
	}
}
