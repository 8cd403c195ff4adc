package mission

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"agrolink/internal/model"
)

// telemetryRow is one sampled snapshot destined for the run's CSV log.
type telemetryRow struct {
	ts          time.Time
	lat, lon    float64
	alt         float64
	heading     float64
	pitch, roll float64
	groundSpeed float64
	batteryV    float64
	batteryPct  int
	mode        string
	armed       bool
	satellites  int
	hdop        float64
}

func rowFromSnapshot(s model.Snapshot) telemetryRow {
	return telemetryRow{
		ts:          time.Now(),
		lat:         s.Latitude,
		lon:         s.Longitude,
		alt:         s.RelativeAlt,
		heading:     s.Heading,
		pitch:       s.Pitch,
		roll:        s.Roll,
		groundSpeed: s.GroundSpeed,
		batteryV:    s.BatteryVoltage,
		batteryPct:  s.BatteryRemaining,
		mode:        s.FlightMode,
		armed:       s.Armed,
		satellites:  s.Satellites,
		hdop:        s.HDOP,
	}
}

// archiveManifest is the mission.json document written next to the CSV log.
type archiveManifest struct {
	MissionID        string           `json:"mission_id"`
	VehicleID        int              `json:"drone_id"`
	State            State            `json:"state"`
	Waypoints        []model.Waypoint `json:"waypoints"`
	TotalWaypoints   int              `json:"total_waypoints"`
	PositionMismatch bool             `json:"position_mismatch"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          time.Time        `json:"ended_at"`
	Samples          int              `json:"telemetry_samples"`
}

// writeArchive persists a finished run as missions/<id>/mission.json plus
// missions/<id>/telemetry.csv.
func writeArchive(dir string, ru *run, rows []telemetryRow) error {
	if dir == "" {
		dir = "missions"
	}
	runDir := filepath.Join(dir, ru.missionID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	man := archiveManifest{
		MissionID:        ru.missionID,
		VehicleID:        ru.vehicleID,
		State:            ru.state,
		Waypoints:        ru.waypoints,
		TotalWaypoints:   ru.total,
		PositionMismatch: ru.posMismatch,
		StartedAt:        ru.startedAt,
		EndedAt:          time.Now(),
		Samples:          len(rows),
	}
	buf, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(runDir, "mission.json"), buf, 0o644); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(runDir, "telemetry.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"timestamp", "lat", "lon", "alt", "heading", "pitch", "roll",
		"groundspeed", "battery_voltage", "battery_percent", "mode",
		"armed", "satellites", "hdop",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.ts.Format(time.RFC3339),
			fmt.Sprintf("%.7f", r.lat),
			fmt.Sprintf("%.7f", r.lon),
			fmt.Sprintf("%.2f", r.alt),
			fmt.Sprintf("%.1f", r.heading),
			fmt.Sprintf("%.2f", r.pitch),
			fmt.Sprintf("%.2f", r.roll),
			fmt.Sprintf("%.2f", r.groundSpeed),
			fmt.Sprintf("%.2f", r.batteryV),
			strconv.Itoa(r.batteryPct),
			r.mode,
			strconv.FormatBool(r.armed),
			strconv.Itoa(r.satellites),
			fmt.Sprintf("%.2f", r.hdop),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
