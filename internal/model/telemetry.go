// Package model defines shared message structures for the AgroLink broker.
package model

import "time"

// Snapshot is the live merged state of one vehicle. It is owned by the
// telemetry aggregator; everyone else reads copies.
type Snapshot struct {
	Armed        bool   `json:"armed"`
	FlightMode   string `json:"flight_mode"`
	SystemStatus string `json:"system_status"`

	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude"`          // metres above mean sea level
	RelativeAlt float64 `json:"relative_altitude"` // metres above home, operator-facing

	GPSFixType int     `json:"gps_fix_type"`
	Satellites int     `json:"satellites_visible"`
	HDOP       float64 `json:"hdop"`

	Roll  float64 `json:"roll"`  // degrees
	Pitch float64 `json:"pitch"` // degrees
	Yaw   float64 `json:"yaw"`   // degrees

	Heading     float64 `json:"heading"`
	GroundSpeed float64 `json:"groundspeed"`
	AirSpeed    float64 `json:"airspeed"`
	ClimbRate   float64 `json:"climb_rate"`
	Throttle    int     `json:"throttle"`

	BatteryVoltage   float64 `json:"battery_voltage"`   // volts
	BatteryCurrent   float64 `json:"battery_current"`   // amperes
	BatteryRemaining int     `json:"battery_remaining"` // percent

	CurrentWaypoint int `json:"current_waypoint"`

	LastUpdate time.Time `json:"timestamp"`
}

// StatusRecord is one entry of the per-vehicle status-string ring.
type StatusRecord struct {
	Severity  int       `json:"severity"` // 0 (emergency) .. 7 (debug)
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectionEvent is a payload-side crop detection decoded from a DET status string.
type DetectionEvent struct {
	DetectionID string    `json:"detection_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Confidence  float64   `json:"confidence"`
	Area        int       `json:"area"`
	Source      string    `json:"source"`
	VehicleID   int       `json:"vehicle_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// DetectionStats is the payload's running detection summary (DSTAT tag).
type DetectionStats struct {
	VehicleID  int    `json:"vehicle_id"`
	Total      int    `json:"total_detections"`
	Active     int    `json:"active_detections"`
	MissionID  string `json:"mission_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ImageCaptured reports payload imagery metadata (IMG tag).
type ImageCaptured struct {
	VehicleID int     `json:"vehicle_id"`
	ImageID   string  `json:"image_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ImageType string  `json:"image_type"`
	MissionID string  `json:"mission_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PiStats reports payload-host health (STAT tag).
type PiStats struct {
	VehicleID   int     `json:"vehicle_id"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	TempC       float64 `json:"temperature_c"`
	Timestamp   time.Time `json:"timestamp"`
}

// Waypoint is one operator-supplied survey point.
type Waypoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
	Alt float64 `json:"alt" yaml:"alt"`
	Seq int     `json:"seq,omitempty" yaml:"seq,omitempty"`
}

// VehicleSummary is the registry's answer to a drone-list query.
type VehicleSummary struct {
	ID         int       `json:"id"`
	Connected  bool      `json:"connected"`
	Simulated  bool      `json:"simulation"`
	Endpoint   string    `json:"endpoint"`
	LastSeen   time.Time `json:"last_seen"`
	Telemetry  *Snapshot `json:"telemetry,omitempty"`
}
