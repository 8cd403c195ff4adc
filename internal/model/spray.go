package model

import "time"

// SprayTargetState tracks one target through the spray queue.
type SprayTargetState string

const (
	TargetQueued     SprayTargetState = "queued"
	TargetDispensing SprayTargetState = "dispensing"
	TargetCompleted  SprayTargetState = "completed"
	TargetFailed     SprayTargetState = "failed"
)

// SprayTarget is a single dispense operation derived from a detection.
type SprayTarget struct {
	TargetID    string           `json:"target_id"`
	DetectionID string           `json:"detection_id"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	Altitude    float64          `json:"altitude"`
	Volume      float64          `json:"required_volume"`
	State       SprayTargetState `json:"state"`
	Confidence  float64          `json:"confidence"`
	Priority    int              `json:"priority"`
	QueuedAt    time.Time        `json:"queued_at"`
	SprayedAt   time.Time        `json:"sprayed_at,omitempty"`
}

// SprayMissionStatus is the lifecycle state of a spray mission.
type SprayMissionStatus string

const (
	SprayActive    SprayMissionStatus = "active"
	SprayRefilling SprayMissionStatus = "refilling"
	SprayCompleted SprayMissionStatus = "completed"
	SprayStopped   SprayMissionStatus = "stopped"
)

// SprayMission is the per-vehicle sequenced dispense run.
type SprayMission struct {
	ID            string             `json:"id"`
	VehicleID     int                `json:"vehicle_id"`
	Status        SprayMissionStatus `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at,omitempty"`
	CurrentIndex  int                `json:"current_target_index"`
	TotalTargets  int                `json:"total_targets"`
	Completed     int                `json:"completed_count"`
	Failed        int                `json:"failed_count"`
	Refills       int                `json:"refill_count"`
}

// TankState is the per-vehicle dispense reservoir accounting.
// Invariant: 0 <= Current <= Capacity.
type TankState struct {
	Capacity   float64   `json:"capacity"`
	Current    float64   `json:"current"`
	Refills    int       `json:"refill_count"`
	LastRefill time.Time `json:"last_refill,omitempty"`
	Dispensed  float64   `json:"total_dispensed"`
}
