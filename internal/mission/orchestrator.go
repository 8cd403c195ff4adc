package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agrolink/internal/command"
	"agrolink/internal/model"
	"agrolink/internal/registry"
	"agrolink/internal/util"
)

// State names the phases of an automated mission run.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateArming    State = "arming"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

var (
	// ErrMissionActive reports a start against a vehicle already flying one.
	ErrMissionActive = errors.New("mission already active")
	// ErrNoMission reports pause/resume/stop with no run to act on.
	ErrNoMission = errors.New("no active mission")
)

// How far the vehicle may sit from the first waypoint before the run is
// flagged. Flagged runs still proceed; the operator decides.
const positionMismatchM = 10

// Event is one orchestration notification for the operator channel.
type Event struct {
	Type             string    `json:"type"`
	VehicleID        int       `json:"drone_id"`
	MissionID        string    `json:"mission_id"`
	State            State     `json:"state"`
	CurrentWaypoint  int       `json:"current_waypoint"`
	TotalWaypoints   int       `json:"total_waypoints"`
	ProgressPercent  float64   `json:"progress_percent"`
	PositionMismatch bool      `json:"position_mismatch,omitempty"`
	Message          string    `json:"message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Status is the queryable view of a vehicle's mission run.
type Status struct {
	MissionID        string    `json:"mission_id"`
	VehicleID        int       `json:"drone_id"`
	State            State     `json:"state"`
	CurrentWaypoint  int       `json:"current_waypoint"`
	TotalWaypoints   int       `json:"total_waypoints"`
	ProgressPercent  float64   `json:"progress_percent"`
	PositionMismatch bool      `json:"position_mismatch"`
	StartedAt        time.Time `json:"started_at"`
}

type run struct {
	missionID   string
	vehicleID   int
	state       State
	waypoints   []model.Waypoint
	total       int
	current     int
	posMismatch bool
	startedAt   time.Time
	cancel      context.CancelFunc
	rows        []telemetryRow
}

func (ru *run) active() bool {
	switch ru.state {
	case StateCompleted, StateStopped, StateFailed, StateIdle:
		return false
	}
	return true
}

// Orchestrator drives the full automated-mission workflow: upload, pre-arm
// checks, arm, mode sequencing and progress monitoring. One run per vehicle.
type Orchestrator struct {
	reg    *registry.Registry
	router *command.Router
	up     *Uploader
	dir    string
	poll   time.Duration

	// Notify publishes orchestration events; set before use, never mutated.
	Notify func(Event)

	mu   sync.Mutex
	runs map[int]*run
}

// NewOrchestrator wires the orchestrator over the registry, command router
// and uploader. missionsDir receives per-run completion archives.
func NewOrchestrator(reg *registry.Registry, router *command.Router, up *Uploader, missionsDir string) *Orchestrator {
	return &Orchestrator{
		reg:    reg,
		router: router,
		up:     up,
		dir:    missionsDir,
		poll:   2 * time.Second,
		runs:   make(map[int]*run),
	}
}

// Start launches the workflow for one vehicle and returns the mission id.
// The monitor runs in the background; progress surfaces through Notify.
func (o *Orchestrator) Start(ctx context.Context, vehicleID int, wps []model.Waypoint) (string, error) {
	if len(wps) == 0 {
		return "", ErrEmptyMission
	}

	o.mu.Lock()
	if ru, ok := o.runs[vehicleID]; ok && ru.active() {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: vehicle %d mission %s", ErrMissionActive, vehicleID, ru.missionID)
	}
	missionID := fmt.Sprintf("mission-%s-v%d", time.Now().Format("20060102-150405"), vehicleID)
	ru := &run{
		missionID: missionID,
		vehicleID: vehicleID,
		state:     StateUploading,
		waypoints: wps,
		startedAt: time.Now(),
	}
	o.runs[vehicleID] = ru
	o.mu.Unlock()

	fail := func(err error) (string, error) {
		o.setState(ru, StateFailed, err.Error())
		return "", err
	}

	l, err := o.reg.LinkFor(vehicleID)
	if err != nil {
		return fail(fmt.Errorf("vehicle %d: %w", vehicleID, err))
	}

	o.emit(ru, "mission_status", "uploading mission")
	total, err := o.up.Upload(ctx, l, wps, nil)
	if err != nil {
		return fail(fmt.Errorf("upload: %w", err))
	}
	o.mu.Lock()
	ru.total = total
	o.mu.Unlock()

	// The vehicle should be sitting at the first waypoint. A large offset
	// usually means stale coordinates; flag it and keep going.
	if snap, err := o.reg.Snapshot(vehicleID); err == nil {
		dist := util.HaversineM(snap.Latitude, snap.Longitude, wps[0].Lat, wps[0].Lon)
		if dist > positionMismatchM {
			o.mu.Lock()
			ru.posMismatch = true
			o.mu.Unlock()
			util.Warn("[mission] %s: vehicle %d is %.0fm from first waypoint",
				missionID, vehicleID, dist)
		}
	}

	// The vehicle has accepted the full sequence; announce the run with its
	// final item count.
	o.emit(ru, "mission_started", "mission uploaded")

	o.setState(ru, StateArming, "arming")
	if err := o.router.Arm(ctx, vehicleID); err != nil {
		return fail(fmt.Errorf("arm: %w", err))
	}

	o.setState(ru, StateStarting, "switching to GUIDED")
	if err := o.router.SetMode(ctx, vehicleID, "GUIDED"); err != nil {
		return fail(fmt.Errorf("set GUIDED: %w", err))
	}
	if err := o.router.SetMode(ctx, vehicleID, "AUTO"); err != nil {
		return fail(fmt.Errorf("set AUTO: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ru.cancel = cancel
	o.setState(ru, StateRunning, "mission running")
	go o.monitor(runCtx, ru)

	util.Info("[mission] %s: vehicle %d running, %d items", missionID, vehicleID, total)
	return missionID, nil
}

// Pause holds the vehicle in place by switching to LOITER.
func (o *Orchestrator) Pause(ctx context.Context, vehicleID int) error {
	ru, err := o.activeRun(vehicleID)
	if err != nil {
		return err
	}
	if err := o.router.SetMode(ctx, vehicleID, "LOITER"); err != nil {
		return err
	}
	o.setState(ru, StatePaused, "paused, loitering")
	o.emit(ru, "mission_paused", "")
	return nil
}

// Resume continues a paused mission by switching back to AUTO.
func (o *Orchestrator) Resume(ctx context.Context, vehicleID int) error {
	ru, err := o.activeRun(vehicleID)
	if err != nil {
		return err
	}
	if err := o.router.SetMode(ctx, vehicleID, "AUTO"); err != nil {
		return err
	}
	o.setState(ru, StateRunning, "resumed")
	o.emit(ru, "mission_resumed", "")
	return nil
}

// Stop abandons the run. The vehicle is put into LOITER; the run transitions
// to stopped even when the mode switch fails, so the operator keeps control.
func (o *Orchestrator) Stop(ctx context.Context, vehicleID int) error {
	ru, err := o.activeRun(vehicleID)
	if err != nil {
		return err
	}
	modeErr := o.router.SetMode(ctx, vehicleID, "LOITER")
	if modeErr != nil {
		util.Warn("[mission] %s: stop mode switch failed: %v", ru.missionID, modeErr)
	}
	o.finish(ru, StateStopped, "stopped by operator")
	o.emit(ru, "mission_stopped", "")
	return modeErr
}

// StatusOf reports the last run for a vehicle, ErrNoMission when none exists.
func (o *Orchestrator) StatusOf(vehicleID int) (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ru, ok := o.runs[vehicleID]
	if !ok {
		return Status{}, fmt.Errorf("%w: vehicle %d", ErrNoMission, vehicleID)
	}
	return Status{
		MissionID:        ru.missionID,
		VehicleID:        ru.vehicleID,
		State:            ru.state,
		CurrentWaypoint:  ru.current,
		TotalWaypoints:   ru.total,
		ProgressPercent:  progressPercent(ru.current, ru.total),
		PositionMismatch: ru.posMismatch,
		StartedAt:        ru.startedAt,
	}, nil
}

// StopAll cancels every live monitor. Used at shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ru := range o.runs {
		if ru.cancel != nil {
			ru.cancel()
		}
	}
}

func (o *Orchestrator) activeRun(vehicleID int) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ru, ok := o.runs[vehicleID]
	if !ok || !ru.active() {
		return nil, fmt.Errorf("%w: vehicle %d", ErrNoMission, vehicleID)
	}
	return ru, nil
}

// monitor polls the live snapshot, publishes progress and detects completion:
// the sequence pointer reaching the final (return-to-launch) item.
func (o *Orchestrator) monitor(ctx context.Context, ru *run) {
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if !ru.active() {
			o.mu.Unlock()
			return
		}
		paused := ru.state == StatePaused
		o.mu.Unlock()

		snap, err := o.reg.Snapshot(ru.vehicleID)
		if err != nil {
			continue
		}

		o.mu.Lock()
		ru.current = snap.CurrentWaypoint
		ru.rows = append(ru.rows, rowFromSnapshot(snap))
		done := ru.total > 0 && snap.CurrentWaypoint >= ru.total-1
		o.mu.Unlock()

		if done {
			o.finish(ru, StateCompleted, "mission complete")
			o.emit(ru, "mission_complete", "")
			return
		}
		if !paused {
			o.emit(ru, "mission_status", "")
		}
	}
}

// finish moves a run to a terminal state and writes its archive.
func (o *Orchestrator) finish(ru *run, st State, msg string) {
	o.mu.Lock()
	if !ru.active() {
		o.mu.Unlock()
		return
	}
	ru.state = st
	if ru.cancel != nil {
		ru.cancel()
	}
	rows := ru.rows
	o.mu.Unlock()

	util.Info("[mission] %s: %s (%s)", ru.missionID, st, msg)
	if err := writeArchive(o.dir, ru, rows); err != nil {
		util.Error("[mission] %s: archive: %v", ru.missionID, err)
	}
}

func (o *Orchestrator) setState(ru *run, st State, msg string) {
	o.mu.Lock()
	ru.state = st
	o.mu.Unlock()
	if msg != "" {
		util.Info("[mission] %s: %s", ru.missionID, msg)
	}
	o.emit(ru, "mission_status", msg)
}

func (o *Orchestrator) emit(ru *run, typ, msg string) {
	if o.Notify == nil {
		return
	}
	o.mu.Lock()
	ev := Event{
		Type:             typ,
		VehicleID:        ru.vehicleID,
		MissionID:        ru.missionID,
		State:            ru.state,
		CurrentWaypoint:  ru.current,
		TotalWaypoints:   ru.total,
		ProgressPercent:  progressPercent(ru.current, ru.total),
		PositionMismatch: ru.posMismatch,
		Message:          msg,
		Timestamp:        time.Now(),
	}
	o.mu.Unlock()
	o.Notify(ev)
}

func progressPercent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(current) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
