// Package spray sequences detection-derived targets into refill-aware spray
// missions. Per-vehicle state is owned by a single worker goroutine; all
// operations enter through its mailbox, so no locks guard the queue, tank or
// mission record. The orchestrator never flies the vehicle itself: it emits
// next-target events and waits for an external completion signal.
package spray

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"agrolink/internal/model"
)

var (
	// ErrNoTargets reports a start with an empty queue.
	ErrNoTargets = errors.New("no targets")
	// ErrSprayActive reports a second start while a mission runs.
	ErrSprayActive = errors.New("spray mission already active")
	// ErrNoSprayMission reports stop/refill against an idle vehicle.
	ErrNoSprayMission = errors.New("no active spray mission")
	// ErrTankLow reports a start with the tank already under the refill line.
	ErrTankLow = errors.New("tank below refill threshold")
)

// Event is one spray notification for the operator channel.
type Event struct {
	Type             string              `json:"type"`
	VehicleID        int                 `json:"drone_id"`
	Mission          *model.SprayMission `json:"mission,omitempty"`
	Target           *model.SprayTarget  `json:"target,omitempty"`
	Tank             model.TankState     `json:"tank"`
	TargetsRemaining int                 `json:"targets_remaining"`
	QueueLength      int                 `json:"queue_length"`
	Timestamp        time.Time           `json:"timestamp"`
}

// StatusView is the queryable spray state of one vehicle.
type StatusView struct {
	VehicleID int                 `json:"drone_id"`
	Mission   *model.SprayMission `json:"mission,omitempty"`
	Tank      model.TankState     `json:"tank"`
	Queue     []model.SprayTarget `json:"queue"`
}

// Orchestrator manages one spray worker per vehicle.
type Orchestrator struct {
	cfg model.SprayConfig

	// Notify publishes spray events; set before use, never mutated.
	Notify func(Event)

	mu      sync.Mutex
	workers map[int]*worker
}

// New creates a spray orchestrator with the given tuning.
func New(cfg model.SprayConfig) *Orchestrator {
	return &Orchestrator{cfg: cfg, workers: make(map[int]*worker)}
}

// QueueTargets converts detections into spray targets and appends them to the
// vehicle's FIFO queue.
func (o *Orchestrator) QueueTargets(vehicleID int, dets []model.DetectionEvent) error {
	targets := make([]model.SprayTarget, 0, len(dets))
	now := time.Now()
	for i, d := range dets {
		targets = append(targets, model.SprayTarget{
			TargetID:    fmt.Sprintf("tgt-%d-%d-%d", vehicleID, now.UnixMilli(), i),
			DetectionID: d.DetectionID,
			Latitude:    d.Latitude,
			Longitude:   d.Longitude,
			Altitude:    o.cfg.SprayAltitude,
			Volume:      o.cfg.VolumePerTarget,
			State:       model.TargetQueued,
			Confidence:  d.Confidence,
			QueuedAt:    now,
		})
	}
	return o.worker(vehicleID).call(opQueue, targets, "", false)
}

// Start begins executing the vehicle's queue as a spray mission.
func (o *Orchestrator) Start(vehicleID int) error {
	return o.worker(vehicleID).call(opStart, nil, "", false)
}

// Stop terminates the mission and clears the queue.
func (o *Orchestrator) Stop(vehicleID int) error {
	return o.worker(vehicleID).call(opStop, nil, "", false)
}

// ClearQueue drops all queued (not yet dispensed) targets.
func (o *Orchestrator) ClearQueue(vehicleID int) error {
	return o.worker(vehicleID).call(opClear, nil, "", false)
}

// TargetCompleted is the external completion signal for the current target.
func (o *Orchestrator) TargetCompleted(vehicleID int, targetID string, success bool) error {
	return o.worker(vehicleID).call(opTargetDone, nil, targetID, success)
}

// RefillComplete signals the tank has been refilled to capacity.
func (o *Orchestrator) RefillComplete(vehicleID int) error {
	return o.worker(vehicleID).call(opRefill, nil, "", false)
}

// Status returns a copy of the vehicle's spray state.
func (o *Orchestrator) Status(vehicleID int) StatusView {
	return o.worker(vehicleID).status()
}

// Shutdown stops every worker goroutine.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.workers {
		w.shutdown()
	}
}

func (o *Orchestrator) worker(vehicleID int) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workers[vehicleID]
	if !ok {
		w = newWorker(vehicleID, o.cfg, func(ev Event) {
			if o.Notify != nil {
				o.Notify(ev)
			}
		})
		o.workers[vehicleID] = w
	}
	return w
}
