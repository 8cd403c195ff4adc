package spray

import (
	"fmt"
	"time"

	"agrolink/internal/model"
	"agrolink/internal/util"
)

type opKind int

const (
	opQueue opKind = iota
	opStart
	opStop
	opClear
	opTargetDone
	opRefill
	opStatus
)

type op struct {
	kind    opKind
	targets []model.SprayTarget
	id      string
	success bool
	reply   chan error
	view    chan StatusView
}

// worker owns one vehicle's spray state. Only its loop goroutine touches the
// queue, tank and mission; callers communicate through the mailbox.
type worker struct {
	vehicleID int
	cfg       model.SprayConfig
	notify    func(Event)

	mailbox chan op
	done    chan struct{}

	queue   []model.SprayTarget
	tank    model.TankState
	mission *model.SprayMission

	// awaiting is the target id whose completion signal is pending; the timer
	// bounds the wait to loiter + spray + 5s.
	awaiting string
	deadline *time.Timer
}

func newWorker(vehicleID int, cfg model.SprayConfig, notify func(Event)) *worker {
	w := &worker{
		vehicleID: vehicleID,
		cfg:       cfg,
		notify:    notify,
		mailbox:   make(chan op, 16),
		done:      make(chan struct{}),
		tank:      model.TankState{Capacity: cfg.TankCapacity, Current: cfg.TankCapacity},
	}
	go w.loop()
	return w
}

func (w *worker) call(kind opKind, targets []model.SprayTarget, id string, success bool) error {
	o := op{kind: kind, targets: targets, id: id, success: success, reply: make(chan error, 1)}
	select {
	case w.mailbox <- o:
		return <-o.reply
	case <-w.done:
		return fmt.Errorf("spray worker for vehicle %d is shut down", w.vehicleID)
	}
}

func (w *worker) status() StatusView {
	o := op{kind: opStatus, view: make(chan StatusView, 1)}
	select {
	case w.mailbox <- o:
		return <-o.view
	case <-w.done:
		return StatusView{VehicleID: w.vehicleID}
	}
}

func (w *worker) shutdown() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

func (w *worker) loop() {
	for {
		var expired <-chan time.Time
		if w.deadline != nil {
			expired = w.deadline.C
		}
		select {
		case <-w.done:
			w.stopTimer()
			return
		case <-expired:
			w.deadline = nil
			w.onDeadline()
		case o := <-w.mailbox:
			w.handle(o)
		}
	}
}

func (w *worker) handle(o op) {
	switch o.kind {
	case opQueue:
		w.queue = append(w.queue, o.targets...)
		util.Info("[spray] vehicle %d: queued %d targets (%d total)",
			w.vehicleID, len(o.targets), len(w.queue))
		w.emit("spray_queue_updated", nil)
		o.reply <- nil
	case opStart:
		o.reply <- w.start()
	case opStop:
		o.reply <- w.stop()
	case opClear:
		o.reply <- w.clear()
	case opTargetDone:
		o.reply <- w.targetDone(o.id, o.success)
	case opRefill:
		o.reply <- w.refillComplete()
	case opStatus:
		q := make([]model.SprayTarget, len(w.queue))
		copy(q, w.queue)
		view := StatusView{VehicleID: w.vehicleID, Tank: w.tank, Queue: q}
		if w.mission != nil {
			m := *w.mission
			view.Mission = &m
		}
		o.view <- view
	}
}

func (w *worker) start() error {
	if w.mission != nil {
		switch w.mission.Status {
		case model.SprayActive:
			return fmt.Errorf("%w: vehicle %d mission %s", ErrSprayActive, w.vehicleID, w.mission.ID)
		case model.SprayRefilling:
			// Manual post-refill resume path.
			w.mission.Status = model.SprayActive
			w.dispatch()
			return nil
		}
	}
	if len(w.queue) == 0 {
		return ErrNoTargets
	}
	if w.tankLow() {
		return fmt.Errorf("%w: %.0f/%.0f", ErrTankLow, w.tank.Current, w.tank.Capacity)
	}
	w.mission = &model.SprayMission{
		ID:           fmt.Sprintf("spray-%s-v%d", time.Now().Format("20060102-150405"), w.vehicleID),
		VehicleID:    w.vehicleID,
		Status:       model.SprayActive,
		StartedAt:    time.Now(),
		TotalTargets: len(w.queue),
	}
	util.Info("[spray] vehicle %d: mission %s started, %d targets, tank %.0f",
		w.vehicleID, w.mission.ID, len(w.queue), w.tank.Current)
	w.emit("spray_mission_started", nil)
	w.dispatch()
	return nil
}

func (w *worker) stop() error {
	if w.mission == nil || terminal(w.mission.Status) {
		return fmt.Errorf("%w: vehicle %d", ErrNoSprayMission, w.vehicleID)
	}
	w.stopTimer()
	w.awaiting = ""
	w.mission.Status = model.SprayStopped
	w.mission.EndedAt = time.Now()
	w.queue = nil
	util.Info("[spray] vehicle %d: mission %s stopped", w.vehicleID, w.mission.ID)
	w.emit("spray_mission_stopped", nil)
	return nil
}

func (w *worker) clear() error {
	// Keep targets already dispensed or being dispensed; drop the rest.
	kept := w.queue[:0]
	for _, t := range w.queue {
		if t.State != model.TargetQueued {
			kept = append(kept, t)
		}
	}
	w.queue = kept
	if w.mission != nil {
		w.mission.TotalTargets = len(w.queue)
	}
	w.emit("spray_queue_updated", nil)
	return nil
}

func (w *worker) targetDone(targetID string, success bool) error {
	if w.mission == nil || w.mission.Status != model.SprayActive {
		return fmt.Errorf("%w: vehicle %d", ErrNoSprayMission, w.vehicleID)
	}
	if w.awaiting == "" || targetID != w.awaiting {
		return fmt.Errorf("vehicle %d: unexpected completion for target %q", w.vehicleID, targetID)
	}
	w.stopTimer()
	w.awaiting = ""

	t := &w.queue[w.mission.CurrentIndex]
	t.SprayedAt = time.Now()
	if success {
		t.State = model.TargetCompleted
		w.mission.Completed++
		// Accounting is monotonic: volume leaves the tank only on success,
		// and failure never refunds it.
		w.tank.Current -= t.Volume
		w.tank.Dispensed += t.Volume
		if w.tank.Current < 0 {
			w.tank.Current = 0
		}
	} else {
		t.State = model.TargetFailed
		w.mission.Failed++
	}
	w.emit("spray_target_complete", t)
	w.mission.CurrentIndex++
	w.dispatch()
	return nil
}

func (w *worker) refillComplete() error {
	if w.mission == nil || terminal(w.mission.Status) {
		return fmt.Errorf("%w: vehicle %d", ErrNoSprayMission, w.vehicleID)
	}
	w.applyRefill()
	return nil
}

// applyRefill restores the tank and reactivates the mission. Dispatch of the
// next target is immediate unless auto-resume is switched off, in which case
// the operator restarts via start().
func (w *worker) applyRefill() {
	w.tank.Current = w.tank.Capacity
	w.tank.Refills++
	w.tank.LastRefill = time.Now()
	w.mission.Refills++
	w.mission.Status = model.SprayActive
	util.Info("[spray] vehicle %d: tank refilled (%d refills)", w.vehicleID, w.tank.Refills)
	w.emit("spray_refill_complete", nil)
	if w.cfg.AutoResumeAfterRefill == nil || *w.cfg.AutoResumeAfterRefill {
		w.dispatch()
	}
}

// dispatch advances the mission: finishes it when the queue is exhausted,
// pauses for refill when the tank is low, otherwise announces the next target
// and arms the completion deadline.
func (w *worker) dispatch() {
	m := w.mission
	if m == nil || m.Status != model.SprayActive {
		return
	}
	if m.CurrentIndex >= len(w.queue) {
		m.Status = model.SprayCompleted
		m.EndedAt = time.Now()
		util.Info("[spray] vehicle %d: mission %s complete (%d ok, %d failed, %d refills)",
			w.vehicleID, m.ID, m.Completed, m.Failed, m.Refills)
		w.emit("spray_mission_complete", nil)
		w.queue = nil
		return
	}
	if w.tankLow() {
		m.Status = model.SprayRefilling
		util.Info("[spray] vehicle %d: tank %.0f below threshold, refill required (%d targets left)",
			w.vehicleID, w.tank.Current, len(w.queue)-m.CurrentIndex)
		w.emit("spray_refill_required", nil)
		// When no operator confirmation is required, ground equipment is
		// trusted to refill unattended and the pause resolves itself.
		if w.cfg.RequireManualConfirmation != nil && !*w.cfg.RequireManualConfirmation {
			w.applyRefill()
		}
		return
	}

	t := &w.queue[m.CurrentIndex]
	t.State = model.TargetDispensing
	w.awaiting = t.TargetID
	wait := time.Duration(w.cfg.LoiterTimeSec+w.cfg.SprayDurationSec)*time.Second + 5*time.Second
	w.deadline = time.NewTimer(wait)
	w.emit("spray_next_target", t)
}

// onDeadline fires when no completion signal arrived in time. The target is
// written off as failed and the mission moves on.
func (w *worker) onDeadline() {
	if w.mission == nil || w.mission.Status != model.SprayActive || w.awaiting == "" {
		return
	}
	util.Warn("[spray] vehicle %d: target %s completion timed out", w.vehicleID, w.awaiting)
	w.awaiting = ""
	t := &w.queue[w.mission.CurrentIndex]
	t.State = model.TargetFailed
	w.mission.Failed++
	w.emit("spray_target_complete", t)
	w.mission.CurrentIndex++
	w.dispatch()
}

func (w *worker) tankLow() bool {
	return w.tank.Current < w.cfg.VolumePerTarget || w.tank.Current <= w.cfg.RefillThreshold
}

func (w *worker) stopTimer() {
	if w.deadline != nil {
		w.deadline.Stop()
		w.deadline = nil
	}
}

func (w *worker) emit(typ string, target *model.SprayTarget) {
	ev := Event{
		Type:        typ,
		VehicleID:   w.vehicleID,
		Tank:        w.tank,
		QueueLength: len(w.queue),
		Timestamp:   time.Now(),
	}
	if w.mission != nil {
		m := *w.mission
		ev.Mission = &m
		remaining := len(w.queue) - m.CurrentIndex
		if remaining < 0 {
			remaining = 0
		}
		ev.TargetsRemaining = remaining
	}
	if target != nil {
		t := *target
		ev.Target = &t
	}
	w.notify(ev)
}

func terminal(s model.SprayMissionStatus) bool {
	return s == model.SprayCompleted || s == model.SprayStopped
}
