package mission

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agrolink/internal/command"
	"agrolink/internal/model"
	"agrolink/internal/payload"
	"agrolink/internal/registry"
)

type harness struct {
	reg    *registry.Registry
	orch   *Orchestrator
	events chan Event
}

func newHarness(t *testing.T, vehicleID int) *harness {
	t.Helper()
	cfg := &model.Config{MissionsDir: t.TempDir()}
	cfg.ApplyDefaults()
	reg := registry.New(cfg, payload.NewParser(0))
	if err := reg.Simulate(vehicleID); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.Stop)

	router := command.NewRouter(reg, 3*time.Second)
	up := NewUploader(2 * time.Second)
	orch := NewOrchestrator(reg, router, up, cfg.MissionsDir)
	t.Cleanup(orch.StopAll)

	h := &harness{reg: reg, orch: orch, events: make(chan Event, 256)}
	orch.Notify = func(ev Event) { h.events <- ev }

	waitFor(t, func() bool {
		snap, err := reg.Snapshot(vehicleID)
		return err == nil && snap.FlightMode == "STABILIZE" && snap.Latitude != 0
	})
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func (h *harness) nextEvent(t *testing.T, typ string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", typ, timeout)
		}
	}
}

// homeWaypoints sit at the simulator's spawn point so the flight collapses to
// the takeoff climb and the run finishes quickly.
func homeWaypoints(vehicleID int) []model.Waypoint {
	lat := 12.9716 + float64(vehicleID)*0.001
	lon := 77.5946 + float64(vehicleID)*0.001
	return []model.Waypoint{
		{Lat: lat, Lon: lon, Alt: 3},
		{Lat: lat, Lon: lon, Alt: 3},
	}
}

func TestMissionRunsToCompletion(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	missionID, err := h.orch.Start(ctx, 1, homeWaypoints(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	started := h.nextEvent(t, "mission_started", 5*time.Second)
	if started.MissionID != missionID {
		t.Errorf("started event mission %q, want %q", started.MissionID, missionID)
	}
	// The announcement follows the accepted upload, so it already carries the
	// expanded item count.
	if started.TotalWaypoints != 5 {
		t.Errorf("started event total %d, want 5 (2 waypoints + 3)", started.TotalWaypoints)
	}

	st, err := h.orch.StatusOf(1)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateRunning {
		t.Errorf("state %s after start, want running", st.State)
	}
	if st.TotalWaypoints != 5 {
		t.Errorf("total %d, want 5 (2 waypoints + 3)", st.TotalWaypoints)
	}
	if st.PositionMismatch {
		t.Error("position mismatch flagged at the home point")
	}

	done := h.nextEvent(t, "mission_complete", 30*time.Second)
	if done.State != StateCompleted {
		t.Errorf("completion state %s", done.State)
	}
	if done.ProgressPercent < 80 {
		t.Errorf("progress %.0f%% at completion", done.ProgressPercent)
	}

	runDir := filepath.Join(h.orch.dir, missionID)
	for _, name := range []string{"mission.json", "telemetry.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("archive %s: %v", name, err)
		}
	}
}

func TestMissionPauseResumeStop(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	wps := []model.Waypoint{
		{Lat: 13.5, Lon: 78.0, Alt: 15}, // far away: the run never completes on its own
		{Lat: 13.6, Lon: 78.1, Alt: 15},
	}
	if _, err := h.orch.Start(ctx, 1, wps); err != nil {
		t.Fatalf("start: %v", err)
	}

	st, _ := h.orch.StatusOf(1)
	if !st.PositionMismatch {
		t.Error("distant first waypoint not flagged as position mismatch")
	}

	if _, err := h.orch.Start(ctx, 1, wps); !errors.Is(err, ErrMissionActive) {
		t.Fatalf("second start err = %v, want ErrMissionActive", err)
	}

	if err := h.orch.Pause(ctx, 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.nextEvent(t, "mission_paused", 5*time.Second)
	if st, _ := h.orch.StatusOf(1); st.State != StatePaused {
		t.Errorf("state %s, want paused", st.State)
	}

	if err := h.orch.Resume(ctx, 1); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.nextEvent(t, "mission_resumed", 5*time.Second)

	if err := h.orch.Stop(ctx, 1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.nextEvent(t, "mission_stopped", 5*time.Second)
	if st, _ := h.orch.StatusOf(1); st.State != StateStopped {
		t.Errorf("state %s, want stopped", st.State)
	}

	if err := h.orch.Stop(ctx, 1); !errors.Is(err, ErrNoMission) {
		t.Fatalf("stop after stop err = %v, want ErrNoMission", err)
	}
}

func TestStartRequiresWaypointsAndVehicle(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.orch.Start(context.Background(), 1, nil); !errors.Is(err, ErrEmptyMission) {
		t.Fatalf("err = %v, want ErrEmptyMission", err)
	}
	if _, err := h.orch.Start(context.Background(), 99, homeWaypoints(99)); err == nil {
		t.Fatal("start against unknown vehicle succeeded")
	}
}
