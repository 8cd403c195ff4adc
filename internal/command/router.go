// Package command converts symbolic operator commands into MAVLink
// command-long packets and awaits their acknowledgment. Arm failures are
// decorated with a pre-arm diagnostic built from the live snapshot so the
// operator sees domain terms, not protocol numerics.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrolink/internal/link"
	"agrolink/internal/mavlink"
	"agrolink/internal/model"
	"agrolink/internal/registry"
	"agrolink/internal/util"
)

var (
	// ErrNotConnected reports a command against a vehicle without an open link.
	ErrNotConnected = errors.New("vehicle not connected")
	// ErrRejected reports a non-accepted acknowledgment.
	ErrRejected = errors.New("command rejected")
	// ErrAckTimeout reports a command that was never acknowledged.
	ErrAckTimeout = errors.New("command acknowledgment timed out")
	// ErrUnknownCommand reports an unrecognized symbolic command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownMode reports a flight-mode name missing from the mode table.
	ErrUnknownMode = errors.New("unknown flight mode")
)

// Pre-arm heuristic thresholds. These are ground-side policy derived from
// operator experience, not part of the protocol.
const (
	MinFixType      = 3
	MinSatellites   = 8
	MinBatteryVolts = 10.5
)

// Params carries the command-specific arguments of an operator request.
type Params struct {
	Mode     string  `json:"mode,omitempty"`
	Altitude float64 `json:"altitude,omitempty"`
	Lat      float64 `json:"latitude,omitempty"`
	Lon      float64 `json:"longitude,omitempty"`
}

// Router executes symbolic commands against registry links.
type Router struct {
	reg        *registry.Registry
	ackTimeout time.Duration
}

// NewRouter creates a router with the configured acknowledgment deadline.
func NewRouter(reg *registry.Registry, ackTimeout time.Duration) *Router {
	if ackTimeout <= 0 {
		ackTimeout = 3 * time.Second
	}
	return &Router{reg: reg, ackTimeout: ackTimeout}
}

// Execute runs one symbolic command. It fails with ErrNotConnected when the
// link is down, ErrAckTimeout when no acknowledgment arrives in time, and
// ErrRejected (wrapped with a diagnostic) on a non-accepted ack.
func (r *Router) Execute(ctx context.Context, vehicleID int, name string, p Params) error {
	l, err := r.reg.LinkFor(vehicleID)
	if err != nil || !l.Connected() {
		return fmt.Errorf("%w: vehicle %d", ErrNotConnected, vehicleID)
	}

	switch name {
	case "arm":
		return r.arm(ctx, vehicleID, l)
	case "disarm":
		return r.ack(ctx, l, mavlink.CmdComponentArmDisarm, 0, 0, 0, 0, 0, 0, 0)
	case "set_mode":
		return r.setMode(ctx, l, p.Mode)
	case "takeoff":
		alt := p.Altitude
		if alt <= 0 {
			alt = 10
		}
		return r.ack(ctx, l, mavlink.CmdNavTakeoff, 0, 0, 0, 0, 0, 0, float32(alt))
	case "land":
		return r.ack(ctx, l, mavlink.CmdNavLand, 0, 0, 0, 0, 0, 0, 0)
	case "rtl":
		return r.setMode(ctx, l, "RTL")
	case "goto":
		return r.ack(ctx, l, mavlink.CmdNavWaypoint, 0, 0, 0, 0,
			float32(p.Lat), float32(p.Lon), float32(p.Altitude))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// SetMode switches the vehicle's flight mode by symbolic name.
func (r *Router) SetMode(ctx context.Context, vehicleID int, mode string) error {
	return r.Execute(ctx, vehicleID, "set_mode", Params{Mode: mode})
}

// Arm arms the vehicle, composing a diagnostic on rejection.
func (r *Router) Arm(ctx context.Context, vehicleID int) error {
	return r.Execute(ctx, vehicleID, "arm", Params{})
}

func (r *Router) setMode(ctx context.Context, l *link.Link, mode string) error {
	num, ok := mavlink.ModeNumber(strings.ToUpper(mode))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return r.ack(ctx, l, mavlink.CmdDoSetMode, mavlink.ModeFlagCustomModeEnabled, float32(num), 0, 0, 0, 0, 0)
}

var armableModes = map[string]bool{"STABILIZE": true, "GUIDED": true, "LOITER": true}

func (r *Router) arm(ctx context.Context, vehicleID int, l *link.Link) error {
	snap, err := r.reg.Snapshot(vehicleID)
	if err != nil {
		return err
	}

	// ArduPilot refuses to arm in most non-manual modes; drop to STABILIZE
	// first, the way an operator would.
	if !armableModes[snap.FlightMode] {
		util.Info("[command] vehicle %d: switching to STABILIZE before arm (current %s)",
			vehicleID, snap.FlightMode)
		if err := r.setMode(ctx, l, "STABILIZE"); err != nil {
			util.Warn("[command] vehicle %d: pre-arm mode switch failed: %v", vehicleID, err)
		}
	}

	for _, w := range armWarnings(snap) {
		util.Warn("[command] vehicle %d: pre-arm: %s", vehicleID, w)
	}

	err = r.ack(ctx, l, mavlink.CmdComponentArmDisarm, 1, 0, 0, 0, 0, 0, 0)
	if errors.Is(err, ErrRejected) {
		diag := ArmDiagnostic(snap)
		util.Error("[command] vehicle %d: %s", vehicleID, diag)
		return fmt.Errorf("%w: %s", ErrRejected, diag)
	}
	return err
}

// ArmDiagnostic composes the operator-facing arm rejection message from the
// live snapshot: GPS quality, battery, mode and the probable causes.
func ArmDiagnostic(snap model.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ARM rejected by vehicle. GPS: %d fix, %d satellites; Battery: %.1fV; Mode: %s",
		snap.GPSFixType, snap.Satellites, snap.BatteryVoltage, snap.FlightMode)
	if issues := armWarnings(snap); len(issues) > 0 {
		b.WriteString(". Issues: ")
		b.WriteString(strings.Join(issues, "; "))
	}
	return b.String()
}

func armWarnings(snap model.Snapshot) []string {
	var issues []string
	if snap.GPSFixType < MinFixType {
		issues = append(issues, "GPS fix quality low (need 3D)")
	}
	if snap.Satellites < MinSatellites {
		issues = append(issues, "Low satellite count (recommended 8+)")
	}
	if snap.BatteryVoltage < MinBatteryVolts {
		issues = append(issues, "Low battery voltage")
	}
	if snap.FlightMode == "UNKNOWN" {
		issues = append(issues, "Mode not armable")
	}
	return issues
}

// ack sends one command-long and waits for its acknowledgment. Exactly one
// command-long appears on the wire per call. The acknowledgment matcher is
// registered before the send so a fast reply cannot slip past it.
func (r *Router) ack(ctx context.Context, l *link.Link, cmd uint16, p1, p2, p3, p4, p5, p6, p7 float32) error {
	ctx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()

	pending := l.Expect(func(m mavlink.Message) bool {
		a, ok := m.(*mavlink.CommandAck)
		return ok && a.Command == cmd
	})
	defer pending.Cancel()

	if err := l.Command(cmd, p1, p2, p3, p4, p5, p6, p7); err != nil {
		if errors.Is(err, link.ErrNotOpen) {
			return fmt.Errorf("%w: vehicle %d", ErrNotConnected, l.VehicleID)
		}
		return err
	}

	msg, err := pending.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: command %d", ErrAckTimeout, cmd)
		}
		return err
	}
	a := msg.(*mavlink.CommandAck)
	if a.Result != mavlink.ResultAccepted {
		return fmt.Errorf("%w: command %d result %d", ErrRejected, cmd, a.Result)
	}
	return nil
}
