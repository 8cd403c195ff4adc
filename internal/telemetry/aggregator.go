// Package telemetry merges decoded vehicle messages into a live per-vehicle
// snapshot. One aggregator exists per vehicle; only the link pump writes to
// it, everyone else reads copies.
package telemetry

import (
	"math"
	"sync"
	"time"

	"agrolink/internal/mavlink"
	"agrolink/internal/model"
)

const degPerRad = 180 / math.Pi

// Aggregator owns one vehicle's Snapshot and status-string ring.
type Aggregator struct {
	mu   sync.RWMutex
	snap model.Snapshot
	ring []model.StatusRecord
	cap  int
}

// New creates an aggregator with the given status-ring capacity.
func New(ringSize int) *Aggregator {
	if ringSize <= 0 {
		ringSize = 20
	}
	return &Aggregator{
		snap: model.Snapshot{FlightMode: "UNKNOWN", SystemStatus: "UNINIT", HDOP: 99.99},
		cap:  ringSize,
	}
}

// Apply merges one decoded message into the snapshot, converting wire units
// to engineering units (1e7-scaled degrees, millimetres, centi-amps and so on
// all become decimal degrees, metres, amps). Status-string messages are
// appended to the ring; the appended record is returned so the payload parser
// can scan it, nil for every other message type.
func (a *Aggregator) Apply(msg mavlink.Message) *model.StatusRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	a.snap.LastUpdate = now

	switch m := msg.(type) {
	case *mavlink.Heartbeat:
		a.snap.Armed = m.Armed()
		a.snap.FlightMode = mavlink.ModeName(m.CustomMode)
		a.snap.SystemStatus = mavlink.SystemStateName(m.SystemStatus)

	case *mavlink.GlobalPositionInt:
		a.snap.Latitude = float64(m.Lat) / 1e7
		a.snap.Longitude = float64(m.Lon) / 1e7
		a.snap.Altitude = float64(m.Alt) / 1000.0
		a.snap.RelativeAlt = float64(m.RelativeAlt) / 1000.0
		if m.Hdg != 65535 {
			a.snap.Heading = float64(m.Hdg) / 100.0
		}
		vx := float64(m.Vx) / 100.0
		vy := float64(m.Vy) / 100.0
		a.snap.GroundSpeed = math.Sqrt(vx*vx + vy*vy)

	case *mavlink.GPSRawInt:
		a.snap.GPSFixType = int(m.FixType)
		a.snap.Satellites = int(m.Satellites)
		if m.Eph != 65535 {
			a.snap.HDOP = float64(m.Eph) / 100.0
		} else {
			a.snap.HDOP = 99.99
		}

	case *mavlink.Attitude:
		a.snap.Roll = float64(m.Roll) * degPerRad
		a.snap.Pitch = float64(m.Pitch) * degPerRad
		a.snap.Yaw = float64(m.Yaw) * degPerRad

	case *mavlink.SysStatus:
		a.snap.BatteryVoltage = float64(m.VoltageBattery) / 1000.0
		if m.CurrentBattery >= 0 {
			a.snap.BatteryCurrent = float64(m.CurrentBattery) / 100.0
		}
		if m.BatteryRemaining >= 0 {
			a.snap.BatteryRemaining = int(m.BatteryRemaining)
		}

	case *mavlink.BatteryStatus:
		if m.BatteryRemaining >= 0 {
			a.snap.BatteryRemaining = int(m.BatteryRemaining)
		}

	case *mavlink.VFRHud:
		a.snap.AirSpeed = float64(m.AirSpeed)
		a.snap.ClimbRate = float64(m.Climb)
		a.snap.Throttle = int(m.Throttle)
		if a.snap.GroundSpeed == 0 {
			a.snap.GroundSpeed = float64(m.GroundSpeed)
		}
		if a.snap.RelativeAlt == 0 {
			a.snap.RelativeAlt = float64(m.Alt)
		}

	case *mavlink.MissionCurrent:
		a.snap.CurrentWaypoint = int(m.Seq)

	case *mavlink.StatusText:
		rec := model.StatusRecord{
			Severity:  int(m.Severity),
			Text:      m.Text,
			Timestamp: now,
		}
		if len(a.ring) >= a.cap {
			// Evict oldest-first; the ring is bounded.
			a.ring = append(a.ring[:0], a.ring[1:]...)
		}
		a.ring = append(a.ring, rec)
		return &rec
	}
	return nil
}

// Read returns a deep copy of the snapshot and the status-string ring.
// Reads never block the writer beyond the copy itself.
func (a *Aggregator) Read() (model.Snapshot, []model.StatusRecord) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ring := make([]model.StatusRecord, len(a.ring))
	copy(ring, a.ring)
	return a.snap, ring
}

// Snapshot returns a copy of the live snapshot only.
func (a *Aggregator) Snapshot() model.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}
