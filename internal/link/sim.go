package link

import (
	"io"
	"math"
	"sync"
	"time"

	"agrolink/internal/mavlink"
	"agrolink/internal/util"
)

// SimTransport is an in-process flight controller used when a vehicle's
// endpoint is "simulated". It speaks real MAVLink v2 frames through the same
// codec as a physical autopilot: it emits heartbeat, position, GPS, attitude,
// system-status and VFR frames at 1 Hz, answers command-long with acks,
// performs the mission-count/request/item upload handshake and advances along
// an uploaded mission at constant ground speed.
type SimTransport struct {
	vehicleID int

	outR *io.PipeReader // frames simulator -> ground station
	outW *io.PipeWriter
	inR  *io.PipeReader // bytes ground station -> simulator
	inW  *io.PipeWriter

	mu  sync.Mutex
	st  simState
	seq byte

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type simState struct {
	armed bool
	mode  uint32

	lat, lon float64 // decimal degrees
	relAlt   float64 // metres above home
	homeAlt  float64 // metres AMSL
	heading  float64
	speed    float64

	fixType    int
	satellites int
	hdopCm     int

	batteryV   float64
	batteryPct float64

	armDenied bool

	takeoffTarget float64
	gotoActive    bool
	gotoLat       float64
	gotoLon       float64
	gotoAlt       float64

	mission       []*mavlink.MissionItemInt
	missionActive bool
	currentWp     int

	expectItems int
	gotItems    []*mavlink.MissionItemInt
}

// Simulated horizontal cruise: 2.5 m/s expressed in degrees per tick.
const simDegPerSec = 0.000025

// NewSimTransport starts a simulator for one vehicle id. The initial state
// mirrors a bench vehicle on the ground with a 3D fix and a full battery.
func NewSimTransport(vehicleID int) *SimTransport {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	s := &SimTransport{
		vehicleID: vehicleID,
		outR:      outR,
		outW:      outW,
		inR:       inR,
		inW:       inW,
		stop:      make(chan struct{}),
		st: simState{
			mode:       mavlink.ModeStabilize,
			lat:        12.9716 + float64(vehicleID)*0.001,
			lon:        77.5946 + float64(vehicleID)*0.001,
			homeAlt:    820,
			fixType:    3,
			satellites: 12,
			hdopCm:     120,
			batteryV:   16.4,
			batteryPct: 95,
		},
	}
	s.wg.Add(2)
	go s.tickLoop()
	go s.commandLoop()
	return s
}

// Read yields the simulator's outbound frame bytes.
func (s *SimTransport) Read(p []byte) (int, error) { return s.outR.Read(p) }

// Write feeds ground-station bytes into the simulator's decoder.
func (s *SimTransport) Write(p []byte) (int, error) { return s.inW.Write(p) }

// Close stops both loops and tears down the pipes. Idempotent.
func (s *SimTransport) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.outW.Close()
		_ = s.outR.Close()
		_ = s.inW.Close()
		_ = s.inR.Close()
	})
	s.wg.Wait()
	return nil
}

// SetGPS overrides fix quality, for exercising pre-arm diagnostics.
func (s *SimTransport) SetGPS(fixType, satellites int) {
	s.mu.Lock()
	s.st.fixType = fixType
	s.st.satellites = satellites
	s.mu.Unlock()
}

// SetBattery overrides voltage and remaining percent.
func (s *SimTransport) SetBattery(volts float64, percent float64) {
	s.mu.Lock()
	s.st.batteryV = volts
	s.st.batteryPct = percent
	s.mu.Unlock()
}

// DenyArm makes the simulator reject arm commands with MAV_RESULT_DENIED.
func (s *SimTransport) DenyArm(deny bool) {
	s.mu.Lock()
	s.st.armDenied = deny
	s.mu.Unlock()
}

// InjectStatusText emits one status-string frame, as the payload computer does
// for tagged detection records.
func (s *SimTransport) InjectStatusText(severity uint8, text string) {
	s.send(&mavlink.StatusText{Severity: severity, Text: text})
}

func (s *SimTransport) send(msg mavlink.Message) {
	s.mu.Lock()
	frame := &mavlink.Frame{
		Version: 2,
		Seq:     s.seq,
		SysID:   1,
		CompID:  1,
		MsgID:   msg.ID(),
		Payload: msg.Marshal(),
	}
	s.seq++
	s.mu.Unlock()
	raw, err := frame.Encode()
	if err != nil {
		util.Error("[sim %d] encode %d: %v", s.vehicleID, msg.ID(), err)
		return
	}
	_, _ = s.outW.Write(raw)
}

func (s *SimTransport) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.step(1.0)
			s.emitTelemetry()
		}
	}
}

// step advances the simulated physics by dt seconds.
func (s *SimTransport) step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.st

	if st.armed {
		st.batteryPct = math.Max(0, st.batteryPct-0.01*dt)
		st.batteryV = 14.4 + st.batteryPct/100.0*2.4
	}

	switch {
	case st.missionActive && st.currentWp < len(st.mission):
		s.flyMission(dt)
	case st.gotoActive:
		reached := s.flyToward(st.gotoLat, st.gotoLon, st.gotoAlt, dt)
		if reached {
			st.gotoActive = false
			st.speed = 0
		}
	case st.takeoffTarget > 0 && st.relAlt < st.takeoffTarget:
		st.relAlt = math.Min(st.takeoffTarget, st.relAlt+2.5*dt)
	case st.mode == mavlink.ModeLand && st.relAlt > 0:
		st.relAlt = math.Max(0, st.relAlt-2.5*dt)
	default:
		st.speed = 0
	}
}

// flyMission moves toward the current mission item, snapping onto it when
// within one and a half tick lengths, then advances the index.
func (s *SimTransport) flyMission(dt float64) {
	st := &s.st
	item := st.mission[st.currentWp]
	if item.Command == mavlink.CmdNavReturnToLaunch {
		st.missionActive = false
		st.mode = mavlink.ModeRTL
		return
	}
	lat := float64(item.X) / 1e7
	lon := float64(item.Y) / 1e7
	alt := float64(item.Z)
	if item.Command == mavlink.CmdNavTakeoff {
		st.relAlt = math.Min(alt, st.relAlt+2.5*dt)
		if st.relAlt >= alt {
			st.currentWp++
		}
		return
	}
	if s.flyToward(lat, lon, alt, dt) {
		st.currentWp++
		if st.currentWp >= len(st.mission) {
			st.missionActive = false
			st.mode = mavlink.ModeLoiter
			st.speed = 0
		}
	}
}

// flyToward steps the position at cruise speed and reports arrival.
// Caller holds s.mu.
func (s *SimTransport) flyToward(lat, lon, alt float64, dt float64) bool {
	st := &s.st
	dlat := lat - st.lat
	dlon := lon - st.lon
	dist := math.Sqrt(dlat*dlat + dlon*dlon)
	step := simDegPerSec * dt

	altDiff := alt - st.relAlt
	if math.Abs(altDiff) < 0.5 {
		st.relAlt = alt
	} else {
		st.relAlt += altDiff * 0.2 * dt
	}

	if dist <= step*1.5 {
		st.lat = lat
		st.lon = lon
		st.speed = 0
		return true
	}
	st.lat += dlat / dist * step
	st.lon += dlon / dist * step
	st.heading = math.Mod(math.Atan2(dlon, dlat)*180/math.Pi+360, 360)
	st.speed = 2.5
	return false
}

func (s *SimTransport) emitTelemetry() {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	baseMode := byte(mavlink.ModeFlagCustomModeEnabled)
	if st.armed {
		baseMode |= mavlink.ModeFlagSafetyArmed
	}
	sysState := byte(3) // STANDBY
	if st.armed {
		sysState = 4 // ACTIVE
	}
	s.send(&mavlink.Heartbeat{
		CustomMode:     st.mode,
		Type:           mavlink.TypeQuadrotor,
		Autopilot:      mavlink.AutopilotArdupilot,
		BaseMode:       baseMode,
		SystemStatus:   sysState,
		MavlinkVersion: 3,
	})
	s.send(&mavlink.GlobalPositionInt{
		Lat:         int32(st.lat * 1e7),
		Lon:         int32(st.lon * 1e7),
		Alt:         int32((st.homeAlt + st.relAlt) * 1000),
		RelativeAlt: int32(st.relAlt * 1000),
		Vx:          int16(st.speed * 100),
		Hdg:         uint16(st.heading * 100),
	})
	s.send(&mavlink.GPSRawInt{
		Lat:        int32(st.lat * 1e7),
		Lon:        int32(st.lon * 1e7),
		Alt:        int32((st.homeAlt + st.relAlt) * 1000),
		Eph:        uint16(st.hdopCm),
		FixType:    uint8(st.fixType),
		Satellites: uint8(st.satellites),
	})
	s.send(&mavlink.Attitude{})
	s.send(&mavlink.SysStatus{
		VoltageBattery:   uint16(st.batteryV * 1000),
		CurrentBattery:   1200,
		BatteryRemaining: int8(st.batteryPct),
	})
	s.send(&mavlink.VFRHud{
		GroundSpeed: float32(st.speed),
		Alt:         float32(st.relAlt),
		Heading:     int16(st.heading),
	})
	if len(st.mission) > 0 {
		s.send(&mavlink.MissionCurrent{Seq: uint16(st.currentWp)})
	}
}

func (s *SimTransport) commandLoop() {
	defer s.wg.Done()
	dec := mavlink.NewDecoder(s.inR)
	for {
		frame, err := dec.Next()
		if err != nil {
			return
		}
		msg, err := mavlink.DecodeMessage(frame)
		if err != nil {
			continue
		}
		switch m := msg.(type) {
		case *mavlink.CommandLong:
			s.handleCommand(m)
		case *mavlink.MissionCount:
			s.handleMissionCount(m)
		case *mavlink.MissionItemInt:
			s.handleMissionItem(m)
		}
	}
}

func (s *SimTransport) handleCommand(cmd *mavlink.CommandLong) {
	result := uint8(mavlink.ResultAccepted)
	s.mu.Lock()
	st := &s.st
	switch cmd.Command {
	case mavlink.CmdComponentArmDisarm:
		if cmd.Param1 > 0 {
			if st.armDenied {
				result = mavlink.ResultDenied
			} else {
				st.armed = true
			}
		} else {
			st.armed = false
			st.takeoffTarget = 0
		}
	case mavlink.CmdDoSetMode:
		st.mode = uint32(cmd.Param2)
		switch st.mode {
		case mavlink.ModeAuto:
			if len(st.mission) > 0 {
				st.missionActive = true
			}
		case mavlink.ModeLoiter:
			st.missionActive = false
		case mavlink.ModeRTL:
			st.missionActive = false
			st.gotoActive = true
			st.gotoLat = 12.9716 + float64(s.vehicleID)*0.001
			st.gotoLon = 77.5946 + float64(s.vehicleID)*0.001
			st.gotoAlt = 0
		}
	case mavlink.CmdNavTakeoff:
		if st.armed {
			st.takeoffTarget = float64(cmd.Param7)
		} else {
			result = mavlink.ResultDenied
		}
	case mavlink.CmdNavLand:
		st.mode = mavlink.ModeLand
		st.takeoffTarget = 0
	case mavlink.CmdNavWaypoint:
		// Guided goto: p5/p6 carry degrees, p7 relative altitude.
		if st.armed {
			st.gotoActive = true
			st.gotoLat = float64(cmd.Param5)
			st.gotoLon = float64(cmd.Param6)
			st.gotoAlt = float64(cmd.Param7)
		} else {
			result = mavlink.ResultDenied
		}
	case mavlink.CmdSetMessageInterval:
		// Stream rates are fixed in the simulator.
	}
	s.mu.Unlock()
	s.send(&mavlink.CommandAck{Command: cmd.Command, Result: result})
}

func (s *SimTransport) handleMissionCount(m *mavlink.MissionCount) {
	s.mu.Lock()
	s.st.expectItems = int(m.Count)
	s.st.gotItems = make([]*mavlink.MissionItemInt, m.Count)
	s.mu.Unlock()
	s.send(&mavlink.MissionRequest{Seq: 0, TargetSystem: DefaultSystemID, TargetComponent: DefaultComponentID})
}

func (s *SimTransport) handleMissionItem(item *mavlink.MissionItemInt) {
	s.mu.Lock()
	st := &s.st
	if st.expectItems == 0 || int(item.Seq) >= st.expectItems {
		s.mu.Unlock()
		return
	}
	st.gotItems[item.Seq] = item
	next := int(item.Seq) + 1
	done := next >= st.expectItems
	if done {
		st.mission = st.gotItems
		st.currentWp = 0
		st.missionActive = false
		st.expectItems = 0
		st.gotItems = nil
	}
	s.mu.Unlock()

	if done {
		s.send(&mavlink.MissionAck{
			TargetSystem:    DefaultSystemID,
			TargetComponent: DefaultComponentID,
			Type:            mavlink.MissionAccepted,
		})
		return
	}
	s.send(&mavlink.MissionRequest{
		Seq:             uint16(next),
		TargetSystem:    DefaultSystemID,
		TargetComponent: DefaultComponentID,
	})
}
