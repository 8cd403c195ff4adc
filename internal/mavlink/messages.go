package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Message ids consumed by the broker.
const (
	MsgIDHeartbeat         = 0
	MsgIDSysStatus         = 1
	MsgIDGPSRawInt         = 24
	MsgIDAttitude          = 30
	MsgIDGlobalPositionInt = 33
	MsgIDServoOutputRaw    = 36
	MsgIDMissionRequest    = 40
	MsgIDMissionCurrent    = 42
	MsgIDMissionCount      = 44
	MsgIDMissionAck        = 47
	MsgIDMissionRequestInt = 51
	MsgIDMissionItemInt    = 73
	MsgIDVFRHud            = 74
	MsgIDCommandLong       = 76
	MsgIDCommandAck        = 77
	MsgIDBatteryStatus     = 147
	MsgIDStatusText        = 253
)

// MAV_CMD codes used by the command router and mission uploader.
const (
	CmdNavWaypoint         = 16
	CmdNavLand             = 21
	CmdNavTakeoff          = 22
	CmdNavReturnToLaunch   = 20
	CmdDoSetMode           = 176
	CmdComponentArmDisarm  = 400
	CmdSetMessageInterval  = 511
)

// MAV_RESULT values of a command acknowledgment.
const (
	ResultAccepted            = 0
	ResultTemporarilyRejected = 1
	ResultDenied              = 2
	ResultUnsupported         = 3
	ResultFailed              = 4
	ResultInProgress          = 5
	ResultCancelled           = 6
)

// MAV_MISSION_RESULT values of a mission acknowledgment.
const (
	MissionAccepted = 0
	MissionError    = 1
)

// Heartbeat base_mode flags and identity constants.
const (
	ModeFlagCustomModeEnabled = 1
	ModeFlagSafetyArmed       = 128

	TypeQuadrotor      = 2
	TypeGCS            = 6
	AutopilotArdupilot = 3
	AutopilotInvalid   = 8
)

// Coordinate frames for mission items.
const (
	FrameGlobalRelativeAlt    = 3
	FrameGlobalRelativeAltInt = 6
)

// Message is a decoded MAVLink payload.
type Message interface {
	ID() uint32
	Marshal() []byte
}

// DecodeMessage converts a validated frame into its typed message.
func DecodeMessage(f *Frame) (Message, error) {
	p := f.Payload
	switch f.MsgID {
	case MsgIDHeartbeat:
		return unmarshalHeartbeat(p), nil
	case MsgIDSysStatus:
		return unmarshalSysStatus(p), nil
	case MsgIDGPSRawInt:
		return unmarshalGPSRawInt(p), nil
	case MsgIDAttitude:
		return unmarshalAttitude(p), nil
	case MsgIDGlobalPositionInt:
		return unmarshalGlobalPositionInt(p), nil
	case MsgIDServoOutputRaw:
		return unmarshalServoOutputRaw(p), nil
	case MsgIDMissionRequest:
		m := unmarshalMissionRequest(p)
		return &m, nil
	case MsgIDMissionRequestInt:
		m := unmarshalMissionRequest(p)
		m.Int = true
		return &m, nil
	case MsgIDMissionCurrent:
		return &MissionCurrent{Seq: binary.LittleEndian.Uint16(p)}, nil
	case MsgIDMissionCount:
		return unmarshalMissionCount(p), nil
	case MsgIDMissionAck:
		return &MissionAck{TargetSystem: p[0], TargetComponent: p[1], Type: p[2]}, nil
	case MsgIDMissionItemInt:
		return unmarshalMissionItemInt(p), nil
	case MsgIDVFRHud:
		return unmarshalVFRHud(p), nil
	case MsgIDCommandLong:
		return unmarshalCommandLong(p), nil
	case MsgIDCommandAck:
		return &CommandAck{Command: binary.LittleEndian.Uint16(p), Result: p[2]}, nil
	case MsgIDBatteryStatus:
		return unmarshalBatteryStatus(p), nil
	case MsgIDStatusText:
		return unmarshalStatusText(p), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, f.MsgID)
	}
}

// wbuf is a little-endian payload writer.
type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8)    { w.b = append(w.b, v) }
func (w *wbuf) i8(v int8)     { w.b = append(w.b, byte(v)) }
func (w *wbuf) u16(v uint16)  { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *wbuf) i16(v int16)   { w.u16(uint16(v)) }
func (w *wbuf) u32(v uint32)  { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *wbuf) i32(v int32)   { w.u32(uint32(v)) }
func (w *wbuf) u64(v uint64)  { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *wbuf) f32(v float32) { w.u32(math.Float32bits(v)) }

// rbuf is a little-endian payload reader over a zero-extended payload.
type rbuf struct {
	b   []byte
	off int
}

func (r *rbuf) u8() uint8 { v := r.b[r.off]; r.off++; return v }
func (r *rbuf) i8() int8  { return int8(r.u8()) }
func (r *rbuf) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}
func (r *rbuf) i16() int16 { return int16(r.u16()) }
func (r *rbuf) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}
func (r *rbuf) i32() int32 { return int32(r.u32()) }
func (r *rbuf) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}
func (r *rbuf) f32() float32 { return math.Float32frombits(r.u32()) }

// Heartbeat (id 0).
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (m *Heartbeat) ID() uint32 { return MsgIDHeartbeat }
func (m *Heartbeat) Marshal() []byte {
	w := &wbuf{}
	w.u32(m.CustomMode)
	w.u8(m.Type)
	w.u8(m.Autopilot)
	w.u8(m.BaseMode)
	w.u8(m.SystemStatus)
	w.u8(m.MavlinkVersion)
	return w.b
}

// Armed reports the safety-armed flag of the base mode.
func (m *Heartbeat) Armed() bool { return m.BaseMode&ModeFlagSafetyArmed != 0 }

func unmarshalHeartbeat(p []byte) *Heartbeat {
	r := &rbuf{b: p}
	return &Heartbeat{
		CustomMode:     r.u32(),
		Type:           r.u8(),
		Autopilot:      r.u8(),
		BaseMode:       r.u8(),
		SystemStatus:   r.u8(),
		MavlinkVersion: r.u8(),
	}
}

// SysStatus (id 1). Battery fields carry mV, cA and percent.
type SysStatus struct {
	SensorsPresent   uint32
	SensorsEnabled   uint32
	SensorsHealth    uint32
	Load             uint16
	VoltageBattery   uint16 // mV
	CurrentBattery   int16  // cA, -1 when unknown
	DropRateComm     uint16
	ErrorsComm       uint16
	ErrorsCount      [4]uint16
	BatteryRemaining int8 // percent, -1 when unknown
}

func (m *SysStatus) ID() uint32 { return MsgIDSysStatus }
func (m *SysStatus) Marshal() []byte {
	w := &wbuf{}
	w.u32(m.SensorsPresent)
	w.u32(m.SensorsEnabled)
	w.u32(m.SensorsHealth)
	w.u16(m.Load)
	w.u16(m.VoltageBattery)
	w.i16(m.CurrentBattery)
	w.u16(m.DropRateComm)
	w.u16(m.ErrorsComm)
	for _, e := range m.ErrorsCount {
		w.u16(e)
	}
	w.i8(m.BatteryRemaining)
	return w.b
}

func unmarshalSysStatus(p []byte) *SysStatus {
	r := &rbuf{b: p}
	m := &SysStatus{
		SensorsPresent: r.u32(),
		SensorsEnabled: r.u32(),
		SensorsHealth:  r.u32(),
		Load:           r.u16(),
		VoltageBattery: r.u16(),
		CurrentBattery: r.i16(),
		DropRateComm:   r.u16(),
		ErrorsComm:     r.u16(),
	}
	for i := range m.ErrorsCount {
		m.ErrorsCount[i] = r.u16()
	}
	m.BatteryRemaining = r.i8()
	return m
}

// GPSRawInt (id 24). Lat/lon are degrees * 1e7, alt is mm, eph is HDOP * 100.
type GPSRawInt struct {
	TimeUsec   uint64
	Lat        int32
	Lon        int32
	Alt        int32
	Eph        uint16
	Epv        uint16
	Vel        uint16
	Cog        uint16
	FixType    uint8
	Satellites uint8
}

func (m *GPSRawInt) ID() uint32 { return MsgIDGPSRawInt }
func (m *GPSRawInt) Marshal() []byte {
	w := &wbuf{}
	w.u64(m.TimeUsec)
	w.i32(m.Lat)
	w.i32(m.Lon)
	w.i32(m.Alt)
	w.u16(m.Eph)
	w.u16(m.Epv)
	w.u16(m.Vel)
	w.u16(m.Cog)
	w.u8(m.FixType)
	w.u8(m.Satellites)
	return w.b
}

func unmarshalGPSRawInt(p []byte) *GPSRawInt {
	r := &rbuf{b: p}
	return &GPSRawInt{
		TimeUsec:   r.u64(),
		Lat:        r.i32(),
		Lon:        r.i32(),
		Alt:        r.i32(),
		Eph:        r.u16(),
		Epv:        r.u16(),
		Vel:        r.u16(),
		Cog:        r.u16(),
		FixType:    r.u8(),
		Satellites: r.u8(),
	}
}

// Attitude (id 30). Angles in radians, rates in rad/s.
type Attitude struct {
	TimeBootMs uint32
	Roll       float32
	Pitch      float32
	Yaw        float32
	RollSpeed  float32
	PitchSpeed float32
	YawSpeed   float32
}

func (m *Attitude) ID() uint32 { return MsgIDAttitude }
func (m *Attitude) Marshal() []byte {
	w := &wbuf{}
	w.u32(m.TimeBootMs)
	w.f32(m.Roll)
	w.f32(m.Pitch)
	w.f32(m.Yaw)
	w.f32(m.RollSpeed)
	w.f32(m.PitchSpeed)
	w.f32(m.YawSpeed)
	return w.b
}

func unmarshalAttitude(p []byte) *Attitude {
	r := &rbuf{b: p}
	return &Attitude{
		TimeBootMs: r.u32(),
		Roll:       r.f32(),
		Pitch:      r.f32(),
		Yaw:        r.f32(),
		RollSpeed:  r.f32(),
		PitchSpeed: r.f32(),
		YawSpeed:   r.f32(),
	}
}

// GlobalPositionInt (id 33). Positions deg*1e7, altitudes mm, speeds cm/s,
// heading centidegrees (65535 when unknown).
type GlobalPositionInt struct {
	TimeBootMs  uint32
	Lat         int32
	Lon         int32
	Alt         int32
	RelativeAlt int32
	Vx          int16
	Vy          int16
	Vz          int16
	Hdg         uint16
}

func (m *GlobalPositionInt) ID() uint32 { return MsgIDGlobalPositionInt }
func (m *GlobalPositionInt) Marshal() []byte {
	w := &wbuf{}
	w.u32(m.TimeBootMs)
	w.i32(m.Lat)
	w.i32(m.Lon)
	w.i32(m.Alt)
	w.i32(m.RelativeAlt)
	w.i16(m.Vx)
	w.i16(m.Vy)
	w.i16(m.Vz)
	w.u16(m.Hdg)
	return w.b
}

func unmarshalGlobalPositionInt(p []byte) *GlobalPositionInt {
	r := &rbuf{b: p}
	return &GlobalPositionInt{
		TimeBootMs:  r.u32(),
		Lat:         r.i32(),
		Lon:         r.i32(),
		Alt:         r.i32(),
		RelativeAlt: r.i32(),
		Vx:          r.i16(),
		Vy:          r.i16(),
		Vz:          r.i16(),
		Hdg:         r.u16(),
	}
}

// ServoOutputRaw (id 36). Raw PWM values of the first eight outputs.
type ServoOutputRaw struct {
	TimeUsec uint32
	Servo    [8]uint16
	Port     uint8
}

func (m *ServoOutputRaw) ID() uint32 { return MsgIDServoOutputRaw }
func (m *ServoOutputRaw) Marshal() []byte {
	w := &wbuf{}
	w.u32(m.TimeUsec)
	for _, s := range m.Servo {
		w.u16(s)
	}
	w.u8(m.Port)
	return w.b
}

func unmarshalServoOutputRaw(p []byte) *ServoOutputRaw {
	r := &rbuf{b: p}
	m := &ServoOutputRaw{TimeUsec: r.u32()}
	for i := range m.Servo {
		m.Servo[i] = r.u16()
	}
	m.Port = r.u8()
	return m
}

// MissionRequest (ids 40 and 51). The vehicle asks for one mission item.
type MissionRequest struct {
	Seq             uint16
	TargetSystem    uint8
	TargetComponent uint8
	Int             bool // true when received as MISSION_REQUEST_INT (51)
}

func (m *MissionRequest) ID() uint32 {
	if m.Int {
		return MsgIDMissionRequestInt
	}
	return MsgIDMissionRequest
}

func (m *MissionRequest) Marshal() []byte {
	w := &wbuf{}
	w.u16(m.Seq)
	w.u8(m.TargetSystem)
	w.u8(m.TargetComponent)
	return w.b
}

func unmarshalMissionRequest(p []byte) MissionRequest {
	r := &rbuf{b: p}
	return MissionRequest{Seq: r.u16(), TargetSystem: r.u8(), TargetComponent: r.u8()}
}

// MissionCurrent (id 42). Sequence number of the active mission item.
type MissionCurrent struct {
	Seq uint16
}

func (m *MissionCurrent) ID() uint32 { return MsgIDMissionCurrent }
func (m *MissionCurrent) Marshal() []byte {
	w := &wbuf{}
	w.u16(m.Seq)
	return w.b
}

// MissionCount (id 44). Announces an upload of Count items.
type MissionCount struct {
	Count           uint16
	TargetSystem    uint8
	TargetComponent uint8
}

func (m *MissionCount) ID() uint32 { return MsgIDMissionCount }
func (m *MissionCount) Marshal() []byte {
	w := &wbuf{}
	w.u16(m.Count)
	w.u8(m.TargetSystem)
	w.u8(m.TargetComponent)
	return w.b
}

func unmarshalMissionCount(p []byte) *MissionCount {
	r := &rbuf{b: p}
	return &MissionCount{Count: r.u16(), TargetSystem: r.u8(), TargetComponent: r.u8()}
}

// MissionAck (id 47). Type 0 is accepted; anything else is a rejection code.
type MissionAck struct {
	TargetSystem    uint8
	TargetComponent uint8
	Type            uint8
}

func (m *MissionAck) ID() uint32 { return MsgIDMissionAck }
func (m *MissionAck) Marshal() []byte {
	return []byte{m.TargetSystem, m.TargetComponent, m.Type}
}

// MissionItemInt (id 73). One mission item with scaled-integer coordinates.
type MissionItemInt struct {
	Param1          float32
	Param2          float32
	Param3          float32
	Param4          float32
	X               int32 // latitude * 1e7
	Y               int32 // longitude * 1e7
	Z               float32
	Seq             uint16
	Command         uint16
	TargetSystem    uint8
	TargetComponent uint8
	Frame           uint8
	Current         uint8
	Autocontinue    uint8
}

func (m *MissionItemInt) ID() uint32 { return MsgIDMissionItemInt }
func (m *MissionItemInt) Marshal() []byte {
	w := &wbuf{}
	w.f32(m.Param1)
	w.f32(m.Param2)
	w.f32(m.Param3)
	w.f32(m.Param4)
	w.i32(m.X)
	w.i32(m.Y)
	w.f32(m.Z)
	w.u16(m.Seq)
	w.u16(m.Command)
	w.u8(m.TargetSystem)
	w.u8(m.TargetComponent)
	w.u8(m.Frame)
	w.u8(m.Current)
	w.u8(m.Autocontinue)
	return w.b
}

func unmarshalMissionItemInt(p []byte) *MissionItemInt {
	r := &rbuf{b: p}
	return &MissionItemInt{
		Param1:          r.f32(),
		Param2:          r.f32(),
		Param3:          r.f32(),
		Param4:          r.f32(),
		X:               r.i32(),
		Y:               r.i32(),
		Z:               r.f32(),
		Seq:             r.u16(),
		Command:         r.u16(),
		TargetSystem:    r.u8(),
		TargetComponent: r.u8(),
		Frame:           r.u8(),
		Current:         r.u8(),
		Autocontinue:    r.u8(),
	}
}

// VFRHud (id 74). Speeds m/s, altitude m, heading degrees, throttle percent.
type VFRHud struct {
	AirSpeed    float32
	GroundSpeed float32
	Alt         float32
	Climb       float32
	Heading     int16
	Throttle    uint16
}

func (m *VFRHud) ID() uint32 { return MsgIDVFRHud }
func (m *VFRHud) Marshal() []byte {
	w := &wbuf{}
	w.f32(m.AirSpeed)
	w.f32(m.GroundSpeed)
	w.f32(m.Alt)
	w.f32(m.Climb)
	w.i16(m.Heading)
	w.u16(m.Throttle)
	return w.b
}

func unmarshalVFRHud(p []byte) *VFRHud {
	r := &rbuf{b: p}
	return &VFRHud{
		AirSpeed:    r.f32(),
		GroundSpeed: r.f32(),
		Alt:         r.f32(),
		Climb:       r.f32(),
		Heading:     r.i16(),
		Throttle:    r.u16(),
	}
}

// CommandLong (id 76). One command with seven float parameters.
type CommandLong struct {
	Param1          float32
	Param2          float32
	Param3          float32
	Param4          float32
	Param5          float32
	Param6          float32
	Param7          float32
	Command         uint16
	TargetSystem    uint8
	TargetComponent uint8
	Confirmation    uint8
}

func (m *CommandLong) ID() uint32 { return MsgIDCommandLong }
func (m *CommandLong) Marshal() []byte {
	w := &wbuf{}
	w.f32(m.Param1)
	w.f32(m.Param2)
	w.f32(m.Param3)
	w.f32(m.Param4)
	w.f32(m.Param5)
	w.f32(m.Param6)
	w.f32(m.Param7)
	w.u16(m.Command)
	w.u8(m.TargetSystem)
	w.u8(m.TargetComponent)
	w.u8(m.Confirmation)
	return w.b
}

func unmarshalCommandLong(p []byte) *CommandLong {
	r := &rbuf{b: p}
	return &CommandLong{
		Param1:          r.f32(),
		Param2:          r.f32(),
		Param3:          r.f32(),
		Param4:          r.f32(),
		Param5:          r.f32(),
		Param6:          r.f32(),
		Param7:          r.f32(),
		Command:         r.u16(),
		TargetSystem:    r.u8(),
		TargetComponent: r.u8(),
		Confirmation:    r.u8(),
	}
}

// CommandAck (id 77).
type CommandAck struct {
	Command uint16
	Result  uint8
}

func (m *CommandAck) ID() uint32 { return MsgIDCommandAck }
func (m *CommandAck) Marshal() []byte {
	w := &wbuf{}
	w.u16(m.Command)
	w.u8(m.Result)
	return w.b
}

// BatteryStatus (id 147). Voltages in mV per cell (65535 = unused slot).
type BatteryStatus struct {
	CurrentConsumed  int32
	EnergyConsumed   int32
	Temperature      int16
	Voltages         [10]uint16
	CurrentBattery   int16
	BatteryID        uint8
	BatteryFunction  uint8
	BatteryType      uint8
	BatteryRemaining int8
}

func (m *BatteryStatus) ID() uint32 { return MsgIDBatteryStatus }
func (m *BatteryStatus) Marshal() []byte {
	w := &wbuf{}
	w.i32(m.CurrentConsumed)
	w.i32(m.EnergyConsumed)
	w.i16(m.Temperature)
	for _, v := range m.Voltages {
		w.u16(v)
	}
	w.i16(m.CurrentBattery)
	w.u8(m.BatteryID)
	w.u8(m.BatteryFunction)
	w.u8(m.BatteryType)
	w.i8(m.BatteryRemaining)
	return w.b
}

func unmarshalBatteryStatus(p []byte) *BatteryStatus {
	r := &rbuf{b: p}
	m := &BatteryStatus{
		CurrentConsumed: r.i32(),
		EnergyConsumed:  r.i32(),
		Temperature:     r.i16(),
	}
	for i := range m.Voltages {
		m.Voltages[i] = r.u16()
	}
	m.CurrentBattery = r.i16()
	m.BatteryID = r.u8()
	m.BatteryFunction = r.u8()
	m.BatteryType = r.u8()
	m.BatteryRemaining = r.i8()
	return m
}

// StatusText (id 253). Free-form text with severity; text is NUL-padded to 50.
type StatusText struct {
	Severity uint8
	Text     string
}

func (m *StatusText) ID() uint32 { return MsgIDStatusText }
func (m *StatusText) Marshal() []byte {
	w := &wbuf{}
	w.u8(m.Severity)
	text := m.Text
	if len(text) > 50 {
		text = text[:50]
	}
	buf := make([]byte, 50)
	copy(buf, text)
	w.b = append(w.b, buf...)
	return w.b
}

func unmarshalStatusText(p []byte) *StatusText {
	text := strings.TrimRight(string(p[1:51]), "\x00")
	return &StatusText{Severity: p[0], Text: text}
}
