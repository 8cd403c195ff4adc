package mavlink

import (
	"bytes"
	"io"
	"reflect"
	"testing"
)

func encodeFrame(t *testing.T, msg Message, version int) []byte {
	t.Helper()
	f := &Frame{Version: version, Seq: 7, SysID: 1, CompID: 1, MsgID: msg.ID(), Payload: msg.Marshal()}
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("encode id %d: %v", msg.ID(), err)
	}
	return raw
}

func decodeOne(t *testing.T, raw []byte) Message {
	t.Helper()
	dec := NewDecoder(bytes.NewReader(raw))
	f, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, err := DecodeMessage(f)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"heartbeat", &Heartbeat{CustomMode: ModeLoiter, Type: TypeQuadrotor, Autopilot: AutopilotArdupilot, BaseMode: ModeFlagSafetyArmed | ModeFlagCustomModeEnabled, SystemStatus: 4, MavlinkVersion: 3}},
		{"sys_status", &SysStatus{VoltageBattery: 16400, CurrentBattery: 1250, BatteryRemaining: 95}},
		{"gps_raw_int", &GPSRawInt{Lat: 129716000, Lon: 775946000, Alt: 820000, Eph: 120, FixType: 3, Satellites: 12}},
		{"attitude", &Attitude{Roll: 0.05, Pitch: -0.02, Yaw: 1.57}},
		{"global_position_int", &GlobalPositionInt{Lat: 129716000, Lon: 775946000, Alt: 825000, RelativeAlt: 5000, Vx: 250, Hdg: 9000}},
		{"mission_request", &MissionRequest{Seq: 3, TargetSystem: 255, TargetComponent: 190}},
		{"mission_current", &MissionCurrent{Seq: 2}},
		{"mission_count", &MissionCount{Count: 7, TargetSystem: 1, TargetComponent: 1}},
		{"mission_ack", &MissionAck{TargetSystem: 255, TargetComponent: 190, Type: MissionAccepted}},
		{"mission_item_int", &MissionItemInt{X: 232950000, Y: 853100000, Z: 15, Seq: 2, Command: CmdNavWaypoint, TargetSystem: 1, TargetComponent: 1, Frame: FrameGlobalRelativeAltInt, Autocontinue: 1}},
		{"vfr_hud", &VFRHud{AirSpeed: 2.5, GroundSpeed: 2.4, Alt: 15, Climb: 0.5, Heading: 90, Throttle: 55}},
		{"command_long", &CommandLong{Param1: 1, Param7: 10, Command: CmdComponentArmDisarm, TargetSystem: 1, TargetComponent: 1}},
		{"command_ack", &CommandAck{Command: CmdComponentArmDisarm, Result: ResultAccepted}},
		{"statustext", &StatusText{Severity: 6, Text: "DET|ab12|23.295000|85.310000|0.91|1732"}},
	}
	for _, version := range []int{1, 2} {
		for _, tc := range cases {
			got := decodeOne(t, encodeFrame(t, tc.msg, version))
			if !reflect.DeepEqual(got, tc.msg) {
				t.Errorf("v%d %s: got %+v, want %+v", version, tc.name, got, tc.msg)
			}
		}
	}
}

func TestV2TruncationZeroExtends(t *testing.T) {
	// Trailing zero fields must disappear on the wire and come back on decode.
	msg := &GlobalPositionInt{Lat: 129716000, Lon: 775946000}
	raw := encodeFrame(t, msg, 2)
	full := len(msg.Marshal())
	wireLen := int(raw[1])
	if wireLen >= full {
		t.Fatalf("payload not truncated: wire %d, full %d", wireLen, full)
	}
	got := decodeOne(t, raw).(*GlobalPositionInt)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestDecoderRejectsBadCRC(t *testing.T) {
	raw := encodeFrame(t, &MissionCurrent{Seq: 2}, 2)
	raw[len(raw)-1] ^= 0xFF
	dec := NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("want EOF after skipping corrupt frame, got %v", err)
	}
	if dec.BadCRC == 0 {
		t.Error("BadCRC counter not incremented")
	}
}

func TestDecoderResyncsOverNoise(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x42, 0xAA, 0x13) // line noise
	stream = append(stream, encodeFrame(t, &MissionCurrent{Seq: 5}, 2)...)
	dec := NewDecoder(bytes.NewReader(stream))
	f, err := dec.Next()
	if err != nil {
		t.Fatalf("decode after noise: %v", err)
	}
	if f.MsgID != MsgIDMissionCurrent {
		t.Errorf("got id %d, want %d", f.MsgID, MsgIDMissionCurrent)
	}
	if dec.Resyncs == 0 {
		t.Error("Resyncs counter not incremented")
	}
}

func TestDecoderSkipsUnknownIDs(t *testing.T) {
	// Hand-build a v2 frame with an id outside the CRC table; it cannot be
	// CRC-validated, so it must be skipped as unknown.
	frame := []byte{MagicV2, 1, 0, 0, 0, 1, 1, 0xEA, 0x03, 0x00, 0x00, 0x00, 0x00}
	stream := append(frame, encodeFrame(t, &MissionCurrent{Seq: 1}, 2)...)
	dec := NewDecoder(bytes.NewReader(stream))
	f, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.MsgID != MsgIDMissionCurrent {
		t.Errorf("got id %d, want %d", f.MsgID, MsgIDMissionCurrent)
	}
	if dec.Unknown == 0 {
		t.Error("Unknown counter not incremented")
	}
}

func TestStatusTextPadding(t *testing.T) {
	msg := &StatusText{Severity: 4, Text: "short"}
	p := msg.Marshal()
	if len(p) != 51 {
		t.Fatalf("payload length %d, want 51", len(p))
	}
	got := decodeOne(t, encodeFrame(t, msg, 2)).(*StatusText)
	if got.Text != "short" {
		t.Errorf("text %q, want %q", got.Text, "short")
	}
	if got.Severity != 4 {
		t.Errorf("severity %d, want 4", got.Severity)
	}
}

func TestHeartbeatArmed(t *testing.T) {
	hb := &Heartbeat{BaseMode: ModeFlagCustomModeEnabled}
	if hb.Armed() {
		t.Error("unarmed heartbeat reported armed")
	}
	hb.BaseMode |= ModeFlagSafetyArmed
	if !hb.Armed() {
		t.Error("armed heartbeat reported unarmed")
	}
}
