package mavlink

import "testing"

func TestModeNames(t *testing.T) {
	cases := []struct {
		num  uint32
		name string
	}{
		{ModeStabilize, "STABILIZE"},
		{ModeAcro, "ACRO"},
		{ModeAltHold, "ALT_HOLD"},
		{ModeAuto, "AUTO"},
		{ModeGuided, "GUIDED"},
		{ModeLoiter, "LOITER"},
		{ModeRTL, "RTL"},
		{ModeCircle, "CIRCLE"},
		{ModeLand, "LAND"},
		{ModePosHold, "POSHOLD"},
		{ModeBrake, "BRAKE"},
	}
	for _, tc := range cases {
		if got := ModeName(tc.num); got != tc.name {
			t.Errorf("ModeName(%d) = %q, want %q", tc.num, got, tc.name)
		}
		num, ok := ModeNumber(tc.name)
		if !ok || num != tc.num {
			t.Errorf("ModeNumber(%q) = %d,%v, want %d", tc.name, num, ok, tc.num)
		}
	}
}

func TestModeNameFallback(t *testing.T) {
	if got := ModeName(42); got != "MODE_42" {
		t.Errorf("ModeName(42) = %q, want MODE_42", got)
	}
	if _, ok := ModeNumber("WARP"); ok {
		t.Error("ModeNumber accepted an unknown name")
	}
}

func TestSystemStateName(t *testing.T) {
	cases := map[uint8]string{
		0: "UNINIT",
		3: "STANDBY",
		4: "ACTIVE",
	}
	for num, want := range cases {
		if got := SystemStateName(num); got != want {
			t.Errorf("SystemStateName(%d) = %q, want %q", num, got, want)
		}
	}
}
