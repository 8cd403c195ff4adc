package mavlink

import "fmt"

// ArduCopter custom flight-mode numbers.
const (
	ModeStabilize = 0
	ModeAcro      = 1
	ModeAltHold   = 2
	ModeAuto      = 3
	ModeGuided    = 4
	ModeLoiter    = 5
	ModeRTL       = 6
	ModeCircle    = 7
	ModeLand      = 9
	ModePosHold   = 16
	ModeBrake     = 17
)

var modeNames = map[uint32]string{
	ModeStabilize: "STABILIZE",
	ModeAcro:      "ACRO",
	ModeAltHold:   "ALT_HOLD",
	ModeAuto:      "AUTO",
	ModeGuided:    "GUIDED",
	ModeLoiter:    "LOITER",
	ModeRTL:       "RTL",
	ModeCircle:    "CIRCLE",
	ModeLand:      "LAND",
	ModePosHold:   "POSHOLD",
	ModeBrake:     "BRAKE",
}

var modeNumbers = func() map[string]uint32 {
	m := make(map[string]uint32, len(modeNames))
	for n, name := range modeNames {
		m[name] = n
	}
	return m
}()

// ModeName decodes a custom-mode number into its symbolic name.
// Unknown numbers come back as "MODE_<n>".
func ModeName(customMode uint32) string {
	if name, ok := modeNames[customMode]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", customMode)
}

// ModeNumber resolves a symbolic mode name (case-insensitive via caller
// upper-casing) to its custom-mode number.
func ModeNumber(name string) (uint32, bool) {
	n, ok := modeNumbers[name]
	return n, ok
}

// MAV_STATE symbols, indexed by the heartbeat system_status field.
var systemStates = []string{
	"UNINIT", "BOOT", "CALIBRATING", "STANDBY", "ACTIVE",
	"CRITICAL", "EMERGENCY", "POWEROFF", "FLIGHT_TERMINATION",
}

// SystemStateName decodes the heartbeat system_status field.
func SystemStateName(state uint8) string {
	if int(state) < len(systemStates) {
		return systemStates[state]
	}
	return fmt.Sprintf("STATE_%d", state)
}
