package pbdgate

import "fmt"

// Fixed lines of the controller's text grammar
const (
	PBDStart    = "pbd start"
	PBDStop     = "pbd stop"
	RecordStop  = "record stop"
	StateOn     = "on"
	StateOff    = "off"
	ActionOpen  = "open"
	ActionClose = "close"
)

// MoveLine formats "move <axis> <steps> <f|b>"
func MoveLine(axis Axis, steps uint64, dir Direction) string {
	return fmt.Sprintf("move %d %d %s", int(axis), steps, dir.Char())
}

// RecordStartLine formats "record start <axis>"
func RecordStartLine(axis Axis) string {
	return fmt.Sprintf("record start %d", int(axis))
}

// PumpLine formats "bomba <on|off>"
func PumpLine(state string) string {
	return "bomba " + state
}

// SolenoidLine formats "solenoide <on|off>"
func SolenoidLine(state string) string {
	return "solenoide " + state
}

// EffectorLine formats "efector <open|close>"
func EffectorLine(action string) string {
	return "efector " + action
}

// RotateEffectorLine formats "rotarEfector <angle>"
func RotateEffectorLine(angle int) string {
	return fmt.Sprintf("rotarEfector %d", angle)
}
