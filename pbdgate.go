package pbdgate

import (
	"errors"
	"fmt"
)

// Version is set at build time with -ldflags "-X github.com/calvinmclean/pbdgate.Version=..."
var Version = "dev"

// ErrInvalidAxis is returned for any axis identifier outside of 1-3
var ErrInvalidAxis = errors.New("invalid axis")

// Axis identifies one of the three motor joints on the rig
type Axis int

const (
	AxisNone Axis = iota
	Axis1
	Axis2
	Axis3
)

// NumAxes is the number of axes every axis-indexed structure is sized for
const NumAxes = 3

// AllAxes is the default visitation order for multi-axis playback
var AllAxes = []Axis{Axis1, Axis2, Axis3}

// ParseAxis converts a raw identifier from the wire into an Axis
func ParseAxis(n int) (Axis, error) {
	a := Axis(n)
	if !a.Valid() {
		return AxisNone, fmt.Errorf("%w: %d", ErrInvalidAxis, n)
	}
	return a, nil
}

// Valid reports whether the axis is one of 1, 2 or 3
func (a Axis) Valid() bool {
	return a >= Axis1 && a <= Axis3
}

// Index returns the zero-based slot used by fixed-size per-axis arrays
func (a Axis) Index() int {
	return int(a) - 1
}

func (a Axis) String() string {
	if !a.Valid() {
		return "Unknown"
	}
	return fmt.Sprintf("%d", int(a))
}

// Direction is the motor direction in the serial grammar
type Direction int

const (
	Backward Direction = iota
	Forward
)

// DirectionFromFlag maps the wire "dir" field: any non-zero value is Forward
func DirectionFromFlag(flag int) Direction {
	if flag != 0 {
		return Forward
	}
	return Backward
}

// Char returns the single character used by the controller's move command
func (d Direction) Char() string {
	if d == Forward {
		return "f"
	}
	return "b"
}

func (d Direction) String() string {
	if d == Forward {
		return "Forward"
	}
	return "Backward"
}

// Reverse flips the direction
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}
