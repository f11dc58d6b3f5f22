// Package units converts between the controller's encoder counts, driver steps and degrees.
package units

import "math"

const (
	DefaultCountsPerRev = 65536.0
	DefaultStepsPerRev  = 3200.0
)

// Converter holds the fixed ratios of the rig. The zero value is not usable, use New or Default
type Converter struct {
	CountsPerRev float64
	StepsPerRev  float64
}

// Scaled is a position expressed in every derived unit. It is computed from the raw
// encoder count and never stored as the source of truth
type Scaled struct {
	Revolutions float64
	Steps       float64
	Degrees     float64
}

// New creates a Converter for the given encoder and driver resolutions
func New(countsPerRev, stepsPerRev float64) Converter {
	return Converter{CountsPerRev: countsPerRev, StepsPerRev: stepsPerRev}
}

// Default returns the converter for a 16-bit encoder and a 3200 step/rev driver
func Default() Converter {
	return New(DefaultCountsPerRev, DefaultStepsPerRev)
}

// DeltaToSteps converts a change in encoder counts to a signed number of driver steps
func (c Converter) DeltaToSteps(deltaCounts int64) int64 {
	return int64(math.Round(float64(deltaCounts) / c.CountsPerRev * c.StepsPerRev))
}

// RevolutionsToSteps converts a requested number of revolutions to signed driver steps
func (c Converter) RevolutionsToSteps(revs float64) int64 {
	return int64(math.Round(revs * c.StepsPerRev))
}

// PositionToScaled converts an absolute encoder position
func (c Converter) PositionToScaled(pos int64) Scaled {
	rev := float64(pos) / c.CountsPerRev
	return Scaled{
		Revolutions: rev,
		Steps:       rev * c.StepsPerRev,
		Degrees:     rev * 360.0,
	}
}
