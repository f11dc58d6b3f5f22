package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaToSteps(t *testing.T) {
	c := Default()

	tests := []struct {
		name  string
		delta int64
		want  int64
	}{
		{"Zero", 0, 0},
		{"FullRevolution", 65536, 3200},
		{"NegativeFullRevolution", -65536, -3200},
		{"Small", 100, 5},
		{"SmallNegative", -50, -2},
		{"HalfRevolution", 32768, 1600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.DeltaToSteps(tt.delta))
		})
	}
}

func TestDeltaToStepsSign(t *testing.T) {
	c := Default()
	for _, d := range []int64{1, 7, 13, 21, 1000, 65535, 1 << 40} {
		assert.GreaterOrEqual(t, c.DeltaToSteps(d), int64(0), "delta %d", d)
		assert.LessOrEqual(t, c.DeltaToSteps(-d), int64(0), "delta %d", -d)
		assert.Equal(t, -c.DeltaToSteps(d), c.DeltaToSteps(-d), "delta %d", d)
	}
	// large enough deltas always produce a non-zero step
	for _, d := range []int64{21, 500, 65536 * 3} {
		assert.Positive(t, c.DeltaToSteps(d))
		assert.Negative(t, c.DeltaToSteps(-d))
	}
}

func TestRevolutionsToSteps(t *testing.T) {
	c := Default()
	assert.Equal(t, int64(6400), c.RevolutionsToSteps(2.0))
	assert.Equal(t, int64(-1600), c.RevolutionsToSteps(-0.5))
	assert.Equal(t, int64(0), c.RevolutionsToSteps(0))
}

func TestPositionToScaled(t *testing.T) {
	c := Default()

	s := c.PositionToScaled(65536)
	assert.InDelta(t, 1.0, s.Revolutions, 1e-9)
	assert.InDelta(t, 3200.0, s.Steps, 1.0)
	assert.InDelta(t, 360.0, s.Degrees, 1e-9)

	s = c.PositionToScaled(-16384)
	assert.InDelta(t, -0.25, s.Revolutions, 1e-9)
	assert.InDelta(t, -800.0, s.Steps, 1e-9)
	assert.InDelta(t, -90.0, s.Degrees, 1e-9)
}
