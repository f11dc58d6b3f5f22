package commands

import (
	"fmt"

	"github.com/calvinmclean/pbdgate"
	"github.com/mitchellh/mapstructure"
)

// Input is one decoded command object. Numbers are kept as json.Number until decoded into
// typed arguments
type Input map[string]any

// Decode copies the input into a typed argument struct. Pointer fields stay nil when the
// field is absent so required fields can be detected
func (in Input) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("error creating decoder: %w", err)
	}

	err = dec.Decode(map[string]any(in))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil
}

func (in Input) String(key string) string {
	s, _ := in[key].(string)
	return s
}

func required[T any](field string, v *T) (T, error) {
	if v == nil {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrMissingField, field)
	}
	return *v, nil
}

func requiredAxis(field string, v *int) (pbdgate.Axis, error) {
	n, err := required(field, v)
	if err != nil {
		return pbdgate.AxisNone, err
	}
	return pbdgate.ParseAxis(n)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q", ErrInvalidValue, field, value)
}

type moveArgs struct {
	Axis  *int    `mapstructure:"eje"`
	Dir   *int    `mapstructure:"dir"`
	Steps *uint64 `mapstructure:"pasos"`
}

type stateArgs struct {
	State *string `mapstructure:"state"`
}

type actionArgs struct {
	Action *string `mapstructure:"action"`
}

type angleArgs struct {
	Angle *int `mapstructure:"angle"`
}

type axisArgs struct {
	Axis *int `mapstructure:"axis"`
}

type axesArgs struct {
	Axes []int `mapstructure:"axes"`
}

type revolutionsArgs struct {
	Axis *int     `mapstructure:"eje"`
	Dir  *int     `mapstructure:"dir"`
	Revs *float64 `mapstructure:"revs"`
}
