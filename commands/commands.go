// Package commands routes the line-delimited JSON commands received from network clients to the
// serial controller and the PBD engine.
package commands

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/calvinmclean/pbdgate"
)

var (
	ErrMalformed      = errors.New("malformed command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidValue   = errors.New("invalid value")
)

// Command is one entry of the command table. Run validates the input and performs the command,
// returning an error to reject it without broadcasting
type Command struct {
	Name        string
	Run         func(*Router, Input) error
	Description string
}

var (
	MoveCommand = &Command{
		Name: "move",
		Run: func(r *Router, in Input) error {
			var args moveArgs
			err := in.Decode(&args)
			if err != nil {
				return err
			}

			axis, err := requiredAxis("eje", args.Axis)
			if err != nil {
				return err
			}
			dir, err := required("dir", args.Dir)
			if err != nil {
				return err
			}
			steps, err := required("pasos", args.Steps)
			if err != nil {
				return err
			}

			r.send(pbdgate.MoveLine(axis, steps, pbdgate.DirectionFromFlag(dir)))
			return nil
		},
		Description: "Move an axis by a number of steps. Input: eje 1-3, dir 0|1, pasos.",
	}
	PumpCommand = &Command{
		Name: "bomba",
		Run: func(r *Router, in Input) error {
			state, err := decodeState(in)
			if err != nil {
				return err
			}
			r.send(pbdgate.PumpLine(state))
			return nil
		},
		Description: "Switch the vacuum pump. Input: state on|off.",
	}
	SolenoidCommand = &Command{
		Name: "solenoide",
		Run: func(r *Router, in Input) error {
			state, err := decodeState(in)
			if err != nil {
				return err
			}
			r.send(pbdgate.SolenoidLine(state))
			return nil
		},
		Description: "Switch the solenoid valve. Input: state on|off.",
	}
	EffectorCommand = &Command{
		Name: "efector",
		Run: func(r *Router, in Input) error {
			var args actionArgs
			err := in.Decode(&args)
			if err != nil {
				return err
			}
			action, err := required("action", args.Action)
			if err != nil {
				return err
			}
			err = oneOf("action", action, pbdgate.ActionOpen, pbdgate.ActionClose)
			if err != nil {
				return err
			}
			r.send(pbdgate.EffectorLine(action))
			return nil
		},
		Description: "Open or close the end effector. Input: action open|close.",
	}
	RotateEffectorCommand = &Command{
		Name: "rotarEfector",
		Run: func(r *Router, in Input) error {
			var args angleArgs
			err := in.Decode(&args)
			if err != nil {
				return err
			}
			angle, err := required("angle", args.Angle)
			if err != nil {
				return err
			}
			r.send(pbdgate.RotateEffectorLine(angle))
			return nil
		},
		Description: "Rotate the end effector. Input: angle in degrees.",
	}
	PBDCommand = &Command{
		Name: "pbd",
		Run: func(r *Router, in Input) error {
			action := in.String("action")
			a, ok := pbdActions[action]
			if !ok {
				return fmt.Errorf("%w: pbd action %q", ErrUnknownCommand, action)
			}
			return a.Run(r, in)
		},
		Description: "Play-by-demonstration. Input: action and its fields.",
	}
)

// Commands is the command table keyed by the "cmd" field
var Commands = map[string]*Command{
	MoveCommand.Name:           MoveCommand,
	PumpCommand.Name:           PumpCommand,
	SolenoidCommand.Name:       SolenoidCommand,
	EffectorCommand.Name:       EffectorCommand,
	RotateEffectorCommand.Name: RotateEffectorCommand,
	PBDCommand.Name:            PBDCommand,
}

var (
	EnterAction = &Command{
		Name: "enter",
		Run: func(r *Router, _ Input) error {
			r.engine.Enter()
			return nil
		},
		Description: "Put the controller in PBD mode.",
	}
	ExitAction = &Command{
		Name: "exit",
		Run: func(r *Router, _ Input) error {
			r.engine.Exit()
			return nil
		},
		Description: "Leave PBD mode.",
	}
	RecordStartAction = &Command{
		Name: "recstart",
		Run: func(r *Router, in Input) error {
			axis, err := decodeAxis(in)
			if err != nil {
				return err
			}
			return r.engine.StartRecording(axis)
		},
		Description: "Start recording an axis. Input: axis 1-3.",
	}
	RecordStopAction = &Command{
		Name: "recstop",
		Run: func(r *Router, _ Input) error {
			r.engine.StopRecording()
			return nil
		},
		Description: "Stop recording.",
	}
	PlayAction = &Command{
		Name: "play",
		Run: func(r *Router, in Input) error {
			return r.play(in, false)
		},
		Description: "Play an axis trajectory. Input: axis 1-3.",
	}
	PlayReverseAction = &Command{
		Name: "playrev",
		Run: func(r *Router, in Input) error {
			return r.play(in, true)
		},
		Description: "Play an axis trajectory backwards. Input: axis 1-3.",
	}
	PlayAllAction = &Command{
		Name: "play_all",
		Run: func(r *Router, in Input) error {
			return r.playAll(in, false)
		},
		Description: "Play several axes in order. Input: axes, default [1,2,3].",
	}
	PlayReverseAllAction = &Command{
		Name: "playrev_all",
		Run: func(r *Router, in Input) error {
			return r.playAll(in, true)
		},
		Description: "Play several axes backwards in reverse order. Input: axes, default [1,2,3].",
	}
	MoveRevolutionsAction = &Command{
		Name: "move",
		Run: func(r *Router, in Input) error {
			var args revolutionsArgs
			err := in.Decode(&args)
			if err != nil {
				return err
			}

			axis, err := requiredAxis("eje", args.Axis)
			if err != nil {
				return err
			}
			revs, err := required("revs", args.Revs)
			if err != nil {
				return err
			}
			dir := pbdgate.Forward
			if args.Dir != nil {
				dir = pbdgate.DirectionFromFlag(*args.Dir)
			}

			_, err = r.engine.MoveRevolutions(axis, dir, revs)
			return err
		},
		Description: "Timed open-loop move by revolutions. Input: eje 1-3, dir 0|1 (default 1), revs.",
	}
)

var pbdActions = map[string]*Command{
	EnterAction.Name:           EnterAction,
	ExitAction.Name:            ExitAction,
	RecordStartAction.Name:     RecordStartAction,
	RecordStopAction.Name:      RecordStopAction,
	PlayAction.Name:            PlayAction,
	PlayReverseAction.Name:     PlayReverseAction,
	PlayAllAction.Name:         PlayAllAction,
	PlayReverseAllAction.Name:  PlayReverseAllAction,
	MoveRevolutionsAction.Name: MoveRevolutionsAction,
}

// Help lists every command and PBD action with its description
func Help() []string {
	var lines []string
	for _, name := range slices.Sorted(maps.Keys(Commands)) {
		lines = append(lines, fmt.Sprintf("%s: %s", name, Commands[name].Description))
	}
	for _, name := range slices.Sorted(maps.Keys(pbdActions)) {
		lines = append(lines, fmt.Sprintf("pbd %s: %s", name, pbdActions[name].Description))
	}
	return lines
}

func decodeState(in Input) (string, error) {
	var args stateArgs
	err := in.Decode(&args)
	if err != nil {
		return "", err
	}
	state, err := required("state", args.State)
	if err != nil {
		return "", err
	}
	return state, oneOf("state", state, pbdgate.StateOn, pbdgate.StateOff)
}

func decodeAxis(in Input) (pbdgate.Axis, error) {
	var args axisArgs
	err := in.Decode(&args)
	if err != nil {
		return pbdgate.AxisNone, err
	}
	return requiredAxis("axis", args.Axis)
}
