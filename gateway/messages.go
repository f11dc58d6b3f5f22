package gateway

import (
	"github.com/calvinmclean/pbdgate"
	"github.com/calvinmclean/pbdgate/bridge"
	"github.com/calvinmclean/pbdgate/units"
)

// Sample is the scaled telemetry published for every position report
type Sample struct {
	Type   string       `json:"type"`
	TS     float64      `json:"ts"`
	Axis   pbdgate.Axis `json:"axis"`
	PosRaw int64        `json:"pos_raw"`
	Rev    float64      `json:"rev"`
	Steps  float64      `json:"steps"`
	Deg    float64      `json:"deg"`
}

const sampleType = "pbd_sample"

// StateMessage converts a controller event into the object published on the state stream.
// Status lines become a single-key object named after their kind
func StateMessage(ev bridge.Event, conv units.Converter) any {
	if ev.Kind == bridge.KindTelemetry {
		scaled := conv.PositionToScaled(ev.Position)
		return Sample{
			Type:   sampleType,
			TS:     float64(ev.Time.UnixMicro()) / 1e6,
			Axis:   ev.Axis,
			PosRaw: ev.Position,
			Rev:    scaled.Revolutions,
			Steps:  scaled.Steps,
			Deg:    scaled.Degrees,
		}
	}
	return map[string]string{ev.Kind.String(): ev.Info}
}
