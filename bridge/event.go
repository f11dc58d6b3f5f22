package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/calvinmclean/pbdgate"
)

var (
	ErrEmptyLine   = errors.New("empty line")
	ErrInvalidUTF8 = errors.New("line is not valid UTF-8")
	ErrMalformed   = errors.New("malformed telemetry")
)

// Kind classifies a line received from the motion controller
type Kind int

const (
	KindRaw Kind = iota
	KindTelemetry
	KindAck
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindAck:
		return "ack"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "raw"
	}
}

// Event is one decoded controller line. Axis and Position are only set for KindTelemetry,
// Info holds the text of every other kind
type Event struct {
	Kind     Kind
	Axis     pbdgate.Axis
	Position int64
	Info     string
	// Time is when the gateway read the line
	Time time.Time
}

var statusPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"ACK:", KindAck},
	{"DONE:", KindDone},
	{"ERROR:", KindError},
}

type telemetryLine struct {
	Axis *int   `json:"axis"`
	Pos  *int64 `json:"pos"`
}

// ParseLine decodes a single line without its terminator. Lines that cannot be trusted
// (bad encoding, broken JSON, unknown axis) return an error and should be dropped
func ParseLine(line string, now time.Time) (Event, error) {
	if !utf8.ValidString(line) {
		return Event{}, ErrInvalidUTF8
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, ErrEmptyLine
	}

	if strings.HasPrefix(line, "{") {
		var t telemetryLine
		err := json.Unmarshal([]byte(line), &t)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		if t.Axis == nil || t.Pos == nil {
			return Event{Kind: KindRaw, Info: line, Time: now}, nil
		}

		axis, err := pbdgate.ParseAxis(*t.Axis)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		return Event{Kind: KindTelemetry, Axis: axis, Position: *t.Pos, Time: now}, nil
	}

	for _, p := range statusPrefixes {
		if strings.HasPrefix(line, p.prefix) {
			return Event{
				Kind: p.kind,
				Info: strings.TrimSpace(strings.TrimPrefix(line, p.prefix)),
				Time: now,
			}, nil
		}
	}

	return Event{Kind: KindRaw, Info: line, Time: now}, nil
}
