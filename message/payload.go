package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/c360/growctl/errors"
)

// Faucet command values
const (
	CommandOff = 0
	CommandOn  = 1
)

// Reading is the payload of sensor and telemetry topics.
type Reading struct {
	Value float64 `json:"value"`
}

// Command is the payload of the actuation topic.
type Command struct {
	Command int `json:"command"`
}

// NewReading returns the payload for a numeric telemetry point.
func NewReading(v float64) Reading {
	return Reading{Value: v}
}

// NewCommand returns the actuation payload for the faucet state on.
func NewCommand(on bool) Command {
	if on {
		return Command{Command: CommandOn}
	}
	return Command{Command: CommandOff}
}

// DecodeReading parses {"value": <number>} from a sensor topic. A numeric string
// value is tolerated. Anything else is a DecodeError.
func DecodeReading(topic string, data []byte) (float64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, &errors.DecodeError{Topic: topic, Err: err}
	}

	field, ok := raw["value"]
	if !ok {
		return 0, &errors.DecodeError{Topic: topic, Err: fmt.Errorf("missing \"value\" field")}
	}

	v, err := parseNumber(field)
	if err != nil {
		return 0, &errors.DecodeError{Topic: topic, Err: fmt.Errorf("field \"value\": %w", err)}
	}
	return v, nil
}

// DecodeCommand parses an actuation payload. It accepts {"command": n}, a bare
// JSON number, a JSON string holding a number, or the number as plain text.
// Only 0 and 1 are valid commands.
func DecodeCommand(topic string, data []byte) (int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0, &errors.DecodeError{Topic: topic, Err: fmt.Errorf("empty payload")}
	}

	var v float64
	var err error

	var doc any
	switch jerr := json.Unmarshal(trimmed, &doc); {
	case jerr != nil:
		// Not JSON; plain text such as 1
		v, err = parseFloat(string(trimmed))
	default:
		switch d := doc.(type) {
		case map[string]any:
			field, ok := d["command"]
			if !ok {
				return 0, &errors.DecodeError{Topic: topic, Err: fmt.Errorf("missing \"command\" field")}
			}
			v, err = toNumber(field)
		default:
			v, err = toNumber(d)
		}
	}
	if err != nil {
		return 0, &errors.DecodeError{Topic: topic, Err: err}
	}

	cmd := int(v)
	if float64(cmd) != v || (cmd != CommandOff && cmd != CommandOn) {
		return 0, &errors.DecodeError{Topic: topic, Err: fmt.Errorf("command %v is not 0 or 1", v)}
	}
	return cmd, nil
}

// Encode serializes a payload for the wire.
func Encode(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Encode", "marshal payload")
	}
	return data, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, err
	}
	return toNumber(doc)
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return parseFloat(n)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

// parseFloat accepts finite decimal numbers only; NaN and the infinities that
// strconv understands are rejected.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return f, nil
}
