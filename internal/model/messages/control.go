package messages

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
)

// ControlIntent is a validated operator request to change the controller behaviour.
type ControlIntent struct {
	Mode              entities.Mode `json:"mode"`
	PumpState         *string       `json:"pumpState,omitempty"` // "on" | "off"
	MoistureThreshold *int          `json:"moistureThreshold,omitempty"`
}

// ValidationError names the violated constraint of a rejected intent.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Constraint)
}

// DecodeControlIntent parses and validates a control request body.
func DecodeControlIntent(body []byte) (ControlIntent, error) {
	var raw struct {
		Mode              *string          `json:"mode"`
		PumpState         *string          `json:"pumpState"`
		MoistureThreshold *json.RawMessage `json:"moistureThreshold"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ControlIntent{}, &ValidationError{Field: "body", Constraint: "must be a JSON object"}
	}
	if raw.Mode == nil {
		return ControlIntent{}, &ValidationError{Field: "mode", Constraint: "is required"}
	}

	intent := ControlIntent{Mode: entities.Mode(*raw.Mode), PumpState: raw.PumpState}
	if raw.MoistureThreshold != nil && string(*raw.MoistureThreshold) != "null" {
		var f float64
		if err := json.Unmarshal(*raw.MoistureThreshold, &f); err != nil {
			return ControlIntent{}, &ValidationError{Field: "moistureThreshold", Constraint: "must be a number"}
		}
		if f != math.Trunc(f) {
			return ControlIntent{}, &ValidationError{Field: "moistureThreshold", Constraint: "must be an integer"}
		}
		n := int(f)
		intent.MoistureThreshold = &n
	}
	if err := intent.Validate(); err != nil {
		return ControlIntent{}, err
	}
	return intent, nil
}

// Validate checks the intent against the accepted ranges.
func (c ControlIntent) Validate() error {
	if !c.Mode.Valid() {
		return &ValidationError{Field: "mode", Constraint: "must be one of auto, manual"}
	}
	if c.PumpState != nil && *c.PumpState != "on" && *c.PumpState != "off" {
		return &ValidationError{Field: "pumpState", Constraint: "must be one of on, off"}
	}
	if t := c.MoistureThreshold; t != nil &&
		(*t < entities.MinMoistureThreshold || *t > entities.MaxMoistureThreshold) {
		return &ValidationError{
			Field:      "moistureThreshold",
			Constraint: fmt.Sprintf("must be between %d and %d", entities.MinMoistureThreshold, entities.MaxMoistureThreshold),
		}
	}
	return nil
}

// ManualPump reports the pump state to persist, only for manual intents.
func (c ControlIntent) ManualPump() (string, bool) {
	if c.Mode != entities.ModeManual || c.PumpState == nil {
		return "", false
	}
	return *c.PumpState, true
}

// ModeCommand renders "AUTO", "MANUAL" or "MANUAL ON|OFF".
func (c ControlIntent) ModeCommand() string {
	cmd := strings.ToUpper(string(c.Mode))
	if pump, ok := c.ManualPump(); ok {
		cmd += " " + strings.ToUpper(pump)
	}
	return cmd
}

// ThresholdCommand renders "THRESHOLD <n>" when a threshold was supplied.
func (c ControlIntent) ThresholdCommand() (string, bool) {
	if c.MoistureThreshold == nil {
		return "", false
	}
	return "THRESHOLD " + strconv.Itoa(*c.MoistureThreshold), true
}

// Command is a decoded outbound control message, used by the controller side.
type Command struct {
	Mode      entities.Mode
	PumpOn    *bool
	Threshold *int
}

// ParseCommand decodes one outbound control-topic message.
func ParseCommand(s string) (Command, error) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "AUTO":
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("AUTO takes no argument: %q", s)
		}
		return Command{Mode: entities.ModeAuto}, nil
	case "MANUAL":
		cmd := Command{Mode: entities.ModeManual}
		switch {
		case len(fields) == 1:
		case len(fields) == 2 && (fields[1] == "ON" || fields[1] == "OFF"):
			on := fields[1] == "ON"
			cmd.PumpOn = &on
		default:
			return Command{}, fmt.Errorf("bad MANUAL command: %q", s)
		}
		return cmd, nil
	case "THRESHOLD":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("bad THRESHOLD command: %q", s)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("bad THRESHOLD value: %w", err)
		}
		return Command{Threshold: &n}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", s)
}
