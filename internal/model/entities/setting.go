package entities

import "time"

// Setting keys in use.
const (
	KeySystemMode        = "system_mode"
	KeyManualPumpState   = "manual_pump_state"
	KeyMoistureThreshold = "moisture_threshold"
)

// Defaults used when a setting row is absent.
const (
	DefaultMode              = ModeAuto
	DefaultManualPumpState   = "off"
	DefaultMoistureThreshold = 45

	MinMoistureThreshold = 10
	MaxMoistureThreshold = 90
)

// Setting is a key/value row; last write wins and UpdatedAt is assigned by the store.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
