package entities

import "time"

// Mode is the irrigation control mode stored in the system_mode setting.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// Reading is one persisted telemetry sample. Rows are immutable once written.
type Reading struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`
	SoilMoisture int       `json:"soilMoisture"` // 0..100
	PumpOn       bool      `json:"pumpStatus"`
	Mode         Mode      `json:"systemMode"`
}

// PumpLabel renders the pump state the way the field controller does.
func PumpLabel(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
