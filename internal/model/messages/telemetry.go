package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Telemetry is one decoded message from the inbound telemetry topic.
type Telemetry struct {
	Temperature  float64
	Humidity     *float64 // carried by the controller, unused downstream
	SoilMoisture int
	PumpOn       bool
}

var ErrMalformedTelemetry = errors.New("malformed telemetry")

// key aliases published by the field controller firmware (suhu, kelembaban, tanah, pompa)
var (
	temperatureKeys = []string{"temperature", "suhu"}
	humidityKeys    = []string{"humidity", "kelembaban"}
	moistureKeys    = []string{"soilMoisture", "tanah"}
	pumpKeys        = []string{"pumpState", "pompa"}
)

// ParseTelemetry decodes a raw telemetry payload. Every failure wraps
// ErrMalformedTelemetry.
func ParseTelemetry(payload []byte) (Telemetry, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return Telemetry{}, fmt.Errorf("%w: %v", ErrMalformedTelemetry, err)
	}
	if m == nil {
		return Telemetry{}, fmt.Errorf("%w: empty payload", ErrMalformedTelemetry)
	}

	var t Telemetry

	temp, ok := pickNumber(m, temperatureKeys)
	if !ok {
		return Telemetry{}, fmt.Errorf("%w: temperature missing or not a number", ErrMalformedTelemetry)
	}
	t.Temperature = temp

	if h, ok := pickNumber(m, humidityKeys); ok {
		t.Humidity = &h
	}

	moist, ok := pickNumber(m, moistureKeys)
	if !ok {
		return Telemetry{}, fmt.Errorf("%w: soilMoisture missing or not a number", ErrMalformedTelemetry)
	}
	if moist != math.Trunc(moist) || moist < 0 || moist > 100 {
		return Telemetry{}, fmt.Errorf("%w: soilMoisture %v not an integer in [0,100]", ErrMalformedTelemetry, moist)
	}
	t.SoilMoisture = int(moist)

	pump, ok := pickString(m, pumpKeys)
	if !ok {
		return Telemetry{}, fmt.Errorf("%w: pumpState missing", ErrMalformedTelemetry)
	}
	switch strings.ToUpper(strings.TrimSpace(pump)) {
	case "ON":
		t.PumpOn = true
	case "OFF":
		t.PumpOn = false
	default:
		return Telemetry{}, fmt.Errorf("%w: pumpState %q is not ON|OFF", ErrMalformedTelemetry, pump)
	}
	return t, nil
}

// MarshalJSON renders the payload in the inbound topic format.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	type wire struct {
		Temperature  float64  `json:"temperature"`
		Humidity     *float64 `json:"humidity,omitempty"`
		SoilMoisture int      `json:"soilMoisture"`
		PumpState    string   `json:"pumpState"`
	}
	pump := "OFF"
	if t.PumpOn {
		pump = "ON"
	}
	return json.Marshal(wire{
		Temperature:  t.Temperature,
		Humidity:     t.Humidity,
		SoilMoisture: t.SoilMoisture,
		PumpState:    pump,
	})
}

func pickNumber(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, present := m[k]
		if !present || v == nil {
			continue
		}
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func pickString(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		v, present := m[k]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}
