package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
)

// EventType tags a live fan-out envelope.
type EventType string

const (
	TypeSensorData       EventType = "sensorData"
	TypeSystemLogs       EventType = "systemLogs"
	TypeNewSystemLog     EventType = "newSystemLog"
	TypeConnectionStatus EventType = "connectionStatus"
	TypeAlert            EventType = "alert"
)

// Event is the closed set of envelopes pushed to observers. Only the
// variants declared in this file implement it.
type Event interface {
	Type() EventType
	payload() any
}

// SensorData carries a freshly persisted reading.
type SensorData struct{ Reading entities.Reading }

// SystemLogs carries the recent log snapshot sent on connect.
type SystemLogs struct{ Logs []entities.LogEntry }

// NewSystemLog carries one log entry as it is created.
type NewSystemLog struct{ Log entities.LogEntry }

// ConnectionStatus reports the broker link flag.
type ConnectionStatus struct {
	MQTT      bool      `json:"mqtt"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is raised on low soil moisture.
type Alert struct {
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const AlertLowMoisture = "low_moisture"

func (SensorData) Type() EventType       { return TypeSensorData }
func (SystemLogs) Type() EventType       { return TypeSystemLogs }
func (NewSystemLog) Type() EventType     { return TypeNewSystemLog }
func (ConnectionStatus) Type() EventType { return TypeConnectionStatus }
func (Alert) Type() EventType            { return TypeAlert }

func (e SensorData) payload() any { return e.Reading }
func (e SystemLogs) payload() any {
	if e.Logs == nil {
		return []entities.LogEntry{}
	}
	return e.Logs
}
func (e NewSystemLog) payload() any     { return e.Log }
func (e ConnectionStatus) payload() any { return e }
func (e Alert) payload() any            { return e }

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent renders {"type":..., "data":...}.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), Data: data})
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeSensorData:
		var e SensorData
		err := json.Unmarshal(env.Data, &e.Reading)
		return e, err
	case TypeSystemLogs:
		var e SystemLogs
		err := json.Unmarshal(env.Data, &e.Logs)
		return e, err
	case TypeNewSystemLog:
		var e NewSystemLog
		err := json.Unmarshal(env.Data, &e.Log)
		return e, err
	case TypeConnectionStatus:
		var e ConnectionStatus
		err := json.Unmarshal(env.Data, &e)
		return e, err
	case TypeAlert:
		var e Alert
		err := json.Unmarshal(env.Data, &e)
		return e, err
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}
