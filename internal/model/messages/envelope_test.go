package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
)

func TestEncodeEventEnvelope(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := EncodeEvent(SensorData{Reading: entities.Reading{
		ID: 7, Timestamp: ts, Temperature: 26.4, SoilMoisture: 38, PumpOn: true, Mode: entities.ModeAuto,
	}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"sensorData","data":{"id":7,"timestamp":"2025-03-01T10:00:00Z",
		"temperature":26.4,"soilMoisture":38,"pumpStatus":true,"systemMode":"auto"}}`, string(b))
}

func TestEncodeEmptyLogSnapshot(t *testing.T) {
	b, err := EncodeEvent(SystemLogs{})
	require.NoError(t, err)

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, "systemLogs", env.Type)
	assert.Equal(t, "[]", string(env.Data))
}

func TestDecodeEvent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := EncodeEvent(Alert{Kind: AlertLowMoisture, Message: "low", Timestamp: ts})
	require.NoError(t, err)

	ev, err := DecodeEvent(b)
	require.NoError(t, err)
	alert, ok := ev.(Alert)
	require.True(t, ok)
	assert.Equal(t, "low", alert.Message)
	assert.True(t, ts.Equal(alert.Timestamp))

	_, err = DecodeEvent([]byte(`{"type":"bogus","data":{}}`))
	assert.Error(t, err)
}
