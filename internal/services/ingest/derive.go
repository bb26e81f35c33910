package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// lowMoistureMessage is shared by the warning log and the alert event.
func lowMoistureMessage(moisture, threshold int) string {
	return fmt.Sprintf("Low soil moisture detected: %d%% (threshold: %d%%)", moisture, threshold)
}

func lowMoistureLog(moisture, threshold int) *entities.LogEntry {
	return storage.NewLogEntry(entities.LogWarning, lowMoistureMessage(moisture, threshold),
		metadata(map[string]any{"moistureLevel": moisture, "threshold": threshold}))
}

// pumpTransition reports whether a pump_action entry is due. With no previous
// reading only an ON state counts as a transition.
func pumpTransition(prev *entities.Reading, pumpOn bool) bool {
	if prev == nil {
		return pumpOn
	}
	return prev.PumpOn != pumpOn
}

func pumpActionLog(prev *entities.Reading, pumpOn bool) *entities.LogEntry {
	previous := false
	if prev != nil {
		previous = prev.PumpOn
	}
	state := entities.PumpLabel(pumpOn)
	return storage.NewLogEntry(entities.LogPumpAction, "Pump "+state,
		metadata(map[string]any{"previousState": entities.PumpLabel(previous), "newState": state}))
}

func failureLog(err error) *entities.LogEntry {
	return storage.NewLogEntry(entities.LogError, "Failed to process sensor data",
		metadata(map[string]any{"error": err.Error()}))
}

// metadata serializes detail for LogEntry.Metadata; maps of plain values never fail.
func metadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
