package entities

import "time"

// LogKind classifies a LogEntry.
type LogKind string

const (
	LogInfo       LogKind = "info"
	LogWarning    LogKind = "warning"
	LogError      LogKind = "error"
	LogPumpAction LogKind = "pump_action"
)

// LogEntry is an append-only system log row.
// Metadata holds serialized JSON detail and is optional.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      LogKind   `json:"type"`
	Message   string    `json:"message"`
	Metadata  *string   `json:"metadata,omitempty"`
}
