// Package storage defines the persistence boundary for readings, logs and settings.
package storage

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
)

// ReadingStore is the narrow interface the core needs from the storage engine.
type ReadingStore interface {
	// Readings
	InsertReading(ctx context.Context, r *entities.Reading) error
	LatestReading(ctx context.Context) (*entities.Reading, error)
	RecentReadings(ctx context.Context, limit int) ([]entities.Reading, error)
	ReadingsSince(ctx context.Context, since time.Time) ([]entities.Reading, error)

	// AggregatedSince reads buckets of the precomputed view for width,
	// newest first, capped at limit.
	AggregatedSince(ctx context.Context, width time.Duration, since time.Time, limit int) ([]entities.AggregatedBucket, error)

	// Logs
	InsertLog(ctx context.Context, l *entities.LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]entities.LogEntry, error)

	// Settings
	GetSetting(ctx context.Context, key string) (*entities.Setting, error)
	// SetSettings upserts every pair in one transaction.
	SetSettings(ctx context.Context, kv map[string]string) error

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a record is not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return e.Resource + " not found: " + e.ID
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}

// ErrNoView is returned by AggregatedSince when no view exists for a bucket width.
type ErrNoView struct {
	Width time.Duration
}

func (e ErrNoView) Error() string {
	return "no aggregate view for bucket width " + e.Width.String()
}

// ViewName maps a bucket width to the name of its windowed view.
func ViewName(width time.Duration) (string, bool) {
	switch width {
	case 5 * time.Minute:
		return "sensor_readings_5m", true
	case 15 * time.Minute:
		return "sensor_readings_15m", true
	case 30 * time.Minute:
		return "sensor_readings_30m", true
	case time.Hour:
		return "sensor_readings_1h", true
	case 6 * time.Hour:
		return "sensor_readings_6h", true
	case 12 * time.Hour:
		return "sensor_readings_12h", true
	}
	return "", false
}

// NewLogEntry builds an entry with metadata serialized by the caller.
func NewLogEntry(kind entities.LogKind, message string, metadata string) *entities.LogEntry {
	l := &entities.LogEntry{Kind: kind, Message: message}
	if metadata != "" {
		l.Metadata = &metadata
	}
	return l
}
