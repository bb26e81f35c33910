package influx

import (
	"context"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// Mirror decorates a ReadingStore and copies every successful insert to
// InfluxDB. The primary store stays the source of truth; mirror failures
// only surface through Writer.LastErrorAge.
type Mirror struct {
	storage.ReadingStore
	writer *Writer
}

func NewMirror(primary storage.ReadingStore, w *Writer) *Mirror {
	return &Mirror{ReadingStore: primary, writer: w}
}

func (m *Mirror) InsertReading(ctx context.Context, r *entities.Reading) error {
	if err := m.ReadingStore.InsertReading(ctx, r); err != nil {
		return err
	}
	m.writer.Write(MeasurementReading, ReadingToPoint(*r))
	return nil
}

func (m *Mirror) InsertLog(ctx context.Context, l *entities.LogEntry) error {
	if err := m.ReadingStore.InsertLog(ctx, l); err != nil {
		return err
	}
	m.writer.Write(MeasurementLog, LogToPoint(*l))
	return nil
}

// Writer exposes the underlying writer for health reporting.
func (m *Mirror) Writer() *Writer { return m.writer }

var _ storage.ReadingStore = (*Mirror)(nil)
