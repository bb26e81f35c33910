package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func reading(ts time.Time, temp float64, moisture int, pump bool) *entities.Reading {
	return &entities.Reading{
		Timestamp:    ts,
		Temperature:  temp,
		SoilMoisture: moisture,
		PumpOn:       pump,
		Mode:         entities.ModeAuto,
	}
}

func TestNewFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

// Reading tests

func TestInsertAndLatestReading(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := reading(base, 24.5, 40, false)
	require.NoError(t, store.InsertReading(ctx, first))
	second := reading(base.Add(time.Minute), 25.0, 38, true)
	require.NoError(t, store.InsertReading(ctx, second))

	assert.Greater(t, second.ID, first.ID)

	latest, err := store.LatestReading(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 38, latest.SoilMoisture)
	assert.True(t, latest.PumpOn)
	assert.Equal(t, entities.ModeAuto, latest.Mode)
	assert.True(t, base.Add(time.Minute).Equal(latest.Timestamp))
}

func TestLatestReadingEmpty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LatestReading(context.Background())
	assert.True(t, storage.IsNotFound(err))
}

func TestInsertReadingAssignsTimestamp(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	r := reading(time.Time{}, 20, 50, false)
	require.NoError(t, store.InsertReading(context.Background(), r))

	assert.True(t, fixed.Equal(r.Timestamp))
}

func TestRecentReadingsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertReading(ctx, reading(base.Add(time.Duration(i)*time.Minute), 20, 40+i, false)))
	}

	readings, err := store.RecentReadings(ctx, 3)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 44, readings[0].SoilMoisture)
	assert.Equal(t, 42, readings[2].SoilMoisture)
}

func TestReadingsSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.InsertReading(ctx, reading(base.Add(time.Duration(i)*time.Minute), 20, 40, false)))
	}

	readings, err := store.ReadingsSince(ctx, base.Add(7*time.Minute))
	require.NoError(t, err)
	assert.Len(t, readings, 3)
	for _, r := range readings {
		assert.False(t, r.Timestamp.Before(base.Add(7*time.Minute)))
	}

	empty, err := store.ReadingsSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

// Aggregate tests

func TestAggregatedSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// two readings in the first 5m bucket, one in the next
	require.NoError(t, store.InsertReading(ctx, reading(base.Add(time.Minute), 20, 30, false)))
	require.NoError(t, store.InsertReading(ctx, reading(base.Add(3*time.Minute), 22, 50, true)))
	require.NoError(t, store.InsertReading(ctx, reading(base.Add(6*time.Minute), 30, 60, false)))

	buckets, err := store.AggregatedSince(ctx, 5*time.Minute, base, 1000)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	newest, oldest := buckets[0], buckets[1]
	assert.True(t, base.Add(5*time.Minute).Equal(newest.BucketStart))
	assert.Equal(t, int64(1), newest.ReadingCount)
	assert.False(t, newest.PumpWasActive)

	assert.True(t, base.Equal(oldest.BucketStart))
	assert.Equal(t, int64(2), oldest.ReadingCount)
	assert.InDelta(t, 21.0, oldest.AvgTemperature, 0.001)
	assert.InDelta(t, 20.0, oldest.MinTemperature, 0.001)
	assert.InDelta(t, 22.0, oldest.MaxTemperature, 0.001)
	assert.InDelta(t, 40.0, oldest.AvgSoilMoisture, 0.001)
	assert.Equal(t, 30, oldest.MinSoilMoisture)
	assert.Equal(t, 50, oldest.MaxSoilMoisture)
	assert.True(t, oldest.PumpWasActive)
}

func TestAggregatedSinceLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.InsertReading(ctx, reading(base.Add(time.Duration(i)*time.Hour), 20, 40, false)))
	}

	buckets, err := store.AggregatedSince(ctx, time.Hour, base, 4)
	require.NoError(t, err)
	require.Len(t, buckets, 4)
	assert.True(t, base.Add(5*time.Hour).Equal(buckets[0].BucketStart))
}

func TestAggregatedSinceUnknownWidth(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AggregatedSince(context.Background(), 7*time.Minute, time.Now(), 10)
	var noView storage.ErrNoView
	assert.ErrorAs(t, err, &noView)
}

func TestAggregatedSinceMissingView(t *testing.T) {
	store := newTestStore(t)
	_, err := store.db.Exec(`DROP VIEW sensor_readings_15m`)
	require.NoError(t, err)

	_, err = store.AggregatedSince(context.Background(), 15*time.Minute, time.Now(), 10)
	assert.Error(t, err)
}

// Log tests

func TestInsertAndRecentLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := storage.NewLogEntry(entities.LogInfo, "MQTT client connected", "")
	first.Timestamp = base
	require.NoError(t, store.InsertLog(ctx, first))

	second := storage.NewLogEntry(entities.LogPumpAction, "Pump turned ON", `{"soilMoisture":30}`)
	second.Timestamp = base.Add(time.Second)
	require.NoError(t, store.InsertLog(ctx, second))

	logs, err := store.RecentLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, entities.LogPumpAction, logs[0].Kind)
	require.NotNil(t, logs[0].Metadata)
	assert.JSONEq(t, `{"soilMoisture":30}`, *logs[0].Metadata)
	assert.Nil(t, logs[1].Metadata)
	assert.Equal(t, "MQTT client connected", logs[1].Message)
}

// Setting tests

func TestGetSettingNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSetting(context.Background(), entities.KeySystemMode)
	assert.True(t, storage.IsNotFound(err))
}

func TestSetSettingsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSettings(ctx, map[string]string{
		entities.KeySystemMode:      "manual",
		entities.KeyManualPumpState: "on",
	}))
	require.NoError(t, store.SetSettings(ctx, map[string]string{
		entities.KeySystemMode: "auto",
	}))

	mode, err := store.GetSetting(ctx, entities.KeySystemMode)
	require.NoError(t, err)
	assert.Equal(t, "auto", mode.Value)

	pump, err := store.GetSetting(ctx, entities.KeyManualPumpState)
	require.NoError(t, err)
	assert.Equal(t, "on", pump.Value)
}

func TestSetSettingsCanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SetSettings(ctx, map[string]string{entities.KeySystemMode: "manual"})
	assert.Error(t, err)

	_, err = store.GetSetting(context.Background(), entities.KeySystemMode)
	assert.True(t, storage.IsNotFound(err))
}
