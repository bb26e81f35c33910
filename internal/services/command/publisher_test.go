package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (s *fakeSink) PublishAsync(msg string, onErr func(error)) {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	fail := s.fail
	s.mu.Unlock()
	if fail != nil && onErr != nil {
		onErr(fail)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []messages.Event
}

func (r *recorder) Broadcast(e messages.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func setup(t *testing.T, sink *fakeSink) (*Publisher, *sqlite.Store, *recorder, *metrics.Metrics) {
	t.Helper()
	store, err := sqlite.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec := &recorder{}
	m := metrics.Nop()
	return NewPublisher(sink, store, rec, nil, m), store, rec, m
}

func setting(t *testing.T, store storage.ReadingStore, key string) string {
	t.Helper()
	s, err := store.GetSetting(context.Background(), key)
	require.NoError(t, err)
	return s.Value
}

func TestApplyManualWithPump(t *testing.T) {
	sink := &fakeSink{}
	p, store, rec, _ := setup(t, sink)

	res, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeManual, PumpState: strPtr("on")})
	require.NoError(t, err)

	assert.Equal(t, []string{"MANUAL ON"}, sink.sent)
	assert.Equal(t, []string{"MANUAL ON"}, res.Commands)
	assert.Equal(t, "manual", setting(t, store, entities.KeySystemMode))
	assert.Equal(t, "on", setting(t, store, entities.KeyManualPumpState))

	logs, err := store.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Command sent: MANUAL ON", logs[0].Message)
	assert.JSONEq(t, `{"command":"MANUAL ON","mode":"manual","pumpState":"on"}`, *logs[0].Metadata)

	require.Len(t, rec.events, 1)
	assert.Equal(t, messages.TypeNewSystemLog, rec.events[0].Type())
}

func TestApplyAutoIgnoresPumpState(t *testing.T) {
	sink := &fakeSink{}
	p, store, _, _ := setup(t, sink)

	_, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeAuto, PumpState: strPtr("on")})
	require.NoError(t, err)

	assert.Equal(t, []string{"AUTO"}, sink.sent)
	_, err = store.GetSetting(context.Background(), entities.KeyManualPumpState)
	assert.True(t, storage.IsNotFound(err))
}

func TestApplyThreshold(t *testing.T) {
	sink := &fakeSink{}
	p, store, rec, _ := setup(t, sink)

	res, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeAuto, MoistureThreshold: intPtr(35)})
	require.NoError(t, err)

	assert.Equal(t, []string{"AUTO", "THRESHOLD 35"}, sink.sent)
	assert.Equal(t, "35", res.Settings[entities.KeyMoistureThreshold])
	assert.Equal(t, "35", setting(t, store, entities.KeyMoistureThreshold))

	logs, err := store.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Moisture threshold updated: 35%", logs[0].Message)
	assert.JSONEq(t, `{"threshold":35,"command":"THRESHOLD 35"}`, *logs[0].Metadata)
	assert.Len(t, rec.events, 2)
}

func TestApplyPublishFailureStillPersists(t *testing.T) {
	sink := &fakeSink{fail: errors.New("not connected")}
	p, store, _, m := setup(t, sink)

	_, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeManual, PumpState: strPtr("off")})
	require.NoError(t, err)

	assert.Equal(t, "manual", setting(t, store, entities.KeySystemMode))
	assert.Equal(t, "off", setting(t, store, entities.KeyManualPumpState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsFailed))
}

func TestApplyRejectsInvalidIntent(t *testing.T) {
	sink := &fakeSink{}
	p, store, _, _ := setup(t, sink)

	_, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeAuto, MoistureThreshold: intPtr(95)})
	var verr *messages.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "moistureThreshold", verr.Field)

	assert.Empty(t, sink.sent)
	_, err = store.GetSetting(context.Background(), entities.KeySystemMode)
	assert.True(t, storage.IsNotFound(err))
}

type failingStore struct{}

func (failingStore) SetSettings(context.Context, map[string]string) error {
	return errors.New("db down")
}
func (failingStore) InsertLog(context.Context, *entities.LogEntry) error {
	return errors.New("db down")
}

func TestApplySettingsFailure(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher(sink, failingStore{}, nil, nil, nil)

	_, err := p.Apply(context.Background(), messages.ControlIntent{Mode: entities.ModeAuto})
	assert.Error(t, err)
	// the command was already handed off
	assert.Equal(t, []string{"AUTO"}, sink.sent)
}
