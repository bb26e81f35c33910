package sensor_simulator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []string
}

func (p *fakePublisher) PublishMessage(m string) error {
	p.mu.Lock()
	p.sent = append(p.sent, m)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) PublishAsync(m string, _ func(error)) { _ = p.PublishMessage(m) }

func (p *fakePublisher) last(t *testing.T) messages.Telemetry {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	tel, err := messages.ParseTelemetry([]byte(p.sent[len(p.sent)-1]))
	require.NoError(t, err)
	return tel
}

type fakeConsumer struct{ handler broker.Handler }

func (c *fakeConsumer) ConsumeMessage(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *fakeConsumer) SetHandler(h broker.Handler) { c.handler = h }

func (c *fakeConsumer) Resubscribe() {}

type message struct {
	mqtt.Message
	payload []byte
}

func (m message) Payload() []byte { return m.payload }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newSim(seed float64) (*SensorSimulator, *fakePublisher, *clock) {
	c := &clock{t: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	gen := NewDataGenerator(0.01, seed)
	gen.now = c.now
	pub := &fakePublisher{}
	return NewSensorSimulator(&fakeConsumer{}, pub, gen), pub, c
}

func command(t *testing.T, s *SensorSimulator, cmd string) {
	t.Helper()
	require.NoError(t, s.handleMessage("irigasi/kontrol", message{payload: []byte(cmd)}))
}

func TestPublishesFirmwarePayload(t *testing.T) {
	s, pub, _ := newSim(0.6)
	require.NoError(t, s.publishOnce())

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(pub.sent[0]), &raw))
	assert.Contains(t, raw, "suhu")
	assert.Contains(t, raw, "kelembaban")
	assert.Contains(t, raw, "tanah")
	assert.Equal(t, "OFF", raw["pompa"])

	tel := pub.last(t)
	assert.Equal(t, 60, tel.SoilMoisture)
	assert.NotNil(t, tel.Humidity)
}

func TestAutoModeIrrigatesBelowThreshold(t *testing.T) {
	s, pub, c := newSim(0.40)

	require.NoError(t, s.publishOnce())
	assert.True(t, pub.last(t).PumpOn, "40 is below the default threshold")

	// 10 minuti di pompa ON: +15%
	c.t = c.t.Add(10 * time.Minute)
	require.NoError(t, s.publishOnce())
	tel := pub.last(t)
	assert.Equal(t, 55, tel.SoilMoisture)
	assert.False(t, tel.PumpOn)

	// 10 minuti di pompa OFF: -10%
	c.t = c.t.Add(10 * time.Minute)
	require.NoError(t, s.publishOnce())
	assert.Equal(t, 45, pub.last(t).SoilMoisture)
}

func TestManualCommandsDrivePump(t *testing.T) {
	s, pub, _ := newSim(0.90)

	command(t, s, "MANUAL ON")
	st := s.Snapshot()
	assert.Equal(t, entities.ModeManual, st.Mode)
	assert.True(t, st.PumpOn)

	require.NoError(t, s.publishOnce())
	assert.True(t, pub.last(t).PumpOn)

	command(t, s, "manual off")
	require.NoError(t, s.publishOnce())
	assert.False(t, pub.last(t).PumpOn)

	// MANUAL without a state keeps the last operator choice
	command(t, s, "MANUAL ON")
	command(t, s, "AUTO")
	command(t, s, "MANUAL")
	assert.True(t, s.Snapshot().PumpOn)
}

func TestThresholdCommand(t *testing.T) {
	s, pub, _ := newSim(0.50)

	command(t, s, "THRESHOLD 60")
	assert.Equal(t, 60, s.Snapshot().Threshold)
	require.NoError(t, s.publishOnce())
	assert.True(t, pub.last(t).PumpOn)

	command(t, s, "THRESHOLD 95")
	assert.Equal(t, 60, s.Snapshot().Threshold)
}

func TestInvalidCommandRejected(t *testing.T) {
	s, _, _ := newSim(0.50)
	before := s.Snapshot()

	assert.Error(t, s.handleMessage("irigasi/kontrol", message{payload: []byte("OPEN VALVE")}))
	assert.Equal(t, before, s.Snapshot())
}

func TestStartPublishesOnInterval(t *testing.T) {
	s, pub, _ := newSim(0.50)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
