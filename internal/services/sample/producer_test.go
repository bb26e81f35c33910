package sample

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/ingest"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type latestFunc func(ctx context.Context) (*entities.Reading, error)

func (f latestFunc) LatestReading(ctx context.Context) (*entities.Reading, error) { return f(ctx) }

type captureSink struct {
	mu       sync.Mutex
	payloads [][]byte
	notify   chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{notify: make(chan struct{}, 16)}
}

func (c *captureSink) Submit(_ context.Context, payload []byte) (ingest.Outcome, error) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return ingest.Outcome{}, nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func noReading(context.Context) (*entities.Reading, error) {
	return nil, storage.ErrNotFound{Resource: "reading", ID: "latest"}
}

func TestGeneratorWithoutPreviousReading(t *testing.T) {
	g := NewGenerator(1)
	pol := policy.Default()
	for i := 0; i < 200; i++ {
		s := g.Next(nil, pol)
		assert.GreaterOrEqual(t, s.SoilMoisture, 30)
		assert.Less(t, s.SoilMoisture, 70)
		assert.InDelta(t, 25.0, s.Temperature, 4.0)
		assert.InDelta(t, math.Round(s.Temperature*10), s.Temperature*10, 1e-9)
		assert.Equal(t, s.SoilMoisture < pol.MoistureThreshold, s.PumpOn)
	}
}

func TestGeneratorDriesAndFloors(t *testing.T) {
	g := NewGenerator(2)
	pol := policy.Default()

	prev := &entities.Reading{SoilMoisture: 50}
	for i := 0; i < 100; i++ {
		s := g.Next(prev, pol)
		assert.GreaterOrEqual(t, s.SoilMoisture, 46)
		assert.LessOrEqual(t, s.SoilMoisture, 49)
	}

	dry := &entities.Reading{SoilMoisture: 11}
	for i := 0; i < 100; i++ {
		assert.Equal(t, 10, g.Next(dry, pol).SoilMoisture)
	}
}

func TestGeneratorRisesWhenPumpWasOn(t *testing.T) {
	g := NewGenerator(3)
	pol := policy.Default()

	prev := &entities.Reading{SoilMoisture: 40, PumpOn: true}
	for i := 0; i < 100; i++ {
		s := g.Next(prev, pol)
		// 40 - [1,4) + [5,13)
		assert.GreaterOrEqual(t, s.SoilMoisture, 41)
		assert.LessOrEqual(t, s.SoilMoisture, 52)
	}

	wet := &entities.Reading{SoilMoisture: 80, PumpOn: true}
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, g.Next(wet, pol).SoilMoisture, 80)
	}
}

func TestGeneratorPumpFollowsPolicy(t *testing.T) {
	g := NewGenerator(4)
	prev := &entities.Reading{SoilMoisture: 20}

	auto := policy.Policy{Mode: entities.ModeAuto, ManualPumpState: "on", MoistureThreshold: 90}
	assert.True(t, g.Next(prev, auto).PumpOn)
	auto.MoistureThreshold = 10
	assert.False(t, g.Next(prev, auto).PumpOn)

	manual := policy.Policy{Mode: entities.ModeManual, ManualPumpState: "on", MoistureThreshold: 10}
	assert.True(t, g.Next(prev, manual).PumpOn)
	manual.ManualPumpState = "off"
	manual.MoistureThreshold = 90
	assert.False(t, g.Next(prev, manual).PumpOn)
}

func TestStartIsIdempotentAndTicksImmediately(t *testing.T) {
	sink := newCaptureSink()
	p := NewProducer(latestFunc(noReading), policy.Static(policy.Default()), sink, NewGenerator(5), time.Hour, nil)

	require.True(t, p.Start(context.Background()))
	assert.False(t, p.Start(context.Background()))
	assert.True(t, p.Running())

	select {
	case <-sink.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no immediate sample")
	}
	p.Stop()
	assert.False(t, p.Running())
	assert.Equal(t, 1, sink.count())

	_, err := messages.ParseTelemetry(sink.payloads[0])
	require.NoError(t, err)

	// Stop twice is harmless, restart works
	p.Stop()
	require.True(t, p.Start(context.Background()))
	<-sink.notify
	p.Stop()
	assert.Equal(t, 2, sink.count())
}

func TestTickerKeepsProducing(t *testing.T) {
	sink := newCaptureSink()
	p := NewProducer(latestFunc(noReading), policy.Static(policy.Default()), sink, NewGenerator(6), 10*time.Millisecond, nil)
	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-sink.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d samples", i)
		}
	}
}

func TestLatestReadFailureSkipsTick(t *testing.T) {
	sink := newCaptureSink()
	calls := make(chan struct{}, 4)
	broken := latestFunc(func(context.Context) (*entities.Reading, error) {
		calls <- struct{}{}
		return nil, errors.New("disk gone")
	})
	p := NewProducer(broken, policy.Static(policy.Default()), sink, NewGenerator(7), time.Hour, nil)
	p.Start(context.Background())
	<-calls
	p.Stop()
	assert.Equal(t, 0, sink.count())
}

func TestSamplesFlowThroughIngestion(t *testing.T) {
	store, err := sqlite.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetSettings(context.Background(), map[string]string{
		entities.KeySystemMode:      "manual",
		entities.KeyManualPumpState: "on",
	}))
	pol := policy.NewStoreReader(store)

	ing := ingest.New(store, pol, nopBroadcaster{}, ingest.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ing.Run(ctx)

	p := NewProducer(store, pol, ing, NewGenerator(8), time.Hour, nil)
	p.Start(ctx)
	require.Eventually(t, func() bool {
		_, err := store.LatestReading(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	r, err := store.LatestReading(ctx)
	require.NoError(t, err)
	assert.True(t, r.PumpOn)
	assert.Equal(t, entities.ModeManual, r.Mode)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"systemMode":"manual"`)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(messages.Event) {}
