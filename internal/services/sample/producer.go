// Package sample generates synthetic telemetry when no field controller is
// present. Samples enter the same ingestion pipeline as broker messages.
package sample

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/ingest"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// Submitter feeds a raw payload through the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, payload []byte) (ingest.Outcome, error)
}

// LatestGetter reads the reading the next sample continues from.
type LatestGetter interface {
	LatestReading(ctx context.Context) (*entities.Reading, error)
}

type Producer struct {
	latest   LatestGetter
	policy   policy.Reader
	sink     Submitter
	gen      *Generator
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewProducer(latest LatestGetter, pol policy.Reader, sink Submitter, gen *Generator, interval time.Duration, logger *log.Logger) *Producer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if gen == nil {
		gen = NewGenerator(time.Now().UnixNano())
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{latest: latest, policy: pol, sink: sink, gen: gen, interval: interval, logger: logger}
}

// Start launches the ticker with an immediate first sample. It reports false
// when the producer was already running.
func (p *Producer) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true
	go p.loop(ctx, p.done)
	p.logger.Printf("sample: generator started, interval %s", p.interval)
	return true
}

// Stop halts the ticker and waits for an in-flight sample.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Printf("sample: generator stopped")
}

func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Producer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Producer) tick(ctx context.Context) {
	pol, err := p.policy.Current(ctx)
	if err != nil {
		p.logger.Printf("sample: policy read, using defaults: %v", err)
	}
	prev, err := p.latest.LatestReading(ctx)
	if err != nil && !storage.IsNotFound(err) {
		p.logger.Printf("sample: latest reading: %v", err)
		return
	}

	t := p.gen.Next(prev, pol)
	payload, err := json.Marshal(t)
	if err != nil {
		p.logger.Printf("sample: encode: %v", err)
		return
	}
	o, err := p.sink.Submit(ctx, payload)
	if err == nil {
		err = o.Err
	}
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Printf("sample: submit: %v", err)
		}
		return
	}
	p.logger.Printf("sample: generated T=%.1f°C M=%d%% P=%s mode=%s",
		t.Temperature, t.SoilMoisture, entities.PumpLabel(t.PumpOn), pol.Mode)
}
