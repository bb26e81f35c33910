// Package ingest turns raw telemetry messages into persisted readings plus
// their derived log entries and live events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrStopped   = errors.New("ingestor stopped")
	ErrQueueFull = errors.New("ingest queue full")
)

// Broadcaster receives every event the ingestor produces.
type Broadcaster interface {
	Broadcast(e messages.Event)
}

type Config struct {
	QueueSize int
	// OpTimeout bounds the storage work for a single message.
	OpTimeout time.Duration
	// EnqueueTimeout bounds how long Handle waits for queue space before the
	// message is dropped; Handle runs on the broker client's delivery path.
	EnqueueTimeout time.Duration
	// Broker is recorded in link lifecycle log metadata.
	Broker  string
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Outcome describes what one message produced.
type Outcome struct {
	Reading *entities.Reading
	Logs    []entities.LogEntry
	Events  []messages.Event
	Err     error
}

type job struct {
	payload []byte
	run     func(ctx context.Context) // link lifecycle work
	reply   chan Outcome
}

// Ingestor is the single owner of the ingestion stream: one worker handles
// queued jobs in arrival order, so the previous-reading comparison and the
// insert never interleave with another message.
type Ingestor struct {
	store  storage.ReadingStore
	policy policy.Reader
	out    Broadcaster

	queue   chan job
	stopped chan struct{}
	once    sync.Once

	linkUp atomic.Bool

	opTimeout      time.Duration
	enqueueTimeout time.Duration
	broker         string
	logger         *log.Logger
	m              *metrics.Metrics
	now            func() time.Time
}

func New(store storage.ReadingStore, pol policy.Reader, out Broadcaster, cfg Config) *Ingestor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ingestor{
		store:          store,
		policy:         pol,
		out:            out,
		queue:          make(chan job, cfg.QueueSize),
		stopped:        make(chan struct{}),
		opTimeout:      cfg.OpTimeout,
		enqueueTimeout: cfg.EnqueueTimeout,
		broker:         cfg.Broker,
		logger:         cfg.Logger,
		m:              cfg.Metrics,
		now:            cfg.Now,
	}
}

// Run processes queued jobs until ctx is done.
func (i *Ingestor) Run(ctx context.Context) {
	defer i.once.Do(func() { close(i.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-i.queue:
			i.handle(j)
		}
	}
}

// Handle is the broker.Handler for the telemetry topic. It queues the payload
// and returns; processing errors are recorded as log entries, not returned.
// When the queue stays full for EnqueueTimeout the message is dropped.
func (i *Ingestor) Handle(topic string, msg mqtt.Message) error {
	payload := append([]byte(nil), msg.Payload()...)

	ctx, cancel := context.WithTimeout(context.Background(), i.enqueueTimeout)
	defer cancel()
	err := i.enqueue(ctx, job{payload: payload})
	if errors.Is(err, context.DeadlineExceeded) {
		i.m.MessagesDropped.Inc()
		i.logger.Printf("ingest: queue full for %s, dropping message on %s", i.enqueueTimeout, topic)
		return ErrQueueFull
	}
	return err
}

// Submit queues payload and waits until it has been processed.
func (i *Ingestor) Submit(ctx context.Context, payload []byte) (Outcome, error) {
	reply := make(chan Outcome, 1)
	if err := i.enqueue(ctx, job{payload: payload, reply: reply}); err != nil {
		return Outcome{}, err
	}
	select {
	case o := <-reply:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-i.stopped:
		return Outcome{}, ErrStopped
	}
}

// Drain waits until every job queued before the call has been handled.
func (i *Ingestor) Drain(ctx context.Context) error {
	reply := make(chan Outcome, 1)
	if err := i.enqueue(ctx, job{run: func(context.Context) {}, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.stopped:
		return ErrStopped
	}
}

func (i *Ingestor) enqueue(ctx context.Context, j job) error {
	select {
	case i.queue <- j:
		return nil
	case <-i.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Ingestor) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), i.opTimeout)
	defer cancel()

	var o Outcome
	defer func() {
		if r := recover(); r != nil {
			i.logger.Printf("ingest: panic while processing message: %v", r)
			o = Outcome{Err: fmt.Errorf("panic: %v", r)}
		}
		if j.reply != nil {
			j.reply <- o
		}
	}()

	if j.run != nil {
		j.run(ctx)
		return
	}
	o = i.process(ctx, j.payload)
}

func (i *Ingestor) process(ctx context.Context, payload []byte) Outcome {
	var o Outcome

	t, err := messages.ParseTelemetry(payload)
	if err != nil {
		i.m.MessagesRejected.Inc()
		i.logger.Printf("ingest: rejected payload: %v", err)
		i.record(ctx, &o, failureLog(err))
		i.publish(&o)
		o.Err = err
		return o
	}

	pol, err := i.policy.Current(ctx)
	if err != nil {
		i.logger.Printf("ingest: reading policy, using defaults where missing: %v", err)
	}

	// previous state is captured before the insert
	prev, prevErr := i.store.LatestReading(ctx)
	if storage.IsNotFound(prevErr) {
		prev, prevErr = nil, nil
	}
	if prevErr != nil {
		i.logger.Printf("ingest: latest reading lookup failed: %v", prevErr)
	}

	r := &entities.Reading{
		Temperature:  t.Temperature,
		SoilMoisture: t.SoilMoisture,
		PumpOn:       t.PumpOn,
		Mode:         pol.Mode,
	}
	if err := i.store.InsertReading(ctx, r); err != nil {
		i.m.StoreErrors.WithLabelValues("insert_reading").Inc()
		i.logger.Printf("ingest: dropping reading, store write failed: %v", err)
		i.record(ctx, &o, failureLog(err))
		i.publish(&o)
		o.Err = fmt.Errorf("insert reading: %w", err)
		return o
	}
	i.m.MessagesIngested.Inc()
	o.Reading = r
	o.Events = append(o.Events, messages.SensorData{Reading: *r})

	if t.SoilMoisture < pol.MoistureThreshold {
		o.Events = append(o.Events, messages.Alert{
			Kind:      messages.AlertLowMoisture,
			Message:   lowMoistureMessage(t.SoilMoisture, pol.MoistureThreshold),
			Timestamp: i.now().UTC(),
		})
		i.record(ctx, &o, lowMoistureLog(t.SoilMoisture, pol.MoistureThreshold))
	}

	if prevErr == nil && pumpTransition(prev, t.PumpOn) {
		i.record(ctx, &o, pumpActionLog(prev, t.PumpOn))
	}

	i.publish(&o)
	return o
}

// record persists l and queues its newSystemLog event. A failed write is
// only diagnosed locally.
func (i *Ingestor) record(ctx context.Context, o *Outcome, l *entities.LogEntry) {
	if err := i.store.InsertLog(ctx, l); err != nil {
		i.m.StoreErrors.WithLabelValues("insert_log").Inc()
		i.logger.Printf("ingest: dropping %s log %q: %v", l.Kind, l.Message, err)
		return
	}
	i.m.LogEntries.WithLabelValues(string(l.Kind)).Inc()
	o.Logs = append(o.Logs, *l)
	o.Events = append(o.Events, messages.NewSystemLog{Log: *l})
}

func (i *Ingestor) publish(o *Outcome) {
	if i.out == nil {
		return
	}
	for _, e := range o.Events {
		i.out.Broadcast(e)
	}
}
