// Package fanout pushes live event envelopes to WebSocket observers.
package fanout

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Snapshotter supplies the state sent to a new observer.
type Snapshotter interface {
	LatestReading(ctx context.Context) (*entities.Reading, error)
	RecentLogs(ctx context.Context, limit int) ([]entities.LogEntry, error)
}

// LinkStatus reports the ingestion link flag.
type LinkStatus interface {
	Connected() bool
}

type Config struct {
	SendBuffer      int
	SnapshotLogs    int
	SnapshotTimeout time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxObservers    int
	Logger          *log.Logger
	Metrics         *metrics.Metrics
}

// ObserverInfo describes one open observer connection.
type ObserverInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Hub gestisce le connessioni degli observer e il broadcast degli eventi.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*observer

	upgrader websocket.Upgrader
	snap     Snapshotter
	link     LinkStatus
	cfg      Config
	logger   *log.Logger
	m        *metrics.Metrics
}

func NewHub(snap Snapshotter, link LinkStatus, cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.SnapshotLogs <= 0 {
		cfg.SnapshotLogs = 10
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxObservers <= 0 {
		cfg.MaxObservers = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	return &Hub{
		observers: make(map[string]*observer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		snap:   snap,
		link:   link,
		cfg:    cfg,
		logger: cfg.Logger,
		m:      cfg.Metrics,
	}
}

// Broadcast encodes e once and offers it to every observer without blocking.
// An observer whose buffer is full is dropped.
func (h *Hub) Broadcast(e messages.Event) {
	frame, err := messages.EncodeEvent(e)
	if err != nil {
		h.logger.Printf("fanout: encode %s: %v", e.Type(), err)
		return
	}
	h.m.EventsPushed.WithLabelValues(string(e.Type())).Inc()

	var slow []string
	h.mu.RLock()
	for id, o := range h.observers {
		if !o.offer(frame) {
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.m.FanoutDrops.Inc()
		h.logger.Printf("fanout: observer %s too slow, dropping", id)
		h.remove(id)
	}
}

// ServeHTTP upgrades the request to an observer connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Count() >= h.cfg.MaxObservers {
		http.Error(w, "too many observers", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("fanout: upgrade failed: %v", err)
		return
	}

	o := newObserver(uuid.NewString(), conn, h.cfg.SendBuffer+3)

	// registered before the snapshot is read: events broadcast meanwhile
	// wait in the backlog and are delivered right after it
	o.pending = true
	h.add(o)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.SnapshotTimeout)
	events := h.snapshot(ctx)
	cancel()
	frames := make([][]byte, 0, len(events))
	for _, e := range events {
		frame, err := messages.EncodeEvent(e)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}

	h.mu.RLock()
	_, live := h.observers[o.info.ID]
	released := live && o.release(frames)
	h.mu.RUnlock()
	if !live {
		// dropped while pending, remove already closed it
		return
	}
	if !released {
		h.m.FanoutDrops.Inc()
		h.logger.Printf("fanout: observer %s too slow, dropping", o.info.ID)
		h.remove(o.info.ID)
		return
	}
	h.logger.Printf("fanout: observer %s connected from %s", o.info.ID, r.RemoteAddr)

	go o.writePump(h.cfg.WriteTimeout, h.cfg.PingInterval, func() { h.remove(o.info.ID) })
	go o.readPump(func() { h.remove(o.info.ID) })
}

func (h *Hub) snapshot(ctx context.Context) []messages.Event {
	var events []messages.Event

	if latest, err := h.snap.LatestReading(ctx); err == nil {
		events = append(events, messages.SensorData{Reading: *latest})
	} else if !storage.IsNotFound(err) {
		h.logger.Printf("fanout: snapshot latest reading: %v", err)
	}

	logs, err := h.snap.RecentLogs(ctx, h.cfg.SnapshotLogs)
	if err != nil {
		h.logger.Printf("fanout: snapshot logs: %v", err)
	}
	events = append(events, messages.SystemLogs{Logs: logs})

	connected := h.link != nil && h.link.Connected()
	events = append(events, messages.ConnectionStatus{MQTT: connected, Timestamp: time.Now().UTC()})
	return events
}

func (h *Hub) add(o *observer) {
	h.mu.Lock()
	h.observers[o.info.ID] = o
	n := len(h.observers)
	h.mu.Unlock()
	h.m.Observers.Set(float64(n))
}

// remove is idempotent. Closing send under the write lock guarantees no
// Broadcast is offering to it.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	o, ok := h.observers[id]
	if ok {
		delete(h.observers, id)
		close(o.send)
	}
	n := len(h.observers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.m.Observers.Set(float64(n))
	o.close()
	h.logger.Printf("fanout: observer %s disconnected", id)
}

// Count returns the number of open observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Observers returns a copy of the registry.
func (h *Hub) Observers() []ObserverInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ObserverInfo, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, o.info)
	}
	return out
}

// Close drops every observer.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.remove(id)
	}
}
