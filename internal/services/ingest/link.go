package ingest

import (
	"context"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
)

// Connected reports the ingestion link flag.
func (i *Ingestor) Connected() bool {
	return i.linkUp.Load()
}

// Hooks wires broker link transitions into the ingestor. resubscribe runs on
// every (re)connect before the lifecycle entry is recorded.
func (i *Ingestor) Hooks(resubscribe func()) broker.Hooks {
	return broker.Hooks{
		OnConnect: func() {
			if resubscribe != nil {
				resubscribe()
			}
			i.LinkUp()
		},
		OnConnectionLost: i.LinkLost,
		OnReconnecting: func() {
			i.logger.Printf("ingest: broker link reconnecting")
		},
	}
}

// LinkUp flips the flag and records the connection.
func (i *Ingestor) LinkUp() {
	i.linkUp.Store(true)
	i.m.LinkUp.Set(1)
	i.lifecycle(storage.NewLogEntry(entities.LogInfo, "MQTT connection established",
		metadata(map[string]any{"broker": i.broker})), true)
}

// LinkLost flips the flag and records the failure.
func (i *Ingestor) LinkLost(err error) {
	i.linkUp.Store(false)
	i.m.LinkUp.Set(0)
	msg := "unknown"
	if err != nil {
		msg = err.Error()
	}
	i.lifecycle(storage.NewLogEntry(entities.LogError, "MQTT connection lost",
		metadata(map[string]any{"error": msg})), false)
}

// LinkClosed records an orderly shutdown of the link.
func (i *Ingestor) LinkClosed() {
	i.linkUp.Store(false)
	i.m.LinkUp.Set(0)
	i.lifecycle(storage.NewLogEntry(entities.LogInfo, "MQTT connection closed", ""), false)
}

// lifecycle queues the log write and pushes behind pending telemetry. Paho
// callbacks must not block, so a full or stopped queue only loses the entry.
func (i *Ingestor) lifecycle(l *entities.LogEntry, up bool) {
	status := messages.ConnectionStatus{MQTT: up, Timestamp: i.now().UTC()}
	j := job{run: func(ctx context.Context) {
		var o Outcome
		i.record(ctx, &o, l)
		o.Events = append(o.Events, status)
		i.publish(&o)
	}}
	select {
	case i.queue <- j:
	case <-i.stopped:
		i.logger.Printf("ingest: %s after stop", l.Message)
	default:
		i.logger.Printf("ingest: queue full, lifecycle entry %q dropped", l.Message)
		if i.out != nil {
			i.out.Broadcast(status)
		}
	}
}
