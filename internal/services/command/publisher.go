// Package command turns operator control intents into outbound controller
// commands plus the matching settings update.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// CommandSink is the outbound control topic. PublishAsync must not block on
// broker acknowledgement.
type CommandSink interface {
	PublishAsync(message string, onErr func(error))
}

// Store is the persistence the publisher writes to.
type Store interface {
	SetSettings(ctx context.Context, kv map[string]string) error
	InsertLog(ctx context.Context, l *entities.LogEntry) error
}

type Broadcaster interface {
	Broadcast(e messages.Event)
}

type Publisher struct {
	sink   CommandSink
	store  Store
	out    Broadcaster
	logger *log.Logger
	m      *metrics.Metrics
}

func NewPublisher(sink CommandSink, store Store, out Broadcaster, logger *log.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Publisher{sink: sink, store: store, out: out, logger: logger, m: m}
}

// Result lists what Apply handed to the broker and persisted.
type Result struct {
	Commands []string          `json:"commands"`
	Settings map[string]string `json:"settings"`
}

// Apply publishes the commands for intent fire-and-forget, then persists the
// settings as one batch and records the commands. A publish failure never
// fails the call; a settings write failure does.
func (p *Publisher) Apply(ctx context.Context, intent messages.ControlIntent) (Result, error) {
	if err := intent.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{Settings: settingsFor(intent)}

	modeCmd := intent.ModeCommand()
	p.send(modeCmd)
	res.Commands = append(res.Commands, modeCmd)

	thresholdCmd, hasThreshold := intent.ThresholdCommand()
	if hasThreshold {
		p.send(thresholdCmd)
		res.Commands = append(res.Commands, thresholdCmd)
	}

	if err := p.store.SetSettings(ctx, res.Settings); err != nil {
		p.m.StoreErrors.WithLabelValues("set_settings").Inc()
		return Result{}, fmt.Errorf("persist settings: %w", err)
	}

	modeMeta := map[string]any{"command": modeCmd, "mode": string(intent.Mode)}
	if intent.PumpState != nil {
		modeMeta["pumpState"] = *intent.PumpState
	}
	p.record(ctx, storage.NewLogEntry(entities.LogInfo, "Command sent: "+modeCmd, encode(modeMeta)))

	if hasThreshold {
		n := *intent.MoistureThreshold
		p.record(ctx, storage.NewLogEntry(entities.LogInfo,
			fmt.Sprintf("Moisture threshold updated: %d%%", n),
			encode(map[string]any{"threshold": n, "command": thresholdCmd})))
	}

	return res, nil
}

func (p *Publisher) send(cmd string) {
	p.m.CommandsPublished.Inc()
	p.sink.PublishAsync(cmd, func(err error) {
		p.m.CommandsFailed.Inc()
		p.logger.Printf("command: %q not delivered: %v", cmd, err)
	})
}

func (p *Publisher) record(ctx context.Context, l *entities.LogEntry) {
	if err := p.store.InsertLog(ctx, l); err != nil {
		p.m.StoreErrors.WithLabelValues("insert_log").Inc()
		p.logger.Printf("command: dropping log %q: %v", l.Message, err)
		return
	}
	p.m.LogEntries.WithLabelValues(string(l.Kind)).Inc()
	if p.out != nil {
		p.out.Broadcast(messages.NewSystemLog{Log: *l})
	}
}

func settingsFor(intent messages.ControlIntent) map[string]string {
	kv := map[string]string{entities.KeySystemMode: string(intent.Mode)}
	if pump, ok := intent.ManualPump(); ok {
		kv[entities.KeyManualPumpState] = pump
	}
	if intent.MoistureThreshold != nil {
		kv[entities.KeyMoistureThreshold] = strconv.Itoa(*intent.MoistureThreshold)
	}
	return kv
}

func encode(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
