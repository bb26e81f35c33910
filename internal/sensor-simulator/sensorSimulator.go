// Package sensor_simulator emulates the irrigation field controller over MQTT:
// it publishes firmware-format telemetry and obeys control-topic commands.
package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// State è la configurazione corrente del controller.
type State struct {
	Mode       entities.Mode
	ManualPump bool
	Threshold  int
	PumpOn     bool
}

// firmwarePayload riproduce le chiavi pubblicate dal firmware.
type firmwarePayload struct {
	Suhu       float64 `json:"suhu"`
	Kelembaban float64 `json:"kelembaban"`
	Tanah      int     `json:"tanah"`
	Pompa      string  `json:"pompa"`
}

type SensorSimulator struct {
	mu        sync.Mutex
	state     State
	generator *DataGenerator
	publisher broker.IPublisher
	consumer  broker.IConsumer
}

func NewSensorSimulator(consumer broker.IConsumer, publisher broker.IPublisher, gen *DataGenerator) *SensorSimulator {
	return &SensorSimulator{
		state: State{
			Mode:      entities.DefaultMode,
			Threshold: entities.DefaultMoistureThreshold,
		},
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
	}
}

// Start avvia la ricezione dei comandi e la pubblicazione dei dati a intervalli regolari.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	// comandi
	s.consumer.SetHandler(s.handleMessage)
	go func() {
		if err := s.consumer.ConsumeMessage(ctx); err != nil {
			log.Printf("sensor: control subscription: %v", err)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.publishOnce(); err != nil {
				log.Printf("sensor: publish error: %v", err)
			}
		}
	}
}

// publishOnce genera un campione, aggiorna la pompa e lo pubblica.
func (s *SensorSimulator) publishOnce() error {
	s.mu.Lock()
	pumpOn := s.state.PumpOn
	s.mu.Unlock()

	sample := s.generator.Next(pumpOn)

	s.mu.Lock()
	s.state.PumpOn = s.decidePump(sample.Moisture)
	pumpOn = s.state.PumpOn
	mode := s.state.Mode
	s.mu.Unlock()

	payload, err := json.Marshal(firmwarePayload{
		Suhu:       sample.Temperature,
		Kelembaban: sample.Humidity,
		Tanah:      sample.Moisture,
		Pompa:      entities.PumpLabel(pumpOn),
	})
	if err != nil {
		return err
	}
	log.Printf("sensor: pub T=%.1f H=%.0f M=%d%% P=%s mode=%s",
		sample.Temperature, sample.Humidity, sample.Moisture, entities.PumpLabel(pumpOn), mode)
	return s.publisher.PublishMessage(string(payload))
}

// decidePump va chiamata con s.mu acquisito.
func (s *SensorSimulator) decidePump(moisture int) bool {
	if s.state.Mode == entities.ModeManual {
		return s.state.ManualPump
	}
	return moisture < s.state.Threshold
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	cmd, err := messages.ParseCommand(string(msg.Payload()))
	if err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	s.apply(cmd)
	return nil
}

func (s *SensorSimulator) apply(cmd messages.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.Threshold != nil {
		n := *cmd.Threshold
		if n < entities.MinMoistureThreshold || n > entities.MaxMoistureThreshold {
			log.Printf("sensor: threshold %d out of range, ignored", n)
			return
		}
		s.state.Threshold = n
		log.Printf("sensor: threshold → %d%%", n)
		return
	}

	s.state.Mode = cmd.Mode
	if cmd.PumpOn != nil {
		s.state.ManualPump = *cmd.PumpOn
	}
	if cmd.Mode == entities.ModeManual {
		// in manuale la pompa segue subito l'operatore
		s.state.PumpOn = s.state.ManualPump
	}
	log.Printf("sensor: mode → %s pump=%s", s.state.Mode, entities.PumpLabel(s.state.PumpOn))
}

// Snapshot restituisce una copia dello stato corrente.
func (s *SensorSimulator) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
