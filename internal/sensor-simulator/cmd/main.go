// cmd/sensor-sim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	sensorSimulator "github.com/LeonardoBeccarini/soilwatch/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
	"github.com/LeonardoBeccarini/soilwatch/pkg/config"
	"github.com/LeonardoBeccarini/soilwatch/pkg/dedup"
)

func main() {
	// define flags
	clientID := flag.String("client-id", "soilwatch-field-sim", "MQTT client ID")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	seed := flag.Float64("seed", 0.5, "initial soil moisture in [0..1]")
	decay := flag.Float64("decay", 0.004, "moisture loss per minute with the pump off")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg.Broker.ClientID = *clientID

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// il consumer esiste solo dopo la connessione
	var consumerRef atomic.Pointer[broker.Consumer]
	client, err := broker.NewConn(ctx, cfg.Broker.Link(), broker.Hooks{
		OnConnect: func() {
			if c := consumerRef.Load(); c != nil {
				c.Resubscribe()
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	publisher := broker.NewPublisher(client, cfg.Broker.TelemetryTopic, 1)
	consumer := broker.NewConsumer(client, cfg.Broker.ControlTopic, 1, nil).
		WithDeduper(dedup.New(2*time.Minute, 10000)) // TTL e cap
	consumerRef.Store(consumer)

	generator := sensorSimulator.NewDataGenerator(*decay, *seed)
	simulatedSensor := sensorSimulator.NewSensorSimulator(consumer, publisher, generator)

	log.Printf("sensor: publishing on %q, commands on %q every %s",
		cfg.Broker.TelemetryTopic, cfg.Broker.ControlTopic, *interval)
	simulatedSensor.Start(ctx, *interval)
}
