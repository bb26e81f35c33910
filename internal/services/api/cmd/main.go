package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/api"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/command"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/fanout"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/ingest"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/sample"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/timerange"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage/influx"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage/postgres"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage/sqlite"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
	"github.com/LeonardoBeccarini/soilwatch/pkg/config"
	"github.com/LeonardoBeccarini/soilwatch/pkg/dedup"
)

// linkFunc adapts a closure to fanout.LinkStatus.
type linkFunc func() bool

func (f linkFunc) Connected() bool { return f() }

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.ReadingStore, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Connect(cfg.ConnectionString())
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(); err != nil {
			_ = db.Close()
			return nil, err
		}
		// viste continue: best-effort, il resolver ripiega sui dati raw
		db.EnsureAggregates(ctx)
		return db, nil
	default:
		return sqlite.NewFileStore(cfg.SQLitePath)
	}
}

func main() {
	// === Config ===
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// === Storage ===
	primary, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("storage (%s): %v", cfg.Database.Driver, err)
	}
	var store storage.ReadingStore = primary
	var mirror *influx.Writer
	if cfg.Influx.Enabled() {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(50).
			SetFlushInterval(1000)
		client := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, opts)
		defer client.Close()
		mirror = influx.NewWriter(client.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket))
		store = influx.NewMirror(primary, mirror)
		log.Printf("backend: mirroring to influx %s bucket=%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}
	pol := policy.NewStoreReader(store)

	// === Ingestion + fan-out ===
	var ing *ingest.Ingestor
	hub := fanout.NewHub(store, linkFunc(func() bool { return ing != nil && ing.Connected() }), fanout.Config{
		SnapshotLogs: cfg.Ingest.SnapshotLog,
		Metrics:      m,
	})
	ing = ingest.New(store, pol, hub, ingest.Config{
		QueueSize: cfg.Ingest.QueueSize,
		Broker:    cfg.Broker.Link().BrokerURL(),
		Metrics:   m,
	})

	runCtx, stopIngest := context.WithCancel(context.Background())
	ingestDone := make(chan struct{})
	go func() {
		ing.Run(runCtx)
		close(ingestDone)
	}()

	// === MQTT ===
	var consumerRef atomic.Pointer[broker.Consumer]
	mqttClient, err := broker.NewConn(ctx, cfg.Broker.Link(), ing.Hooks(func() {
		if c := consumerRef.Load(); c != nil {
			c.Resubscribe()
		}
	}))
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	consumer := broker.NewConsumer(mqttClient, cfg.Broker.TelemetryTopic, 1, ing.Handle).
		WithDeduper(dedup.New(10*time.Minute, 20000))
	consumerRef.Store(consumer)
	go func() {
		log.Printf("backend: subscribing to %s", cfg.Broker.TelemetryTopic)
		if err := consumer.ConsumeMessage(ctx); err != nil {
			log.Printf("backend: telemetry subscription: %v", err)
		}
	}()
	commands := command.NewPublisher(broker.NewPublisher(mqttClient, cfg.Broker.ControlTopic, 1), store, hub, nil, m)

	// === Query side ===
	resolver := timerange.NewResolver(store, timerange.Config{Timeout: cfg.HTTP.QueryTimeout, Metrics: m})
	producer := sample.NewProducer(store, pol, ing, nil, cfg.Sample.Interval, nil)
	if cfg.Sample.AutoStart {
		producer.Start(ctx)
	}

	deps := api.Deps{
		Store:    store,
		Resolver: resolver,
		Commands: commands,
		Sample:   producer,
		Link:     ing,
		Live:     hub,
		Events:   hub,
		Metrics:  m,
		Base:     ctx,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	srv := api.NewServer(deps, api.Config{
		QueryTimeout:   cfg.HTTP.QueryTimeout,
		StalenessBound: cfg.HTTP.StalenessBound,
		AccessLog:      true,
	})

	// === HTTP ===
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("backend: HTTP listening on %s", cfg.HTTP.Addr())
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// === Wait for signal ===
	<-ctx.Done()
	log.Printf("backend: shutting down...")

	producer.Stop()
	ing.LinkClosed()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	hub.Close()

	// svuota la coda di ingestione prima di chiudere lo storage
	if err := ing.Drain(shCtx); err != nil {
		log.Printf("backend: ingest drain: %v", err)
	}
	stopIngest()
	<-ingestDone

	mirror.Flush()
	if err := store.Close(); err != nil {
		log.Printf("backend: storage close: %v", err)
	}
}
