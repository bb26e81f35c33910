// Package api serves the read query surface, the control intake and the
// live observer endpoint over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/command"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/timerange"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolver answers symbolic time-range queries.
type Resolver interface {
	Resolve(ctx context.Context, id string) (timerange.Result, error)
}

// Commander applies a validated control intent.
type Commander interface {
	Apply(ctx context.Context, intent messages.ControlIntent) (command.Result, error)
}

// SampleStarter starts the synthetic telemetry source.
type SampleStarter interface {
	Start(ctx context.Context) bool
}

// Broadcaster pushes an event to live observers.
type Broadcaster interface {
	Broadcast(e messages.Event)
}

// LinkStatus reports the ingestion link flag.
type LinkStatus interface {
	Connected() bool
}

// ErrorAger reports the age of the last mirror write error.
type ErrorAger interface {
	LastErrorAge() time.Duration
}

type Config struct {
	QueryTimeout   time.Duration
	StalenessBound time.Duration
	// MirrorErrorAge is the minimum age of the last mirror error for /healthz "ok".
	MirrorErrorAge time.Duration
	AccessLog      bool
	Now            func() time.Time
	Logger         *log.Logger
}

// Deps are the collaborators behind the routes. Mirror and Gatherer are optional.
type Deps struct {
	Store    storage.ReadingStore
	Resolver Resolver
	Commands Commander
	Sample   SampleStarter
	Link     LinkStatus
	Live     http.Handler
	Events   Broadcaster
	Mirror   ErrorAger
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	// Base outlives single requests; the sample producer runs on it.
	Base context.Context
}

type Server struct {
	d      Deps
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

func NewServer(d Deps, cfg Config) *Server {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.StalenessBound <= 0 {
		cfg.StalenessBound = 5 * time.Minute
	}
	if cfg.MirrorErrorAge <= 0 {
		cfg.MirrorErrorAge = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if d.Base == nil {
		d.Base = context.Background()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	return &Server{d: d, cfg: cfg, logger: cfg.Logger, now: cfg.Now}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.cfg.AccessLog {
		r.Use(gin.Logger())
	}

	r.GET("/healthz", s.health)
	r.GET("/readyz", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{})))
	if s.d.Live != nil {
		r.GET("/ws", gin.WrapH(s.d.Live))
	}

	api := r.Group("/api", queryTimeout(s.cfg.QueryTimeout))
	api.GET("/sensor-readings", s.sensorReadings)
	api.GET("/sensor-readings/latest", s.latestReading)
	api.GET("/sensor-readings/recent", s.recentReadings)
	api.GET("/time-ranges", s.timeRanges)
	api.GET("/system-logs", s.systemLogs)
	api.GET("/system-status", s.systemStatus)
	api.GET("/settings", s.settings)
	api.GET("/settings/:key", s.setting)
	api.POST("/control", s.control)
	api.POST("/generate-sample-data", s.generateSampleData)
	return r
}

// queryTimeout applies a request-scoped deadline to the handler context.
func queryTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// fail logs the cause locally and answers with a fixed message only.
func (s *Server) fail(c *gin.Context, op, msg string, err error) {
	s.logger.Printf("api: %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
