// Package timerange answers "readings in window W" from raw rows or from a
// precomputed windowed aggregate, falling back to raw rows when the
// aggregate path fails.
package timerange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/metrics"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/sony/gobreaker"
)

// DefaultRowCeiling caps aggregate results.
const DefaultRowCeiling = 1000

type Source string

const (
	SourceRaw       Source = "raw"
	SourceAggregate Source = "aggregate"
)

// UnknownWindowError is returned for identifiers outside the window table.
type UnknownWindowError struct {
	ID string
}

func (e *UnknownWindowError) Error() string {
	return fmt.Sprintf("unknown time range %q", e.ID)
}

// Reader is the slice of the store the resolver queries.
type Reader interface {
	ReadingsSince(ctx context.Context, since time.Time) ([]entities.Reading, error)
	AggregatedSince(ctx context.Context, width time.Duration, since time.Time, limit int) ([]entities.AggregatedBucket, error)
}

// Result holds exactly one of Readings or Buckets, newest first. Consumers
// sort chronologically when charting.
type Result struct {
	Window   Window
	Since    time.Time
	Source   Source
	Readings []entities.Reading
	Buckets  []entities.AggregatedBucket
}

// MarshalJSON renders the bare row array.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Source == SourceAggregate {
		if r.Buckets == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Buckets)
	}
	if r.Readings == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Readings)
}

// Len returns the number of rows in the result.
func (r Result) Len() int {
	if r.Source == SourceAggregate {
		return len(r.Buckets)
	}
	return len(r.Readings)
}

type Config struct {
	RowCeiling int
	// Timeout bounds one Resolve call; zero keeps the caller's deadline only.
	Timeout time.Duration
	// AggregateTimeout bounds the aggregate attempt. It never takes more than
	// half of the remaining deadline, the rest is left to the raw fallback.
	AggregateTimeout time.Duration
	// Breaker tuning for the aggregate path
	BreakerFails    int
	BreakerOpen     time.Duration
	BreakerInterval time.Duration

	Now     func() time.Time
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

type Resolver struct {
	store      Reader
	cb         *gobreaker.CircuitBreaker
	limit      int
	timeout    time.Duration
	aggTimeout time.Duration
	now        func() time.Time
	logger     *log.Logger
	m          *metrics.Metrics
}

func mkCB(name string, fails int, open, interval time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: interval,
		Timeout:  open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		// una richiesta annullata dal client non è un guasto della vista
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func NewResolver(store Reader, cfg Config) *Resolver {
	if cfg.RowCeiling <= 0 {
		cfg.RowCeiling = DefaultRowCeiling
	}
	if cfg.BreakerFails <= 0 {
		cfg.BreakerFails = 3
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	return &Resolver{
		store:      store,
		cb:         mkCB("aggregate-views", cfg.BreakerFails, cfg.BreakerOpen, cfg.BreakerInterval),
		limit:      cfg.RowCeiling,
		timeout:    cfg.Timeout,
		aggTimeout: cfg.AggregateTimeout,
		now:        cfg.Now,
		logger:     cfg.Logger,
		m:          cfg.Metrics,
	}
}

// Resolve returns the rows for window id. Aggregate failures are absorbed by
// the raw fallback; only an unknown window or a failing raw query is an error.
func (r *Resolver) Resolve(ctx context.Context, id string) (Result, error) {
	w, ok := Lookup(id)
	if !ok {
		return Result{}, &UnknownWindowError{ID: id}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res := Result{Window: w, Since: r.now().Add(-w.Duration)}

	if w.Aggregated() {
		aggCtx, aggCancel := r.aggregateContext(ctx)
		out, err := r.cb.Execute(func() (interface{}, error) {
			return r.store.AggregatedSince(aggCtx, w.Bucket, res.Since, r.limit)
		})
		aggCancel()
		if err == nil {
			res.Source = SourceAggregate
			res.Buckets = out.([]entities.AggregatedBucket)
			r.m.ResolverSource.WithLabelValues(string(SourceAggregate)).Inc()
			return res, nil
		}
		r.m.ResolverFallbacks.Inc()
		r.logger.Printf("timerange: aggregate %s for %s failed, falling back to raw: %v", w.Bucket, w.ID, err)
	}

	readings, err := r.store.ReadingsSince(ctx, res.Since)
	if err != nil {
		return Result{}, fmt.Errorf("readings since %s: %w", res.Since.Format(time.RFC3339), err)
	}
	res.Source = SourceRaw
	res.Readings = readings
	r.m.ResolverSource.WithLabelValues(string(SourceRaw)).Inc()
	return res, nil
}

// aggregateContext derives the aggregate sub-budget from ctx.
func (r *Resolver) aggregateContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := r.aggTimeout
	deadline, bounded := ctx.Deadline()
	if bounded {
		if half := time.Until(deadline) / 2; d <= 0 || half < d {
			d = half
		}
	}
	if d <= 0 && !bounded {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// BreakerState exposes the aggregate breaker for health reporting.
func (r *Resolver) BreakerState() string {
	return r.cb.State().String()
}
