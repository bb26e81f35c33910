// Package influx mirrors persisted readings and logs to InfluxDB.
package influx

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Writer incapsula WriteAPI e traccia l'ultimo errore di scrittura per /healthz e /readyz.
type Writer struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	written map[string]int64
}

// NewWriter inizializza il writer e attiva il listener degli errori asincroni di Influx.
func NewWriter(w api.WriteAPI) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		written: make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.markError()
				log.Printf("influx: write error: %v", err)
			}
		}
	}()
	return ww
}

func (w *Writer) markError() {
	w.mu.Lock()
	w.lastErr = time.Now()
	w.mu.Unlock()
}

// Write accoda il punto senza bloccare; il flush avviene in background.
func (w *Writer) Write(measurement string, p *write.Point) {
	if w == nil || p == nil {
		return
	}
	w.api.WritePoint(p)
	w.mu.Lock()
	w.written[measurement]++
	w.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Count returns how many points were queued for measurement.
func (w *Writer) Count(measurement string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written[measurement]
}

// Flush forces pending points out, used on shutdown.
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.api.Flush()
}
