package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const pingTimeout = 2 * time.Second

type healthStatus struct {
	Status          string   `json:"status"`
	MQTTConnected   bool     `json:"mqtt_connected"`
	StorageOK       bool     `json:"storage_ok"`
	InfluxEnabled   bool     `json:"influx_enabled"`
	LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
}

func (s *Server) check(ctx context.Context) healthStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	st := healthStatus{
		MQTTConnected: s.d.Link != nil && s.d.Link.Connected(),
		StorageOK:     s.d.Store.Ping(ctx) == nil,
		InfluxEnabled: s.d.Mirror != nil,
	}
	mirrorOK := true
	if s.d.Mirror != nil {
		age := s.d.Mirror.LastErrorAge()
		secs := age.Seconds()
		st.LastWriteErrorS = &secs
		mirrorOK = age > s.cfg.MirrorErrorAge
	}

	// ok se deps ok e nessun errore recente di scrittura
	switch {
	case st.MQTTConnected && st.StorageOK && mirrorOK:
		st.Status = "ok"
	case st.MQTTConnected || st.StorageOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.check(c.Request.Context()))
}

// ready: 200 solo se link e storage sono ok.
func (s *Server) ready(c *gin.Context) {
	st := s.check(c.Request.Context())
	ready := st.MQTTConnected && st.StorageOK
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready})
}
