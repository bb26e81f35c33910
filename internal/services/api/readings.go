package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/timerange"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/gin-gonic/gin"
)

const maxLimit = 1000

// intQuery returns the positive integer at key, def when absent or invalid,
// capped at maxLimit.
func intQuery(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// sensorReadings: timeRange wins, then since, then limit.
func (s *Server) sensorReadings(c *gin.Context) {
	ctx := c.Request.Context()

	if id := strings.TrimSpace(c.Query("timeRange")); id != "" {
		res, err := s.d.Resolver.Resolve(ctx, id)
		var unknown *timerange.UnknownWindowError
		switch {
		case errors.As(err, &unknown):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time range", "details": unknown.Error()})
			return
		case err != nil:
			s.fail(c, "resolve "+id, "Failed to fetch sensor readings", err)
			return
		}
		c.Header("X-Data-Source", string(res.Source))
		c.JSON(http.StatusOK, res)
		return
	}

	if v := strings.TrimSpace(c.Query("since")); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since timestamp", "details": "must be RFC 3339"})
			return
		}
		rows, err := s.d.Store.ReadingsSince(ctx, since)
		if err != nil {
			s.fail(c, "readings since", "Failed to fetch sensor readings", err)
			return
		}
		c.Header("X-Data-Source", string(timerange.SourceRaw))
		c.JSON(http.StatusOK, nonNil(rows))
		return
	}

	rows, err := s.d.Store.RecentReadings(ctx, intQuery(c, "limit", 100))
	if err != nil {
		s.fail(c, "recent readings", "Failed to fetch sensor readings", err)
		return
	}
	c.Header("X-Data-Source", string(timerange.SourceRaw))
	c.JSON(http.StatusOK, nonNil(rows))
}

func (s *Server) latestReading(c *gin.Context) {
	r, err := s.d.Store.LatestReading(c.Request.Context())
	if storage.IsNotFound(err) {
		c.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		s.fail(c, "latest reading", "Failed to fetch latest sensor reading", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) recentReadings(c *gin.Context) {
	rows, err := s.d.Store.RecentReadings(c.Request.Context(), intQuery(c, "limit", 10))
	if err != nil {
		s.fail(c, "recent readings", "Failed to fetch recent sensor readings", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

func (s *Server) timeRanges(c *gin.Context) {
	c.JSON(http.StatusOK, timerange.Windows())
}

func (s *Server) systemLogs(c *gin.Context) {
	logs, err := s.d.Store.RecentLogs(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		s.fail(c, "recent logs", "Failed to fetch system logs", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(logs))
}

type systemStatus struct {
	MQTT        string     `json:"mqtt"`
	Sensors     string     `json:"sensors"`
	Database    string     `json:"database"`
	LastReading *time.Time `json:"lastReading"`
}

func (s *Server) systemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st := systemStatus{MQTT: "disconnected", Sensors: "inactive", Database: "connected"}
	if s.d.Link != nil && s.d.Link.Connected() {
		st.MQTT = "connected"
	}
	if err := s.d.Store.Ping(ctx); err != nil {
		s.logger.Printf("api: status ping: %v", err)
		st.Database = "disconnected"
		c.JSON(http.StatusOK, st)
		return
	}

	latest, err := s.d.Store.LatestReading(ctx)
	switch {
	case storage.IsNotFound(err):
	case err != nil:
		s.fail(c, "status latest", "Failed to fetch system status", err)
		return
	default:
		ts := latest.Timestamp
		st.LastReading = &ts
		if ts.After(s.now().Add(-s.cfg.StalenessBound)) {
			st.Sensors = "active"
		}
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) settings(c *gin.Context) {
	p, err := policy.NewStoreReader(s.d.Store).Current(c.Request.Context())
	if err != nil {
		s.fail(c, "settings", "Failed to fetch settings", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) setting(c *gin.Context) {
	st, err := s.d.Store.GetSetting(c.Request.Context(), c.Param("key"))
	if storage.IsNotFound(err) {
		c.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		s.fail(c, "setting "+c.Param("key"), "Failed to fetch setting", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
