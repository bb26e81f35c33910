package api

import (
	"errors"
	"net/http"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
	"github.com/gin-gonic/gin"
)

func (s *Server) control(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid command format", "details": "unreadable body"})
		return
	}
	intent, err := messages.DecodeControlIntent(body)
	if err != nil {
		s.invalid(c, err)
		return
	}

	res, err := s.d.Commands.Apply(c.Request.Context(), intent)
	if err != nil {
		var ve *messages.ValidationError
		if errors.As(err, &ve) {
			s.invalid(c, err)
			return
		}
		s.fail(c, "control", "Failed to send command", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"mode":              intent.Mode,
		"pumpState":         intent.PumpState,
		"moistureThreshold": intent.MoistureThreshold,
		"commands":          res.Commands,
	})
}

func (s *Server) invalid(c *gin.Context, err error) {
	var ve *messages.ValidationError
	if !errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid command format"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid command format",
		"field":   ve.Field,
		"details": ve.Constraint,
	})
}

func (s *Server) generateSampleData(c *gin.Context) {
	if s.d.Sample == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sample data generation unavailable"})
		return
	}
	started := s.d.Sample.Start(s.d.Base)

	l := storage.NewLogEntry(entities.LogInfo, "Sample data generation started for testing", "")
	if err := s.d.Store.InsertLog(c.Request.Context(), l); err != nil {
		s.fail(c, "sample log", "Failed to start sample data generation", err)
		return
	}
	s.d.Metrics.LogEntries.WithLabelValues(string(l.Kind)).Inc()
	if s.d.Events != nil {
		s.d.Events.Broadcast(messages.NewSystemLog{Log: *l})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Sample data generation started", "alreadyRunning": !started})
}
