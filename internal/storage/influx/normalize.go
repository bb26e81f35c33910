package influx

import (
	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	MeasurementReading = "sensor_reading"
	MeasurementLog     = "system_log"
)

// ReadingToPoint normalizza una Reading in un *write.Point.
func ReadingToPoint(r entities.Reading) *write.Point {
	tags := map[string]string{
		"system_mode": string(r.Mode),
		"pump":        entities.PumpLabel(r.PumpOn),
	}
	fields := map[string]interface{}{
		"temperature":   r.Temperature,
		"soil_moisture": int64(r.SoilMoisture),
		"pump_on":       r.PumpOn,
		"reading_id":    r.ID,
	}
	return influxdb2.NewPoint(MeasurementReading, tags, fields, r.Timestamp)
}

// LogToPoint normalizza un LogEntry; il messaggio finisce nei field, il tipo nei tag.
func LogToPoint(l entities.LogEntry) *write.Point {
	tags := map[string]string{
		"type": string(l.Kind),
	}
	fields := map[string]interface{}{
		"message": l.Message,
		"log_id":  l.ID,
	}
	if l.Metadata != nil {
		fields["metadata"] = *l.Metadata
	}
	return influxdb2.NewPoint(MeasurementLog, tags, fields, l.Timestamp)
}
