package entities

import "time"

// AggregatedBucket is one row of a precomputed windowed view.
// The core reads these but never writes them.
type AggregatedBucket struct {
	BucketStart     time.Time `json:"timestamp"`
	AvgTemperature  float64   `json:"avgTemperature"`
	MinTemperature  float64   `json:"minTemperature"`
	MaxTemperature  float64   `json:"maxTemperature"`
	AvgSoilMoisture float64   `json:"avgSoilMoisture"`
	MinSoilMoisture int       `json:"minSoilMoisture"`
	MaxSoilMoisture int       `json:"maxSoilMoisture"`
	ReadingCount    int64     `json:"readingCount"`
	PumpWasActive   bool      `json:"pumpWasActive"`
}
