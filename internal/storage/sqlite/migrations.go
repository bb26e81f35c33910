package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// schema contains the database schema DDL. Timestamps are unix milliseconds
// so that bucket arithmetic in the views stays integer.
const schema = `
-- Telemetry readings
CREATE TABLE IF NOT EXISTS sensor_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_ms INTEGER NOT NULL,
    temperature REAL NOT NULL,
    soil_moisture INTEGER NOT NULL,
    pump_status INTEGER NOT NULL,
    system_mode TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_ts ON sensor_readings(ts_ms DESC);

-- System logs
CREATE TABLE IF NOT EXISTS system_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_ms INTEGER NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_system_logs_ts ON system_logs(ts_ms DESC);

-- Settings
CREATE TABLE IF NOT EXISTS system_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
);
`

// aggregateWidths are the windowed views the embedded engine maintains.
var aggregateWidths = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	6 * time.Hour,
	12 * time.Hour,
}

func viewsDDL() string {
	var b strings.Builder
	for _, w := range aggregateWidths {
		name, _ := storage.ViewName(w)
		ms := w.Milliseconds()
		fmt.Fprintf(&b, `
CREATE VIEW IF NOT EXISTS %s AS
SELECT
    (ts_ms / %d) * %d AS bucket,
    AVG(temperature) AS avg_temperature,
    MIN(temperature) AS min_temperature,
    MAX(temperature) AS max_temperature,
    AVG(soil_moisture) AS avg_soil_moisture,
    MIN(soil_moisture) AS min_soil_moisture,
    MAX(soil_moisture) AS max_soil_moisture,
    COUNT(*) AS reading_count,
    MAX(pump_status) AS pump_was_active
FROM sensor_readings
GROUP BY (ts_ms / %d);
`, name, ms, ms, ms)
	}
	return b.String()
}
