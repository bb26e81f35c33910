package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// aggregateSpec describes one continuous aggregate and its refresh policy.
type aggregateSpec struct {
	Width      time.Duration
	Bucket     string
	StartOff   string
	EndOff     string
	ScheduleIv string
}

var aggregateSpecs = []aggregateSpec{
	{5 * time.Minute, "5 minutes", "1 hour", "5 minutes", "5 minutes"},
	{15 * time.Minute, "15 minutes", "3 hours", "15 minutes", "15 minutes"},
	{30 * time.Minute, "30 minutes", "6 hours", "30 minutes", "30 minutes"},
	{time.Hour, "1 hour", "1 day", "1 hour", "1 hour"},
	{6 * time.Hour, "6 hours", "7 days", "6 hours", "6 hours"},
	{12 * time.Hour, "12 hours", "14 days", "12 hours", "12 hours"},
}

func (a aggregateSpec) viewDDL() string {
	name, _ := storage.ViewName(a.Width)
	return fmt.Sprintf(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS %s
		WITH (timescaledb.continuous) AS
		SELECT
		  time_bucket('%s', timestamp) AS bucket,
		  AVG(temperature) AS avg_temperature,
		  MIN(temperature) AS min_temperature,
		  MAX(temperature) AS max_temperature,
		  AVG(soil_moisture) AS avg_soil_moisture,
		  MIN(soil_moisture) AS min_soil_moisture,
		  MAX(soil_moisture) AS max_soil_moisture,
		  COUNT(*) AS reading_count,
		  bool_or(pump_status) AS pump_was_active
		FROM sensor_readings
		GROUP BY bucket
		WITH NO DATA;
	`, name, a.Bucket)
}

func (a aggregateSpec) policyDDL() string {
	name, _ := storage.ViewName(a.Width)
	return fmt.Sprintf(`
		SELECT add_continuous_aggregate_policy('%s',
		  start_offset => INTERVAL '%s',
		  end_offset => INTERVAL '%s',
		  schedule_interval => INTERVAL '%s',
		  if_not_exists => TRUE);
	`, name, a.StartOff, a.EndOff, a.ScheduleIv)
}

// hypertableDDL converts sensor_readings once. A hypertable needs the
// partitioning column in every unique constraint, so the single column key
// is swapped for (id, timestamp). The DO block runs as one transaction.
const hypertableDDL = `
	DO $$
	BEGIN
	  IF NOT EXISTS (
	    SELECT 1 FROM timescaledb_information.hypertables
	    WHERE hypertable_name = 'sensor_readings'
	  ) THEN
	    ALTER TABLE sensor_readings DROP CONSTRAINT IF EXISTS sensor_readings_pkey;
	    PERFORM create_hypertable('sensor_readings', 'timestamp', migrate_data => TRUE);
	    ALTER TABLE sensor_readings ADD PRIMARY KEY (id, timestamp);
	  END IF;
	END $$;
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureAggregates provisions the TimescaleDB continuous aggregates when the
// extension is available. Failures are logged and never fatal: queries fall
// back to raw readings when a view is missing.
func (db *DB) EnsureAggregates(ctx context.Context) {
	ensureAggregates(ctx, db.DB)
}

func ensureAggregates(ctx context.Context, ex execer) {
	if _, err := ex.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE`); err != nil {
		log.Printf("postgres: timescaledb unavailable, aggregate views not provisioned: %v", err)
		return
	}
	// le viste continue richiedono una hypertable
	if _, err := ex.ExecContext(ctx, hypertableDDL); err != nil {
		log.Printf("postgres: sensor_readings is not a hypertable, aggregate views not provisioned: %v", err)
		return
	}

	for _, a := range aggregateSpecs {
		name, _ := storage.ViewName(a.Width)
		if _, err := ex.ExecContext(ctx, a.viewDDL()); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			log.Printf("postgres: could not create aggregate %s: %v", name, err)
			continue
		}
		if _, err := ex.ExecContext(ctx, a.policyDDL()); err != nil {
			log.Printf("postgres: could not add refresh policy for %s: %v", name, err)
		}
	}
}
