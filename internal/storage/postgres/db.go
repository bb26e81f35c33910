// Package postgres implements storage.ReadingStore on PostgreSQL. The windowed
// aggregate views are expected to be maintained by the database itself.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes the embedded base-table migrations in order.
func (db *DB) RunMigrations() error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		log.Printf("postgres: applied migration %s", name)
	}
	return nil
}

// Readings

func (db *DB) InsertReading(ctx context.Context, r *entities.Reading) error {
	var ts any
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp
	}
	query := `
		INSERT INTO sensor_readings (timestamp, temperature, soil_moisture, pump_status, system_mode)
		VALUES (COALESCE($1::timestamptz, NOW()), $2, $3, $4, $5)
		RETURNING id, timestamp
	`
	err := db.QueryRowContext(ctx, query, ts, r.Temperature, r.SoilMoisture, r.PumpOn, string(r.Mode)).
		Scan(&r.ID, &r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return nil
}

const readingColumns = `id, timestamp, temperature, soil_moisture, pump_status, system_mode`

func (db *DB) LatestReading(ctx context.Context) (*entities.Reading, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings ORDER BY timestamp DESC, id DESC LIMIT 1
	`)
	r, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Resource: "reading", ID: "latest"}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) RecentReadings(ctx context.Context, limit int) ([]entities.Reading, error) {
	return db.queryReadings(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings ORDER BY timestamp DESC, id DESC LIMIT $1
	`, limit)
}

func (db *DB) ReadingsSince(ctx context.Context, since time.Time) ([]entities.Reading, error) {
	return db.queryReadings(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings WHERE timestamp >= $1 ORDER BY timestamp DESC, id DESC
	`, since)
}

func (db *DB) queryReadings(ctx context.Context, query string, args ...any) ([]entities.Reading, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := []entities.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (db *DB) AggregatedSince(ctx context.Context, width time.Duration, since time.Time, limit int) ([]entities.AggregatedBucket, error) {
	view, ok := storage.ViewName(width)
	if !ok {
		return nil, storage.ErrNoView{Width: width}
	}
	query := `
		SELECT bucket, avg_temperature, min_temperature, max_temperature,
		       avg_soil_moisture, min_soil_moisture, max_soil_moisture,
		       reading_count, pump_was_active
		FROM ` + view + `
		WHERE bucket >= $1
		ORDER BY bucket DESC
		LIMIT $2
	`
	rows, err := db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", view, err)
	}
	defer rows.Close()

	buckets := []entities.AggregatedBucket{}
	for rows.Next() {
		var b entities.AggregatedBucket
		if err := rows.Scan(&b.BucketStart, &b.AvgTemperature, &b.MinTemperature, &b.MaxTemperature,
			&b.AvgSoilMoisture, &b.MinSoilMoisture, &b.MaxSoilMoisture,
			&b.ReadingCount, &b.PumpWasActive); err != nil {
			return nil, fmt.Errorf("scan %s: %w", view, err)
		}
		b.BucketStart = b.BucketStart.UTC()
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Logs

func (db *DB) InsertLog(ctx context.Context, l *entities.LogEntry) error {
	var ts any
	if !l.Timestamp.IsZero() {
		ts = l.Timestamp
	}
	var meta sql.NullString
	if l.Metadata != nil {
		meta = sql.NullString{String: *l.Metadata, Valid: true}
	}
	query := `
		INSERT INTO system_logs (timestamp, type, message, metadata)
		VALUES (COALESCE($1::timestamptz, NOW()), $2, $3, $4)
		RETURNING id, timestamp
	`
	if err := db.QueryRowContext(ctx, query, ts, string(l.Kind), l.Message, meta).Scan(&l.ID, &l.Timestamp); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	l.Timestamp = l.Timestamp.UTC()
	return nil
}

func (db *DB) RecentLogs(ctx context.Context, limit int) ([]entities.LogEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, timestamp, type, message, metadata FROM system_logs
		ORDER BY timestamp DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []entities.LogEntry{}
	for rows.Next() {
		var (
			l    entities.LogEntry
			kind string
			meta sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Timestamp, &kind, &l.Message, &meta); err != nil {
			return nil, err
		}
		l.Timestamp = l.Timestamp.UTC()
		l.Kind = entities.LogKind(kind)
		if meta.Valid {
			m := meta.String
			l.Metadata = &m
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Settings

func (db *DB) GetSetting(ctx context.Context, key string) (*entities.Setting, error) {
	var s entities.Setting
	err := db.QueryRowContext(ctx, `
		SELECT key, value, updated_at FROM system_settings WHERE key = $1
	`, key).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Resource: "setting", ID: key}
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// SetSettings upserts all pairs in a single transaction.
func (db *DB) SetSettings(ctx context.Context, kv map[string]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("upsert setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (entities.Reading, error) {
	var (
		r    entities.Reading
		mode string
	)
	if err := row.Scan(&r.ID, &r.Timestamp, &r.Temperature, &r.SoilMoisture, &r.PumpOn, &mode); err != nil {
		return entities.Reading{}, err
	}
	r.Timestamp = r.Timestamp.UTC()
	r.Mode = entities.Mode(mode)
	return r, nil
}

var _ storage.ReadingStore = (*DB)(nil)
