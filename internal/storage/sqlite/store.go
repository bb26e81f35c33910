// Package sqlite provides an embedded implementation of storage.ReadingStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"

	_ "modernc.org/sqlite"
)

// Store is a SQLite implementation of storage.ReadingStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewMemoryStore creates an in-memory SQLite store.
func NewMemoryStore() (*Store, error) {
	return newStore(":memory:")
}

// NewFileStore creates a file-based SQLite store.
func NewFileStore(path string) (*Store, error) {
	return newStore("file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
}

func newStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(viewsDDL())
	return err
}

// SetClock overrides the time source used for server-assigned timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reading methods

func (s *Store) InsertReading(ctx context.Context, r *entities.Reading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (ts_ms, temperature, soil_moisture, pump_status, system_mode)
		VALUES (?, ?, ?, ?, ?)
	`, r.Timestamp.UnixMilli(), r.Temperature, r.SoilMoisture, boolToInt(r.PumpOn), string(r.Mode))
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

const readingColumns = `id, ts_ms, temperature, soil_moisture, pump_status, system_mode`

func (s *Store) LatestReading(ctx context.Context) (*entities.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings ORDER BY ts_ms DESC, id DESC LIMIT 1
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

func (s *Store) RecentReadings(ctx context.Context, limit int) ([]entities.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings ORDER BY ts_ms DESC, id DESC LIMIT ?
	`, limit)
}

func (s *Store) ReadingsSince(ctx context.Context, since time.Time) ([]entities.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingColumns+` FROM sensor_readings WHERE ts_ms >= ? ORDER BY ts_ms DESC, id DESC
	`, since.UnixMilli())
}

func (s *Store) queryReadings(ctx context.Context, query string, args ...any) ([]entities.Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) AggregatedSince(ctx context.Context, width time.Duration, since time.Time, limit int) ([]entities.AggregatedBucket, error) {
	view, ok := storage.ViewName(width)
	if !ok {
		return nil, storage.ErrNoView{Width: width}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, avg_temperature, min_temperature, max_temperature,
		       avg_soil_moisture, min_soil_moisture, max_soil_moisture,
		       reading_count, pump_was_active
		FROM `+view+`
		WHERE bucket >= ?
		ORDER BY bucket DESC
		LIMIT ?
	`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", view, err)
	}
	defer rows.Close()

	buckets := []entities.AggregatedBucket{}
	for rows.Next() {
		var (
			b      entities.AggregatedBucket
			bucket int64
			pump   int64
		)
		if err := rows.Scan(&bucket, &b.AvgTemperature, &b.MinTemperature, &b.MaxTemperature,
			&b.AvgSoilMoisture, &b.MinSoilMoisture, &b.MaxSoilMoisture,
			&b.ReadingCount, &pump); err != nil {
			return nil, fmt.Errorf("scan %s: %w", view, err)
		}
		b.BucketStart = time.UnixMilli(bucket).UTC()
		b.PumpWasActive = pump != 0
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Log methods

func (s *Store) InsertLog(ctx context.Context, l *entities.LogEntry) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = s.now()
	}
	l.Timestamp = l.Timestamp.UTC().Truncate(time.Millisecond)

	var meta sql.NullString
	if l.Metadata != nil {
		meta = sql.NullString{String: *l.Metadata, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_logs (ts_ms, type, message, metadata) VALUES (?, ?, ?, ?)
	`, l.Timestamp.UnixMilli(), string(l.Kind), l.Message, meta)
	if err != nil {
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]entities.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_ms, type, message, metadata FROM system_logs
		ORDER BY ts_ms DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []entities.LogEntry{}
	for rows.Next() {
		var (
			l    entities.LogEntry
			ts   int64
			kind string
			meta sql.NullString
		)
		if err := rows.Scan(&l.ID, &ts, &kind, &l.Message, &meta); err != nil {
			return nil, err
		}
		l.Timestamp = time.UnixMilli(ts).UTC()
		l.Kind = entities.LogKind(kind)
		if meta.Valid {
			m := meta.String
			l.Metadata = &m
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Setting methods

func (s *Store) GetSetting(ctx context.Context, key string) (*entities.Setting, error) {
	var (
		st entities.Setting
		ts int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at_ms FROM system_settings WHERE key = ?
	`, key).Scan(&st.Key, &st.Value, &ts)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Resource: "setting", ID: key}
	}
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = time.UnixMilli(ts).UTC()
	return &st, nil
}

func (s *Store) SetSettings(ctx context.Context, kv map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().UnixMilli()
	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (entities.Reading, error) {
	var (
		r    entities.Reading
		ts   int64
		pump int64
		mode string
	)
	if err := row.Scan(&r.ID, &ts, &r.Temperature, &r.SoilMoisture, &pump, &mode); err != nil {
		return entities.Reading{}, err
	}
	r.Timestamp = time.UnixMilli(ts).UTC()
	r.PumpOn = pump != 0
	r.Mode = entities.Mode(mode)
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Verify interface compliance
var _ storage.ReadingStore = (*Store)(nil)
