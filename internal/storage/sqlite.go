package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/stats"
)

// timestampLayout is how instants are written; parseTimestamp reads it back
const timestampLayout = "2006-01-02 15:04:05.000"

var _ adaptive.VersionStore = (*SQLiteStore)(nil)

// SQLiteStore persists threshold history, learned statistics and the
// detection event log.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DetectionEvent is a stored detection result at WATCH or above
type DetectionEvent struct {
	ID              int64             `json:"id"`
	SensorID        string            `json:"sensor_id"`
	Level           models.AlertLevel `json:"level"`
	FireProbability float64           `json:"fire_probability"`
	Message         string            `json:"message"`
	Rules           []string          `json:"rules,omitempty"`
	RecordedAt      time.Time         `json:"recorded_at"`
}

// NewDetectionEvent builds an event from a detection result
func NewDetectionEvent(res models.FireDetectionResult) *DetectionEvent {
	return &DetectionEvent{
		SensorID:        res.SensorID,
		Level:           res.AlertLevel,
		FireProbability: res.FireProbability,
		Message:         res.Message,
		Rules:           res.TriggeredRules,
		RecordedAt:      res.Timestamp,
	}
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalEvents       int64     `json:"total_events"`
	OldestEvent       time.Time `json:"oldest_event,omitempty"`
	NewestEvent       time.Time `json:"newest_event,omitempty"`
	ThresholdVersions int64     `json:"threshold_versions"`
	StatisticsRows    int64     `json:"statistics_rows"`
	DatabaseSizeMB    float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threshold_history (
		version INTEGER PRIMARY KEY,
		thresholds_json TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		validation_result TEXT NOT NULL DEFAULT 'ok',
		applied_at DATETIME,
		rolled_back_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sensor_statistics (
		sensor_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		stats_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(sensor_id, channel)
	);

	CREATE TABLE IF NOT EXISTS adaptive_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		fire_probability REAL NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		rules_json TEXT NOT NULL DEFAULT '[]',
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_sensor_time ON detection_events(sensor_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_time ON detection_events(recorded_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// SaveVersion inserts a threshold version
func (s *SQLiteStore) SaveVersion(ctx context.Context, v adaptive.ThresholdVersion) error {
	data, err := json.Marshal(v.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threshold_history
			(version, thresholds_json, reason, validation_result, applied_at, rolled_back_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.Version,
		string(data),
		v.Reason,
		v.ValidationResult,
		nullTime(v.AppliedAt),
		nullTime(v.RolledBackAt),
		formatTime(v.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert threshold version %d: %w", v.Version, err)
	}
	return nil
}

// MarkRolledBack stamps rolled_back_at on the given versions in one transaction
func (s *SQLiteStore) MarkRolledBack(ctx context.Context, versions []uint32, at time.Time) error {
	if len(versions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE threshold_history SET rolled_back_at = ? WHERE version = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	stamp := formatTime(at)
	for _, v := range versions {
		if _, err := stmt.ExecContext(ctx, stamp, v); err != nil {
			return fmt.Errorf("failed to mark version %d rolled back: %w", v, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadVersions returns up to limit versions, newest first. Rows whose
// thresholds cannot be decoded are logged and skipped.
func (s *SQLiteStore) LoadVersions(ctx context.Context, limit int) ([]adaptive.ThresholdVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, thresholds_json, reason, validation_result, applied_at, rolled_back_at, created_at
		FROM threshold_history
		ORDER BY version DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold history: %w", err)
	}
	defer rows.Close()

	var versions []adaptive.ThresholdVersion
	for rows.Next() {
		var v adaptive.ThresholdVersion
		var data, createdAt string
		var appliedAt, rolledBackAt sql.NullString

		if err := rows.Scan(&v.Version, &data, &v.Reason, &v.ValidationResult, &appliedAt, &rolledBackAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan threshold version: %w", err)
		}

		if err := json.Unmarshal([]byte(data), &v.Thresholds); err != nil {
			s.logger.Error().Err(err).Uint32("version", v.Version).Msg("Skipping undecodable threshold version")
			continue
		}
		v.Timestamp, _ = s.parseTimestamp(createdAt)
		v.AppliedAt = s.parseNullTime(appliedAt)
		v.RolledBackAt = s.parseNullTime(rolledBackAt)

		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return versions, nil
}

// SaveStatistics upserts every record in a single transaction
func (s *SQLiteStore) SaveStatistics(ctx context.Context, records []adaptive.StatsRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensor_statistics (sensor_id, channel, stats_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sensor_id, channel) DO UPDATE SET
			stats_json = excluded.stats_json,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, rec := range records {
		data, err := json.Marshal(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode statistics for %s/%s: %w", rec.SensorID, rec.Channel, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.SensorID, string(rec.Channel), string(data), now); err != nil {
			return fmt.Errorf("failed to upsert statistics for %s/%s: %w", rec.SensorID, rec.Channel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(records)).Msg("Statistics checkpointed")
	return nil
}

// LoadStatistics returns every stored statistics row. Undecodable rows are
// logged and treated as absent.
func (s *SQLiteStore) LoadStatistics(ctx context.Context) ([]adaptive.StatsRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT sensor_id, channel, stats_json FROM sensor_statistics ORDER BY sensor_id, channel")
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var records []adaptive.StatsRecord
	for rows.Next() {
		var sensorID, channel, data string
		if err := rows.Scan(&sensorID, &channel, &data); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}

		var snap stats.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			s.logger.Error().Err(err).
				Str("sensor_id", sensorID).
				Str("channel", channel).
				Msg("Skipping undecodable statistics row")
			continue
		}
		records = append(records, adaptive.StatsRecord{
			SensorID: sensorID,
			Channel:  models.Channel(channel),
			Snapshot: snap,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// SaveState stores a small keyed blob
func (s *SQLiteStore) SaveState(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adaptive_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return nil
}

// LoadState returns the blob stored under key, if any
func (s *SQLiteStore) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM adaptive_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	return []byte(value), true, nil
}

// InsertEvents inserts detection events in a single transaction
func (s *SQLiteStore) InsertEvents(events []*DetectionEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detection_events (sensor_id, level, fire_probability, message, rules_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		rules := e.Rules
		if rules == nil {
			rules = []string{}
		}
		data, err := json.Marshal(rules)
		if err != nil {
			return fmt.Errorf("failed to encode rules: %w", err)
		}
		if _, err := stmt.Exec(e.SensorID, int(e.Level), e.FireProbability, e.Message, string(data), formatTime(e.RecordedAt)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(events)).Msg("Batch inserted detection events")
	return nil
}

// GetEventsInRange returns events recorded in [start, end], newest first.
// An empty sensorID matches every sensor.
func (s *SQLiteStore) GetEventsInRange(sensorID string, start, end time.Time, limit int) ([]*DetectionEvent, error) {
	query := `
		SELECT id, sensor_id, level, fire_probability, message, rules_json, recorded_at
		FROM detection_events
		WHERE recorded_at >= ? AND recorded_at <= ? AND (? = '' OR sensor_id = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, formatTime(start), formatTime(end), sensorID, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*DetectionEvent
	for rows.Next() {
		var e DetectionEvent
		var level int
		var rules, recordedAt string

		if err := rows.Scan(&e.ID, &e.SensorID, &level, &e.FireProbability, &e.Message, &rules, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Level = models.AlertLevel(level)

		if err := json.Unmarshal([]byte(rules), &e.Rules); err != nil {
			s.logger.Warn().Err(err).Int64("id", e.ID).Msg("Undecodable rules on event")
		}
		e.RecordedAt, err = s.parseTimestamp(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// DeleteOlderThan removes detection events recorded more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM detection_events WHERE recorded_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old detection events")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	st := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM threshold_history").Scan(&st.ThresholdVersions); err != nil {
		return nil, fmt.Errorf("failed to count threshold versions: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sensor_statistics").Scan(&st.StatisticsRows); err != nil {
		return nil, fmt.Errorf("failed to count statistics: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM detection_events").Scan(&st.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if st.TotalEvents > 0 {
		var oldest, newest string
		err := s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM detection_events").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		st.OldestEvent, _ = s.parseTimestamp(oldest)
		st.NewestEvent, _ = s.parseTimestamp(newest)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	st.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return st, nil
}

// GetSensorIDs returns every sensor with stored events or statistics
func (s *SQLiteStore) GetSensorIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT sensor_id FROM detection_events
		UNION
		SELECT sensor_id FROM sensor_statistics WHERE sensor_id != ?
		ORDER BY sensor_id`, adaptive.ProfileSensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sensor ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

func (s *SQLiteStore) parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := s.parseTimestamp(ns.String)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Unparseable timestamp")
		return nil
	}
	return &t
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func (s *SQLiteStore) parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timestampLayout,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
