package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// NewDispatchID generates a new ULID-based dispatch identifier.
func NewDispatchID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// SQLiteStore implements DispatchStore backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// RecordDispatch inserts a dispatch record, assigning an ID and timestamp
// when the caller left them zero.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, d *Dispatch) error {
	if d.ID == "" {
		d.ID = NewDispatchID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (
			id, plugin_id, trigger_id, kind, user_id, group_id,
			summary, status, duration_ms, error_msg, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.PluginID,
		d.TriggerID,
		d.Kind,
		nullInt64(d.UserID),
		nullInt64(d.GroupID),
		nullString(d.Summary),
		d.Status,
		d.DurationMs,
		nullString(d.ErrorMsg),
		formatTime(d.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) scanDispatch(row interface{ Scan(...any) error }) (*Dispatch, error) {
	var d Dispatch
	var createdAt string
	var summary, errorMsg sql.NullString
	var userID, groupID, durationMs sql.NullInt64

	err := row.Scan(
		&d.ID,
		&d.PluginID,
		&d.TriggerID,
		&d.Kind,
		&userID,
		&groupID,
		&summary,
		&d.Status,
		&durationMs,
		&errorMsg,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if userID.Valid {
		d.UserID = userID.Int64
	}
	if groupID.Valid {
		d.GroupID = groupID.Int64
	}
	if summary.Valid {
		d.Summary = summary.String
	}
	if durationMs.Valid {
		d.DurationMs = durationMs.Int64
	}
	if errorMsg.Valid {
		d.ErrorMsg = errorMsg.String
	}

	return &d, nil
}

const selectDispatchCols = `id, plugin_id, trigger_id, kind, user_id, group_id,
	summary, status, duration_ms, error_msg, created_at`

// GetDispatch retrieves a single dispatch by ID.
func (s *SQLiteStore) GetDispatch(ctx context.Context, id string) (*Dispatch, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectDispatchCols+" FROM dispatches WHERE id = ?", id)
	d, err := s.scanDispatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDispatches returns dispatches matching the given options, newest first.
func (s *SQLiteStore) ListDispatches(ctx context.Context, opts ListOpts) ([]*Dispatch, error) {
	query := "SELECT " + selectDispatchCols + " FROM dispatches"
	var args []any

	if opts.PluginID != "" {
		query += " WHERE plugin_id = ?"
		args = append(args, opts.PluginID)
	}
	query += " ORDER BY created_at DESC"

	if opts.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT; -1 means unbounded.
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	} else if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dispatch
	for rows.Next() {
		d, err := s.scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetPluginStats returns aggregate dispatch statistics for a single plugin.
func (s *SQLiteStore) GetPluginStats(ctx context.Context, pluginID string) (*PluginStats, error) {
	stats := PluginStats{PluginID: pluginID}
	var lastDispatch sql.NullString
	var avgDuration sql.NullFloat64
	var succeeded, failed sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END) AS succeeded,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS failed,
			MAX(created_at) AS last_dispatch,
			AVG(duration_ms) AS avg_duration_ms
		FROM dispatches
		WHERE plugin_id = ?`, pluginID).Scan(
		&stats.TotalDispatch,
		&succeeded,
		&failed,
		&lastDispatch,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}
	if succeeded.Valid {
		stats.Succeeded = int(succeeded.Int64)
	}
	if failed.Valid {
		stats.Failed = int(failed.Int64)
	}

	if lastDispatch.Valid {
		t, err := parseTime(lastDispatch.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_dispatch: %w", err)
		}
		stats.LastDispatch = &t
	}
	if avgDuration.Valid {
		stats.AvgDurationMs = avgDuration.Float64
	}

	return &stats, nil
}

// ListPluginStats returns aggregate dispatch statistics for every plugin
// seen in the dispatch log, ordered by total dispatches descending.
func (s *SQLiteStore) ListPluginStats(ctx context.Context) ([]*PluginStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			plugin_id,
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END) AS succeeded,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS failed,
			MAX(created_at) AS last_dispatch,
			AVG(duration_ms) AS avg_duration_ms
		FROM dispatches
		GROUP BY plugin_id
		ORDER BY total DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PluginStats
	for rows.Next() {
		var stats PluginStats
		var lastDispatch sql.NullString
		var avgDuration sql.NullFloat64
		var succeeded, failed sql.NullInt64

		err := rows.Scan(
			&stats.PluginID,
			&stats.TotalDispatch,
			&succeeded,
			&failed,
			&lastDispatch,
			&avgDuration,
		)
		if err != nil {
			return nil, err
		}
		if succeeded.Valid {
			stats.Succeeded = int(succeeded.Int64)
		}
		if failed.Valid {
			stats.Failed = int(failed.Int64)
		}
		if lastDispatch.Valid {
			t, err := parseTime(lastDispatch.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_dispatch: %w", err)
			}
			stats.LastDispatch = &t
		}
		if avgDuration.Valid {
			stats.AvgDurationMs = avgDuration.Float64
		}
		out = append(out, &stats)
	}
	return out, rows.Err()
}
