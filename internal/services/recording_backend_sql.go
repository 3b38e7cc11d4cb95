package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"variantlab/internal/database"
)

// SQLRecordingBackend stores recordings as rows of the session_recordings table (MySQL or SQLite)
type SQLRecordingBackend struct {
	db *database.DB

	ensureMu sync.Mutex
	ensured  bool
}

// NewSQLRecordingBackend wraps an open database
func NewSQLRecordingBackend(db *database.DB) *SQLRecordingBackend {
	return &SQLRecordingBackend{db: db}
}

// Name implements RecordingBackend
func (b *SQLRecordingBackend) Name() string { return "sql" }

// Ensure creates the table once per process
func (b *SQLRecordingBackend) Ensure(ctx context.Context) error {
	b.ensureMu.Lock()
	defer b.ensureMu.Unlock()
	if b.ensured {
		return nil
	}
	if err := b.db.Initialize(ctx); err != nil {
		return err
	}
	b.ensured = true
	return nil
}

// indexFields pulls the columns kept alongside the JSON body
type indexFields struct {
	SessionID string `json:"sessionId"`
	Version   string `json:"version"`
	StartTime int64  `json:"startTime"`
}

// Put upserts the row in a single statement
func (b *SQLRecordingBackend) Put(ctx context.Context, key string, data []byte) (string, error) {
	var fields indexFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("decode index fields: %w", err)
	}

	var query string
	if b.db.Dialect == database.DialectMySQL {
		query = `
			INSERT INTO session_recordings (record_key, version, session_id, start_time, data)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				version = VALUES(version),
				session_id = VALUES(session_id),
				start_time = VALUES(start_time),
				data = VALUES(data),
				updated_at = CURRENT_TIMESTAMP`
	} else {
		query = `
			INSERT INTO session_recordings (record_key, version, session_id, start_time, data)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(record_key) DO UPDATE SET
				version = excluded.version,
				session_id = excluded.session_id,
				start_time = excluded.start_time,
				data = excluded.data,
				updated_at = CURRENT_TIMESTAMP`
	}

	if _, err := b.db.ExecContext(ctx, query, key, fields.Version, fields.SessionID, fields.StartTime, string(data)); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s://%s/%s", b.db.Dialect, database.TableRecordings, key), nil
}

// Keys lists keys in ascending order
func (b *SQLRecordingBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.Ensure(ctx); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT record_key FROM session_recordings WHERE record_key LIKE ? ESCAPE '!' ORDER BY record_key ASC`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		// LIKE may be case-insensitive depending on collation
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// Read loads the JSON body of a row
func (b *SQLRecordingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM session_recordings WHERE record_key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBackendNotFound
		}
		return nil, err
	}
	return []byte(data), nil
}

// Close closes the database
func (b *SQLRecordingBackend) Close() error {
	return b.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
