package payloadcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteStore implements Store for SQLite databases.
// The storage layer serializes writes through a single connection, so the
// sweep and concurrent stores contend on the connection rather than racing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite payload store on an existing connection.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the payload_cache table and the created_at index used by the
// TTL sweep's range delete.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payload_cache (
			handle TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at REAL NOT NULL,
			total_size INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create payload_cache table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_payload_created_at ON payload_cache(created_at)"); err != nil {
		slog.Warn("failed to create payload_cache index", "error", err)
	}

	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payload_cache (handle, content, created_at, total_size) VALUES (?, ?, ?, ?)",
		row.Handle, row.Content, unixSeconds(row.CreatedAt), row.TotalSize)
	if err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, handle string) (Row, bool, error) {
	var row Row
	var createdAt float64

	err := s.db.QueryRowContext(ctx,
		"SELECT handle, content, created_at, total_size FROM payload_cache WHERE handle = ?",
		handle).Scan(&row.Handle, &row.Content, &createdAt, &row.TotalSize)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read payload: %w", err)
	}

	row.CreatedAt = fromUnixSeconds(createdAt)
	return row, true, nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM payload_cache WHERE created_at < ?", unixSeconds(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired payloads: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the DB connection is owned by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

// unixSeconds converts a time to the REAL created_at representation
// (fractional unix seconds) shared by the SQL backends.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
