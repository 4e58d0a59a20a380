package payloadcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates a PostgreSQL payload store on an existing pool.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLStore{pool: pool}, nil
}

// Init creates the payload_cache table and the created_at index.
func (s *PostgreSQLStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payload_cache (
			handle TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at DOUBLE PRECISION NOT NULL,
			total_size INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create payload_cache table: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_payload_created_at ON payload_cache(created_at)"); err != nil {
		slog.Warn("failed to create payload_cache index", "error", err)
	}

	return nil
}

func (s *PostgreSQLStore) Insert(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO payload_cache (handle, content, created_at, total_size) VALUES ($1, $2, $3, $4)",
		row.Handle, row.Content, unixSeconds(row.CreatedAt), row.TotalSize)
	if err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Get(ctx context.Context, handle string) (Row, bool, error) {
	var row Row
	var createdAt float64

	err := s.pool.QueryRow(ctx,
		"SELECT handle, content, created_at, total_size FROM payload_cache WHERE handle = $1",
		handle).Scan(&row.Handle, &row.Content, &createdAt, &row.TotalSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read payload: %w", err)
	}

	row.CreatedAt = fromUnixSeconds(createdAt)
	return row, true, nil
}

func (s *PostgreSQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM payload_cache WHERE created_at < $1", unixSeconds(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired payloads: %w", err)
	}
	return result.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
