// Package payloadcache provides a durable, disk-backed cache for large query
// results. Oversized content is stored once under an opaque UUID handle and
// served back in pages; rows are reclaimed by a TTL-based background sweep.
package payloadcache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"repolens/internal/storage"
)

// Row is one stored payload. Rows are immutable once written and are removed
// only by the TTL sweep.
type Row struct {
	Handle    string
	Content   string
	CreatedAt time.Time
	// TotalSize is the content length in characters (runes), not bytes.
	TotalSize int
}

// Store persists payload rows. Implementations must be safe for concurrent
// use; the sweep runs on a background goroutine while request goroutines
// read and write.
type Store interface {
	// Init creates the backing table and the created_at index if they do not
	// exist. Safe to call repeatedly.
	Init(ctx context.Context) error

	// Insert persists a row. Handles are UUIDs, so collisions are not handled
	// beyond the primary-key constraint.
	Insert(ctx context.Context, row Row) error

	// Get returns the row for handle. The second return value is false when
	// the handle is unknown; that is not an error.
	Get(ctx context.Context, handle string) (Row, bool, error)

	// DeleteOlderThan removes all rows created before cutoff and returns the
	// number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases store resources. It does not close the underlying
	// database connection, which is owned by the storage layer.
	Close() error
}

// NewStore creates the payload store matching the configured storage backend.
func NewStore(st storage.Storage) (Store, error) {
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(st.SQLiteDB())
	case storage.TypePostgreSQL:
		pool, ok := st.PostgreSQLPool().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("postgresql storage returned unexpected pool type %T", st.PostgreSQLPool())
		}
		return NewPostgreSQLStore(pool)
	case storage.TypeMongoDB:
		db, ok := st.MongoDatabase().(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("mongodb storage returned unexpected database type %T", st.MongoDatabase())
		}
		return NewMongoDBStore(db)
	case storage.TypeRedis:
		client, ok := st.RedisClient().(*redis.Client)
		if !ok {
			return nil, fmt.Errorf("redis storage returned unexpected client type %T", st.RedisClient())
		}
		return NewRedisStore(client)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", st.Type())
	}
}
