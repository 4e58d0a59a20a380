package payloadcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// payloadDocument is the BSON shape of one payload row. The handle is stored
// as _id so the primary-key lookup stays a point read.
type payloadDocument struct {
	Handle    string  `bson:"_id"`
	Content   string  `bson:"content"`
	CreatedAt float64 `bson:"created_at"`
	TotalSize int     `bson:"total_size"`
}

// MongoDBStore implements Store for MongoDB.
// The sweep is an explicit range delete rather than a TTL index so that
// CleanupExpired can report the deleted count and honor a virtual clock.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates a MongoDB payload store on an existing database.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{collection: database.Collection("payload_cache")}, nil
}

// Init creates the created_at index used by the sweep's range delete.
func (s *MongoDBStore) Init(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		// The index may already exist; reads and writes still work without it.
		slog.Warn("failed to create payload_cache index", "error", err)
	}
	return nil
}

func (s *MongoDBStore) Insert(ctx context.Context, row Row) error {
	doc := payloadDocument{
		Handle:    row.Handle,
		Content:   row.Content,
		CreatedAt: unixSeconds(row.CreatedAt),
		TotalSize: row.TotalSize,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	return nil
}

func (s *MongoDBStore) Get(ctx context.Context, handle string) (Row, bool, error) {
	var doc payloadDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: handle}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read payload: %w", err)
	}

	return Row{
		Handle:    doc.Handle,
		Content:   doc.Content,
		CreatedAt: fromUnixSeconds(doc.CreatedAt),
		TotalSize: doc.TotalSize,
	}, true, nil
}

func (s *MongoDBStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.D{
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: unixSeconds(cutoff)}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired payloads: %w", err)
	}
	return result.DeletedCount, nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
