package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ncruces/go-sqlite3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces" // embedded sqlite build with vec0 compiled in
	_ "github.com/ncruces/go-sqlite3/driver"             // database/sql driver "sqlite3"
)

// The sqlite-vec wasm build uses atomic instructions, which wazero gates
// behind the experimental threads feature.
func init() {
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
}

// VectorIndex is a read-only handle on a sqlite-vec database: a vec0 virtual
// table vec_chunks(embedding float[dim]) rowid-joined to chunk_meta.
type VectorIndex struct {
	db  *sql.DB
	dim int
}

// OpenVector opens dir/vector.db through the ncruces driver with the vec0
// extension loaded. dim is the embedding dimension from the manifest; query
// vectors of a different length are rejected before touching the database.
func OpenVector(dir string, dim int) (*VectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector index requires a positive embedding dimension, got %d", dim)
	}

	path := filepath.Join(dir, VectorFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vector index not found: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping vector index: %w", err)
	}

	return &VectorIndex{db: db, dim: dim}, nil
}

// Dim returns the embedding dimension the index was built with.
func (i *VectorIndex) Dim() int {
	return i.dim
}

// Search runs a KNN query and returns up to limit matches ordered by
// ascending distance. The query vector is passed to vec0 as JSON text.
func (i *VectorIndex) Search(ctx context.Context, vec []float32, limit int) ([]Match, error) {
	if len(vec) != i.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vec), i.dim)
	}

	queryVec, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query vector: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT m.path, m.start_line, m.end_line, m.snippet, v.distance
		FROM vec_chunks v
		JOIN chunk_meta m ON m.id = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, string(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Path, &m.StartLine, &m.EndLine, &m.Snippet, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close releases the database handle. The resource cache calls it when the
// index is evicted or invalidated.
func (i *VectorIndex) Close() error {
	return i.db.Close()
}
