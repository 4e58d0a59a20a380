package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (FTS5 enabled)
)

// Match is one search result from either index. Score semantics differ per
// index (bm25 for full-text, vector distance for semantic); lower is better
// for both, and only the relative order matters to callers.
type Match struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// FullTextIndex is a read-only handle on an FTS5 chunks database.
type FullTextIndex struct {
	db *sql.DB
}

// OpenFullText opens dir/fulltext.db. It fails cleanly when the index file is
// absent, which surfaces as a load error through the resource cache.
func OpenFullText(dir string) (*FullTextIndex, error) {
	path := filepath.Join(dir, FullTextFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("full-text index not found: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open full-text index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping full-text index: %w", err)
	}

	return &FullTextIndex{db: db}, nil
}

// Search runs an FTS5 MATCH query and returns up to limit matches ordered by
// bm25 relevance (best first).
func (i *FullTextIndex) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT path, start_line, end_line, snippet, bm25(chunks)
		FROM chunks
		WHERE chunks MATCH ?
		ORDER BY bm25(chunks)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Path, &m.StartLine, &m.EndLine, &m.Snippet, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan full-text match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close releases the database handle. The resource cache calls it when the
// index is evicted or invalidated.
func (i *FullTextIndex) Close() error {
	return i.db.Close()
}
