// Package index opens the on-disk search indexes produced by the (external)
// indexing pipeline: a sqlite-vec vector index and an FTS5 full-text index,
// each described by a manifest.json in the index directory.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// ManifestFile is the name of the manifest each index directory carries.
const ManifestFile = "manifest.json"

// Index file names inside an index directory.
const (
	VectorFile   = "vector.db"
	FullTextFile = "fulltext.db"
)

// Manifest describes one repository's index directory. It is written by the
// indexer; the server only reads it.
type Manifest struct {
	// Repo is the repository name the index was built for.
	Repo string
	// Dim is the embedding dimension of the vector index; 0 when the
	// repository has no vector index.
	Dim int
	// SizeMB is the indexer's estimate of the loaded index footprint, used
	// as a size hint by the resource caches. 0 means no hint.
	SizeMB int
	// UpdatedAt is the indexer's build timestamp (RFC 3339).
	UpdatedAt string
}

// ReadManifest parses dir/manifest.json.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return Manifest{}, fmt.Errorf("invalid manifest JSON at %s", path)
	}

	parsed := gjson.ParseBytes(data)
	return Manifest{
		Repo:      parsed.Get("repo").String(),
		Dim:       int(parsed.Get("dim").Int()),
		SizeMB:    int(parsed.Get("size_mb").Int()),
		UpdatedAt: parsed.Get("updated_at").String(),
	}, nil
}

// ManifestModTime returns the manifest file's modification time. The indexer
// rewrites the manifest last, so a newer modtime means the index was rebuilt.
func ManifestModTime(dir string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat manifest: %w", err)
	}
	return info.ModTime(), nil
}
