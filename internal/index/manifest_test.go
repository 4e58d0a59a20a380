package index

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{
		"repo": "acme/widgets",
		"dim": 384,
		"size_mb": 120,
		"updated_at": "2026-08-01T12:00:00Z"
	}`)

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Repo != "acme/widgets" {
		t.Errorf("expected repo acme/widgets, got %q", m.Repo)
	}
	if m.Dim != 384 {
		t.Errorf("expected dim 384, got %d", m.Dim)
	}
	if m.SizeMB != 120 {
		t.Errorf("expected size hint 120, got %d", m.SizeMB)
	}
	if m.UpdatedAt != "2026-08-01T12:00:00Z" {
		t.Errorf("unexpected updated_at: %q", m.UpdatedAt)
	}
}

func TestReadManifest_MissingFieldsDefaultToZero(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"repo": "acme/widgets"}`)

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Dim != 0 || m.SizeMB != 0 {
		t.Errorf("expected zero dim and size hint, got %d / %d", m.Dim, m.SizeMB)
	}
}

func TestReadManifest_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadManifest(t.TempDir()); err == nil {
			t.Fatal("expected error for missing manifest")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `{"repo": `)
		if _, err := ReadManifest(dir); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestManifestModTime(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"repo": "acme/widgets"}`)

	mt, err := ManifestModTime(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mt.IsZero() {
		t.Error("expected a non-zero modtime")
	}

	if _, err := ManifestModTime(t.TempDir()); err == nil {
		t.Error("expected error for missing manifest")
	}
}
