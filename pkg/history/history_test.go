package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpuforge/dispatch/pkg/metadata"
)

func TestListFindsArtifactsAcrossDateDirs(t *testing.T) {
	dir := t.TempDir()
	dateDir := filepath.Join(dir, "2026-07-31")
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dateDir, "img_0001.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dateDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1 (txt should be excluded)", entries)
	}
	if entries[0].Path != "2026-07-31/img_0001.png" {
		t.Errorf("Path = %q", entries[0].Path)
	}
	if entries[0].CreatedAt.Unix() != int64(entries[0].Created) {
		t.Errorf("CreatedAt = %v, want to match Created = %v", entries[0].CreatedAt, entries[0].Created)
	}
}

func TestListReturnsEmptyWhenOutputDirMissing(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want empty", entries)
	}
}

func TestMetadataPrefersStoreRowOverPNGFallback(t *testing.T) {
	dir := t.TempDir()
	store, err := metadata.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Save("2026-07-31/img.png", map[string]any{"prompt": "from db"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	meta, scheme, err := Metadata(store, dir, "2026-07-31", "img.png")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["prompt"] != "from db" {
		t.Errorf("prompt = %v, want %q", meta["prompt"], "from db")
	}
	if scheme != "dispatch_gateway" {
		t.Errorf("scheme = %q, want dispatch_gateway", scheme)
	}
}

func TestMetadataReturnsNilWhenNeitherSourceHasData(t *testing.T) {
	dir := t.TempDir()
	store, err := metadata.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	meta, scheme, err := Metadata(store, dir, "2026-07-31", "missing.png")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta != nil {
		t.Errorf("meta = %v, want nil", meta)
	}
	if scheme != "" {
		t.Errorf("scheme = %q, want empty", scheme)
	}
}

func TestParseTimestampRoundTrips(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	got := ParseTimestamp(float64(now.Unix()))
	if !got.Equal(now) {
		t.Errorf("got %v, want %v", got, now)
	}
}
