package metadata

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	meta := map[string]any{"prompt": "a red fox", "seed": float64(42)}
	if err := s.Save("2026-07-31/img_0001.png", meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("2026-07-31/img_0001.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["prompt"] != "a red fox" {
		t.Errorf("prompt = %v, want %q", got["prompt"], "a red fox")
	}
}

func TestGetMissingReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get("does-not-exist.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %v, want nil", got)
	}
}

func TestSaveReplacesExistingRow(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("img.png", map[string]any{"seed": float64(1)}); err != nil {
		t.Fatalf("Save #1: %v", err)
	}
	if err := s.Save("img.png", map[string]any{"seed": float64(2)}); err != nil {
		t.Fatalf("Save #2: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 (INSERT OR REPLACE should not duplicate)", count)
	}

	got, err := s.Get("img.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["seed"] != float64(2) {
		t.Errorf("seed = %v, want 2", got["seed"])
	}
}

func TestListReturnsEverySavedRecord(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if err := s.Save(name, map[string]any{"name": name}); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	records, err := s.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List returned %d records, want 3", len(records))
	}
}
