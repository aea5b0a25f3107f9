// Package history implements the History Surface (C8): it lists generated
// artifacts from the output directory tree and joins each against the
// metadata store (falling back to embedded image metadata when a row is
// missing).
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/pngmeta"
)

var artifactExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Entry is one artifact row returned by GET /history.
type Entry struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Created   float64   `json:"created"`
	CreatedAt time.Time `json:"created_at"`
}

// List walks outputDir/<date>/<filename> and returns every image artifact
// found, sorted by creation time descending, matching the original's
// get_history() walk.
func List(outputDir string) ([]Entry, error) {
	var entries []Entry

	dateDirs, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		datePath := filepath.Join(outputDir, dateDir.Name())

		files, err := os.ReadDir(datePath)
		if err != nil {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if !artifactExtensions[ext] {
				continue
			}

			info, err := f.Info()
			if err != nil {
				continue
			}

			created := float64(info.ModTime().Unix())
			entries = append(entries, Entry{
				Filename:  f.Name(),
				Path:      dateDir.Name() + "/" + f.Name(),
				Created:   created,
				CreatedAt: ParseTimestamp(created),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created > entries[j].Created
	})

	return entries, nil
}

// Metadata resolves the metadata for outputs/<date>/<filename>: the
// metadata store is checked first (scheme "dispatch_gateway"); a PNG
// text-chunk fallback is used when no row exists (scheme "fooocus_log",
// matching the original's log.html-derived scheme name). The fallback reads
// PNG files only: a JPEG or WEBP artifact with no store row yields no
// metadata.
func Metadata(store *metadata.Store, outputDir, date, filename string) (map[string]any, string, error) {
	relPath := date + "/" + filename

	meta, err := store.Get(relPath)
	if err != nil {
		return nil, "", fmt.Errorf("query metadata store: %w", err)
	}
	if meta != nil {
		return meta, "dispatch_gateway", nil
	}

	absPath := filepath.Join(outputDir, date, filename)
	meta, err = pngmeta.ReadFile(absPath)
	if err != nil || meta == nil {
		return nil, "", nil
	}
	return meta, "fooocus_log", nil
}

// ParseTimestamp converts a Unix-seconds float into a time.Time, used to
// populate Entry.CreatedAt alongside the raw Created field List returns.
func ParseTimestamp(created float64) time.Time {
	return time.Unix(int64(created), 0)
}
