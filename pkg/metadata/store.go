// Package metadata is the embedded SQLite-backed store that records the
// JSON metadata blob attached to every generated image filename.
package metadata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var logger = log.New(os.Stdout, "[metadata] ", log.LstdFlags)

// Record is one row of the images table, joined for read access.
type Record struct {
	Filename  string
	CreatedAt time.Time
	Metadata  map[string]any
}

// Store wraps a single SQLite connection. All writes go through mu so
// concurrent workers reporting completion don't race on the same file.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// database file at path, and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one connection

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT UNIQUE NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_created ON images(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init metadata schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the metadata row for filename.
func (s *Store) Save(filename string, metadata map[string]any) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO images (filename, created_at, metadata) VALUES (?, ?, ?)`,
		filename, time.Now().Format(time.RFC3339), string(blob),
	)
	if err != nil {
		logger.Printf("save failed for %s: %v", filename, err)
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// Get returns the metadata for filename, or (nil, nil) if no row exists or
// the row has no metadata blob — callers fall back to pngmeta in that case.
func (s *Store) Get(filename string) (map[string]any, error) {
	row := s.db.QueryRow(`SELECT metadata FROM images WHERE filename = ?`, filename)

	var blob sql.NullString
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	if !blob.Valid || blob.String == "" {
		return nil, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(blob.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

// List returns up to limit rows ordered by created_at descending, starting
// after offset rows.
func (s *Store) List(limit, offset int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT filename, created_at, metadata FROM images ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var filename, createdAt string
		var blob sql.NullString
		if err := rows.Scan(&filename, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}

		rec := Record{Filename: filename}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		if blob.Valid && blob.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(blob.String), &m); err == nil {
				rec.Metadata = m
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the total number of rows in the images table.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count metadata: %w", err)
	}
	return count, nil
}
