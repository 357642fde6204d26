// Package inventory provides the SQLite-backed cache inventory.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gridflow/silogrid/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_rasters (
	path       TEXT PRIMARY KEY,
	variable   TEXT NOT NULL,
	date       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	clipped    INTEGER NOT NULL,
	written_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_rasters_variable ON cached_rasters (variable);
`

// SQLite implements the CacheInventory port over a single-file
// database next to the cache directory.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if necessary) the inventory database at path.
func Open(path string) (*SQLite, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve inventory path: %w", err)
	}
	db, err := sql.Open("sqlite3", abs+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open inventory database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create inventory schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record stores or replaces the entry for a path.
func (s *SQLite) Record(ctx context.Context, entry output.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_rasters (path, variable, date, size, clipped, written_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			variable = excluded.variable,
			date = excluded.date,
			size = excluded.size,
			clipped = excluded.clipped,
			written_at = excluded.written_at`,
		entry.Path, entry.Variable, entry.Date, entry.Size,
		boolToInt(entry.Clipped), entry.WrittenAt.UTC().Format("2006-01-02T15:04:05Z"),
	)
	if err != nil {
		return fmt.Errorf("record cache entry: %w", err)
	}
	return nil
}

// Remove deletes the entry for a path. Unknown paths are not an error.
func (s *SQLite) Remove(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_rasters WHERE path = ?`, path); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// CountByVariable returns the number of cached rasters per variable.
func (s *SQLite) CountByVariable(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variable, COUNT(*) FROM cached_rasters GROUP BY variable`)
	if err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var variable string
		var n int
		if err := rows.Scan(&variable, &n); err != nil {
			return nil, fmt.Errorf("scan cache count: %w", err)
		}
		counts[variable] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache counts: %w", err)
	}
	return counts, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
