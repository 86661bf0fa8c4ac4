package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// maxIndexableFile skips very large files during indexing.
const maxIndexableFile = 100 * 1024

// Index stores code chunks in SQLite and retrieves them with FTS5
// keyword search, degrading to LIKE when FTS5 is unavailable.
type Index struct {
	db *sql.DB
}

// Open creates or opens an index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running index migrations: %w", err)
	}
	return &Index{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path   TEXT NOT NULL,
			chunk_type  TEXT NOT NULL DEFAULT '',
			symbol_name TEXT NOT NULL DEFAULT '',
			start_line  INTEGER NOT NULL DEFAULT 0,
			end_line    INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_file
			ON chunks(file_path);
		CREATE INDEX IF NOT EXISTS idx_chunks_symbol
			ON chunks(symbol_name);

		CREATE TABLE IF NOT EXISTS index_state (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			last_indexed DATETIME NOT NULL,
			total_files  INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}

	// Separate exec because CREATE VIRTUAL TABLE can't be batched.
	// Best effort: some sqlite builds lack FTS5 and search falls back
	// to LIKE.
	_, _ = db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts
		USING fts5(content, symbol_name, file_path, content=chunks, content_rowid=id)
	`)
	return nil
}

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

// Stats holds index state.
type Stats struct {
	LastIndexed time.Time
	TotalFiles  int
	TotalChunks int
}

// Build performs a full reindex of the tree at root.
func (ix *Index) Build(root string) (*Stats, error) {
	tx, err := ix.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return nil, err
	}

	var totalFiles, totalChunks int
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			base := d.Name()
			if strings.HasPrefix(base, ".") && base != "." || base == "node_modules" || base == "vendor" || base == "__pycache__" {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || !IsIndexable(rel) {
			return nil
		}
		source, err := os.ReadFile(path)
		if err != nil || len(source) > maxIndexableFile {
			return nil
		}

		totalFiles++
		for _, chunk := range ChunkFile(rel, source) {
			_, err := tx.Exec(
				`INSERT INTO chunks (file_path, chunk_type, symbol_name, start_line, end_line, content)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				chunk.FilePath, chunk.ChunkType, chunk.SymbolName,
				chunk.StartLine, chunk.EndLine, chunk.Content,
			)
			if err != nil {
				return fmt.Errorf("inserting chunk %s/%s: %w", rel, chunk.SymbolName, err)
			}
			totalChunks++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO index_state (id, last_indexed, total_files, total_chunks)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			last_indexed = excluded.last_indexed,
			total_files = excluded.total_files,
			total_chunks = excluded.total_chunks`,
		now, totalFiles, totalChunks,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Rebuild the FTS content sync. Fast for typical repo sizes.
	ix.db.Exec("INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')")

	return &Stats{LastIndexed: now, TotalFiles: totalFiles, TotalChunks: totalChunks}, nil
}

// Search returns up to topK chunks relevant to the query.
func (ix *Index) Search(query string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 10
	}
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := ix.db.Query(
		`SELECT c.file_path, c.chunk_type, c.symbol_name, c.start_line, c.end_line, c.content
		 FROM chunks_fts fts
		 JOIN chunks c ON c.id = fts.rowid
		 WHERE chunks_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery, topK,
	)
	if err != nil {
		return ix.likeSearch(query, topK)
	}
	defer rows.Close()

	var results []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.FilePath, &c.ChunkType, &c.SymbolName, &c.StartLine, &c.EndLine, &c.Content); err != nil {
			continue
		}
		results = append(results, c)
	}
	if len(results) == 0 {
		return ix.likeSearch(query, topK)
	}
	return results, nil
}

func (ix *Index) likeSearch(query string, limit int) ([]Chunk, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []any
	for _, w := range words {
		conditions = append(conditions, "(content LIKE ? OR symbol_name LIKE ? OR file_path LIKE ?)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	rows, err := ix.db.Query(
		`SELECT file_path, chunk_type, symbol_name, start_line, end_line, content
		 FROM chunks
		 WHERE `+strings.Join(conditions, " OR ")+`
		 LIMIT ?`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.FilePath, &c.ChunkType, &c.SymbolName, &c.StartLine, &c.EndLine, &c.Content); err != nil {
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// GetStats returns the current index state.
func (ix *Index) GetStats() (*Stats, error) {
	stats := &Stats{}
	row := ix.db.QueryRow("SELECT last_indexed, total_files, total_chunks FROM index_state WHERE id = 1")
	err := row.Scan(&stats.LastIndexed, &stats.TotalFiles, &stats.TotalChunks)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	return stats, err
}

func sanitizeFTS(query string) string {
	replacer := strings.NewReplacer(
		"*", "", "\"", "", "(", "", ")", "",
		":", "", "^", "", "~", "", "+", "", "-", "",
	)
	words := strings.Fields(replacer.Replace(query))
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, " OR ")
}
