// Package sqlite implements store.RunStore using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
)

// Store manages run and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			prompt     TEXT NOT NULL,
			profile    TEXT NOT NULL DEFAULT 'ask',
			status     TEXT NOT NULL DEFAULT 'pending',
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_run_id
			ON run_events(run_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_run_id
			ON messages(run_id);

		CREATE TABLE IF NOT EXISTS suite_cache (
			test_name           TEXT PRIMARY KEY,
			test_path           TEXT NOT NULL,
			last_generated_test TEXT NOT NULL DEFAULT '',
			passed              INTEGER NOT NULL DEFAULT 0,
			updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *model.Run) error {
	if run.Profile == "" {
		run.Profile = model.ProfileAsk
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, prompt, profile, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Prompt, run.Profile, run.Status, run.Error,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, prompt, profile, status, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns all runs ordered by creation time (newest first).
func (s *Store) ListRuns() ([]*model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, prompt, profile, status, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun updates mutable fields of a run.
func (s *Store) UpdateRun(run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		run.Status, run.Error, run.UpdatedAt, run.ID,
	)
	return err
}

// AddEvent inserts a new event and returns its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.RunID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a run, optionally after a given event ID.
func (s *Store) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, type, data, created_at
		 FROM run_events
		 WHERE run_id = ? AND id > ?
		 ORDER BY id ASC`,
		runID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddMessage inserts a transcript message.
func (s *Store) AddMessage(msg *model.Message) error {
	result, err := s.db.Exec(
		`INSERT INTO messages (run_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		msg.RunID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// GetMessages returns all messages for a run ordered by insertion.
func (s *Store) GetMessages(runID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, role, content, created_at
		 FROM messages
		 WHERE run_id = ?
		 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.RunID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Suite cache persistence ---

// PutSuiteEntry upserts one healed-test record.
func (s *Store) PutSuiteEntry(entry heal.SuiteEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO suite_cache (test_name, test_path, last_generated_test, passed, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(test_name) DO UPDATE SET
			test_path = excluded.test_path,
			last_generated_test = excluded.last_generated_test,
			passed = excluded.passed,
			updated_at = excluded.updated_at`,
		entry.TestName, entry.TestPath, entry.LastGeneratedTest,
		boolToInt(entry.Passed), time.Now().UTC(),
	)
	return err
}

// GetSuiteEntries returns every persisted healed-test record.
func (s *Store) GetSuiteEntries() ([]heal.SuiteEntry, error) {
	rows, err := s.db.Query(
		`SELECT test_name, test_path, last_generated_test, passed FROM suite_cache`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []heal.SuiteEntry
	for rows.Next() {
		var e heal.SuiteEntry
		var passed int
		if err := rows.Scan(&e.TestName, &e.TestPath, &e.LastGeneratedTest, &passed); err != nil {
			return nil, err
		}
		e.Passed = passed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSuiteEntry removes one record.
func (s *Store) DeleteSuiteEntry(testName string) error {
	_, err := s.db.Exec(`DELETE FROM suite_cache WHERE test_name = ?`, testName)
	return err
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	run := &model.Run{}
	err := row.Scan(
		&run.ID, &run.Prompt, &run.Profile, &run.Status, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
