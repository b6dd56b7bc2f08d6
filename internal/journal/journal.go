// Package journal keeps a commit history of object mutations in SQLite.
//
// The planning files stay the source of truth; the journal only records
// what changed, when and where, so clients can answer "what happened to
// T-x" after the fact. Writing to it is best-effort.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// DBFile is the database filename inside the data directory.
const DBFile = "journal.db"

// ─── Types ───────────────────────────────────────────────────────────────────

// Entry is one recorded mutation of one object.
type Entry struct {
	EntryID    string    `json:"entry_id"`
	Root       string    `json:"root"`
	ObjectID   string    `json:"object_id"`
	Kind       string    `json:"kind"`
	Op         string    `json:"op"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Path       string    `json:"path"`
	At         time.Time `json:"at"`
}

// Query selects history entries. Empty fields match everything.
type Query struct {
	Root     string
	ObjectID string
	Limit    int
}

// Config holds journal configuration.
type Config struct {
	DataDir      string
	DefaultLimit int
	MaxLimit     int
}

// DefaultConfig returns the default configuration for the journal.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:      filepath.Join(home, ".trellis"),
		DefaultLimit: 20,
		MaxLimit:     200,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed journal.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates a Store with the given configuration. It creates the data
// directory if needed, opens SQLite with WAL mode and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, DBFile)
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id    TEXT    NOT NULL UNIQUE,
			root        TEXT    NOT NULL,
			object_id   TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			op          TEXT    NOT NULL,
			from_status TEXT    NOT NULL DEFAULT '',
			to_status   TEXT    NOT NULL DEFAULT '',
			path        TEXT    NOT NULL,
			at          TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_object ON entries(root, object_id);
		CREATE INDEX IF NOT EXISTS idx_entries_at ON entries(at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Record stores e, assigning an entry id and timestamp when missing, and
// returns the stored entry.
func (s *Store) Record(e Entry) (Entry, error) {
	if strings.TrimSpace(e.ObjectID) == "" {
		return Entry{}, fmt.Errorf("journal: object_id is required")
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = timeNow()
	}
	e.At = e.At.UTC()

	_, err := s.db.Exec(
		`INSERT INTO entries (entry_id, root, object_id, kind, op, from_status, to_status, path, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Root, e.ObjectID, e.Kind, e.Op, e.FromStatus, e.ToStatus, e.Path,
		e.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: record %s: %w", e.ObjectID, err)
	}
	return e, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// History returns matching entries, newest first.
func (s *Store) History(q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	var where []string
	var args []any
	if q.Root != "" {
		where = append(where, "root = ?")
		args = append(args, q.Root)
	}
	if q.ObjectID != "" {
		where = append(where, "object_id = ?")
		args = append(args, q.ObjectID)
	}
	query := `SELECT entry_id, root, object_id, kind, op, from_status, to_status, path, at FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.EntryID, &e.Root, &e.ObjectID, &e.Kind, &e.Op, &e.FromStatus, &e.ToStatus, &e.Path, &at); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("journal: entry %s has bad timestamp %q: %w", e.EntryID, at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries recorded for root, or for every
// root when root is empty.
func (s *Store) Count(root string) (int, error) {
	query := `SELECT COUNT(*) FROM entries`
	var args []any
	if root != "" {
		query += " WHERE root = ?"
		args = append(args, root)
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}
