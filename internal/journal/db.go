package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// DB is the event journal of one node. The control loop is its only writer;
// the API server reads from it.
type DB struct {
	*sql.DB
	Path string

	maxEvents int
}

// Option customizes a journal at open time.
type Option func(*DB)

// WithMaxEvents bounds the events table. Prune removes the oldest events
// past n; n <= 0 keeps everything.
func WithMaxEvents(n int) Option {
	return func(db *DB) { db.maxEvents = n }
}

// DefaultPath returns the default journal path: ~/.courier/journal.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".courier", "journal.db"), nil
}

// Open opens or creates the journal file at path and brings its schema up
// to date. A journal written by a newer build is refused.
func Open(path string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return open(path, opts)
}

// OpenMemory opens a journal that lives only as long as the returned DB.
func OpenMemory(opts ...Option) (*DB, error) {
	return open(memoryPath, opts)
}

func open(path string, opts []Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// a single connection serializes the loop's writes with API reads, and
	// keeps an in-memory journal one database
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: path}
	for _, o := range opts {
		o(db)
	}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		// must precede table creation to take effect on a new file
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	if db.Path != memoryPath {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA journal_size_limit=4194304", // 4MB
		)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Prune deletes the oldest events beyond the WithMaxEvents bound, hands the
// freed pages back to the filesystem, and returns how many events went.
func (db *DB) Prune() (int64, error) {
	if db.maxEvents <= 0 {
		return 0, nil
	}
	res, err := db.Exec(`
		DELETE FROM events
		WHERE id <= (SELECT id FROM events ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		db.maxEvents,
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if n > 0 {
		if _, err := db.Exec("PRAGMA incremental_vacuum"); err != nil {
			return n, fmt.Errorf("incremental vacuum: %w", err)
		}
	}
	return n, nil
}

// CountEvents returns the number of events held.
func (db *DB) CountEvents() (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
