package journal

import (
	"errors"
	"fmt"
)

// ErrSchemaTooNew is returned when a journal was written by a newer build.
var ErrSchemaTooNew = errors.New("journal schema too new")

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "events: relay decisions per bundle",
		SQL: `
CREATE TABLE events (
    id         INTEGER PRIMARY KEY,
    at         INTEGER NOT NULL,
    kind       TEXT NOT NULL CHECK (kind IN ('originate', 'receive', 'duplicate', 'deliver', 'send', 'send_failed', 'purge', 'mode')),
    bundle_id  TEXT,
    neighbor   TEXT,
    size       INTEGER NOT NULL DEFAULT 0,
    detail     TEXT
);

CREATE INDEX idx_events_at     ON events(at DESC);
CREATE INDEX idx_events_bundle ON events(bundle_id);
`,
	},
	{
		Version:     2,
		Description: "deliveries: payloads handed to local endpoints",
		SQL: `
CREATE TABLE deliveries (
    id           INTEGER PRIMARY KEY,
    bundle_id    TEXT NOT NULL UNIQUE,
    source       TEXT NOT NULL,
    endpoint     TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    delivered_at INTEGER NOT NULL,
    hops         INTEGER NOT NULL DEFAULT 0,
    payload      BLOB
);

CREATE INDEX idx_deliveries_delivered ON deliveries(delivered_at DESC);
`,
	},
}

// migrate applies every migration newer than the version in the database
// header. Each migration and its version bump commit together.
func (db *DB) migrate() error {
	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	latest := migrations[len(migrations)-1].Version
	if current > latest {
		return fmt.Errorf("%w: journal is at version %d, this build knows %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	// PRAGMA takes no bound parameters
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the schema version stored in the database header.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}
