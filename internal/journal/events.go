// Package journal keeps a durable SQLite record of what a node did with each
// bundle, for after-the-fact delivery and latency analysis.
package journal

import (
	"fmt"
	"time"
)

// Event kinds.
const (
	KindOriginate  = "originate"
	KindReceive    = "receive"
	KindDuplicate  = "duplicate"
	KindDeliver    = "deliver"
	KindSend       = "send"
	KindSendFailed = "send_failed"
	KindPurge      = "purge"
	KindMode       = "mode"
)

// Event is one journal row.
type Event struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	BundleID string    `json:"bundle_id,omitempty"`
	Neighbor string    `json:"neighbor,omitempty"`
	Size     int       `json:"size"`
	Detail   string    `json:"detail,omitempty"`
}

// Sink receives events from the router and agent.
type Sink interface {
	Record(ev Event) error
}

type discard struct{}

func (discard) Record(Event) error { return nil }

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

// Record appends an event. A zero At is stamped with the current time.
func (db *DB) Record(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO events (at, kind, bundle_id, neighbor, size, detail)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''))
	`, ev.At.UnixMilli(), ev.Kind, ev.BundleID, ev.Neighbor, ev.Size, ev.Detail)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// RecentEvents returns the most recent events, newest first.
func (db *DB) RecentEvents(limit int) ([]Event, error) {
	rows, err := db.Query(`
		SELECT id, at, kind, COALESCE(bundle_id, ''), COALESCE(neighbor, ''), size, COALESCE(detail, '')
		FROM events ORDER BY at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.BundleID, &e.Neighbor, &e.Size, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// BundleHistory returns every event for one bundle, oldest first.
func (db *DB) BundleHistory(bundleID string) ([]Event, error) {
	rows, err := db.Query(`
		SELECT id, at, kind, COALESCE(bundle_id, ''), COALESCE(neighbor, ''), size, COALESCE(detail, '')
		FROM events WHERE bundle_id = ? ORDER BY at, id
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("get bundle history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.BundleID, &e.Neighbor, &e.Size, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByKind returns the number of events per kind.
func (db *DB) CountByKind() (map[string]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
