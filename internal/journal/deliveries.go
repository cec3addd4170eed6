package journal

import (
	"fmt"
	"time"
)

// Delivery is a bundle handed to a local endpoint.
type Delivery struct {
	ID          int64
	BundleID    string
	Source      string
	Endpoint    string
	CreatedAt   time.Time
	DeliveredAt time.Time
	Hops        int
	Payload     []byte
}

// Latency is the time from creation at the source to local delivery.
func (d Delivery) Latency() time.Duration {
	return d.DeliveredAt.Sub(d.CreatedAt)
}

// DeliverySink receives local deliveries.
type DeliverySink interface {
	RecordDelivery(d Delivery) error
}

// RecordDelivery stores a delivery. A bundle is recorded at most once.
func (db *DB) RecordDelivery(d Delivery) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO deliveries (bundle_id, source, endpoint, created_at, delivered_at, hops, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.BundleID, d.Source, d.Endpoint, d.CreatedAt.UnixMilli(), d.DeliveredAt.UnixMilli(), d.Hops, d.Payload)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the most recent deliveries, newest first.
func (db *DB) RecentDeliveries(limit int) ([]Delivery, error) {
	rows, err := db.Query(`
		SELECT id, bundle_id, source, endpoint, created_at, delivered_at, hops, payload
		FROM deliveries ORDER BY delivered_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var created, delivered int64
		if err := rows.Scan(&d.ID, &d.BundleID, &d.Source, &d.Endpoint, &created, &delivered, &d.Hops, &d.Payload); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.CreatedAt = time.UnixMilli(created)
		d.DeliveredAt = time.UnixMilli(delivered)
		out = append(out, d)
	}
	return out, rows.Err()
}
