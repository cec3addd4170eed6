package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/courier/internal/agent"
	"github.com/lazypower/courier/internal/bundle"
	"github.com/lazypower/courier/internal/router"
	"github.com/lazypower/courier/internal/store"
)

// ErrResourceExhausted marks a fault the node cannot recover from in process.
var ErrResourceExhausted = errors.New("resource exhausted")

// FatalError ends the control loop. It carries the store occupancy at the
// time of the fault so the operator can see what the node was holding.
type FatalError struct {
	Stored int
	Known  int
	Mode   string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("node halted: %v (stored=%d known=%d mode=%s)", e.Err, e.Stored, e.Known, e.Mode)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Status is a point-in-time view of the node, published for readers outside
// the control loop.
type Status struct {
	EID           string        `json:"eid"`
	Policy        string        `json:"policy"`
	Mode          string        `json:"mode"`
	ModeRemaining time.Duration `json:"mode_remaining"`
	Cycles        int           `json:"cycles"`
	Store         store.Stats   `json:"store"`
	Router        router.Stats  `json:"router"`
	Agent         agent.Stats   `json:"agent"`
	RadioDropped  uint64        `json:"radio_dropped"`
	HeapBytes     uint64        `json:"heap_bytes"`
	Started       time.Time     `json:"started"`
	At            time.Time     `json:"at"`
}

// BundleInfo describes one retained bundle.
type BundleInfo struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Destination  string    `json:"destination"`
	Size         int       `json:"size"`
	HopCount     uint32    `json:"hop_count"`
	Created      time.Time `json:"created"`
	Expires      time.Time `json:"expires"`
	ReceivedFrom string    `json:"received_from"`
	ForwardedTo  []string  `json:"forwarded_to"`
	Retries      int       `json:"retries"`
	Sent         int       `json:"sent"`
}

func bundleInfo(rec *bundle.Record) BundleInfo {
	b := rec.Bundle
	return BundleInfo{
		ID:           string(rec.ID()),
		Source:       b.Source,
		Destination:  b.Destination,
		Size:         len(b.Payload),
		HopCount:     b.HopCount,
		Created:      b.CreatedAt(),
		Expires:      b.ExpiresAt(),
		ReceivedFrom: rec.ReceivedFrom,
		ForwardedTo:  rec.ForwardedTo.ToSlice(),
		Retries:      rec.Retries,
		Sent:         rec.Sent,
	}
}
