// Package store holds the bounded in-memory state of a relay node: the bundle
// bodies it is carrying, the identifiers it has already seen, and metadata
// about recently contacted neighbors.
//
// Bodies and seen identifiers are two independent FIFO pools. Evicting a body
// never evicts its identifier, so a bundle whose body was dropped is still
// refused when a neighbor offers it again.
//
// A Store is not safe for concurrent use; it is owned by the control loop.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/lazypower/courier/internal/bundle"
)

// ErrCapacity is returned by New for unusable pool sizes.
var ErrCapacity = errors.New("invalid store capacity")

// Config bounds the three pools.
type Config struct {
	MaxStoredBundles  int
	MaxKnownBundleIDs int
	MaxKnownNodes     int
}

// Stats is a point-in-time view of store occupancy.
type Stats struct {
	Stored        int `json:"stored"`
	Known         int `json:"known"`
	Nodes         int `json:"nodes"`
	EvictedBodies int `json:"evicted_bodies"`
	EvictedIDs    int `json:"evicted_ids"`
	Purged        int `json:"purged"`
}

// Store is the bounded body-store, seen-set and neighbor cache.
type Store struct {
	cfg Config

	// bodies and seen are only ever appended to with fresh keys and read with
	// Peek/Contains, which keeps them in strict insertion order.
	bodies *simplelru.LRU // bundle.ID -> *bundle.Record
	seen   *simplelru.LRU // bundle.ID -> bundle.SeenEntry
	nodes  *simplelru.LRU // address -> *bundle.Node

	evictedBodies int
	evictedIDs    int
	purged        int
}

// New creates a Store. The two pools are sized independently; keeping the
// seen-set at least as large as the body-store is left to configuration.
func New(cfg Config) (*Store, error) {
	if cfg.MaxStoredBundles <= 0 || cfg.MaxKnownBundleIDs <= 0 {
		return nil, fmt.Errorf("%w: sizes must be positive (bundles=%d, ids=%d)",
			ErrCapacity, cfg.MaxStoredBundles, cfg.MaxKnownBundleIDs)
	}
	if cfg.MaxKnownNodes <= 0 {
		cfg.MaxKnownNodes = 32
	}

	bodies, err := simplelru.NewLRU(cfg.MaxStoredBundles, nil)
	if err != nil {
		return nil, fmt.Errorf("create body store: %w", err)
	}
	seen, err := simplelru.NewLRU(cfg.MaxKnownBundleIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("create seen set: %w", err)
	}
	nodes, err := simplelru.NewLRU(cfg.MaxKnownNodes, nil)
	if err != nil {
		return nil, fmt.Errorf("create node cache: %w", err)
	}

	return &Store{cfg: cfg, bodies: bodies, seen: seen, nodes: nodes}, nil
}

// IsKnown reports whether id is in the seen-set, whether or not its body is
// still retained.
func (s *Store) IsKnown(id bundle.ID) bool {
	return s.seen.Contains(id)
}

// MarkSeen adds id to the seen-set, evicting the oldest identifier first when
// the set is full. Marking an already seen id is a no-op.
func (s *Store) MarkSeen(id bundle.ID, from string, at time.Time) {
	if s.seen.Contains(id) {
		return
	}
	if s.seen.Len() >= s.cfg.MaxKnownBundleIDs {
		s.seen.RemoveOldest()
		s.evictedIDs++
	}
	s.seen.Add(id, bundle.SeenEntry{ID: id, From: from, At: at})
}

// SeenEntry returns the seen-set entry for id.
func (s *Store) SeenEntry(id bundle.ID) (bundle.SeenEntry, bool) {
	v, ok := s.seen.Peek(id)
	if !ok {
		return bundle.SeenEntry{}, false
	}
	return v.(bundle.SeenEntry), true
}

// Put inserts rec into the body-store, evicting the oldest body first when
// the store is full. Putting an id that is already retained is a no-op and
// leaves the existing record's relay state untouched. Put reports whether rec
// was inserted.
func (s *Store) Put(rec *bundle.Record) bool {
	id := rec.ID()
	if s.bodies.Contains(id) {
		return false
	}
	if s.bodies.Len() >= s.cfg.MaxStoredBundles {
		s.bodies.RemoveOldest()
		s.evictedBodies++
	}
	s.bodies.Add(id, rec)
	return true
}

// Get returns the retained record for id.
func (s *Store) Get(id bundle.ID) (*bundle.Record, bool) {
	v, ok := s.bodies.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*bundle.Record), true
}

// Remove drops the body for id. The identifier stays in the seen-set.
func (s *Store) Remove(id bundle.ID) bool {
	return s.bodies.Remove(id)
}

// GetNode returns cached metadata for a neighbor, or nil if unknown.
func (s *Store) GetNode(addr string) *bundle.Node {
	v, ok := s.nodes.Get(addr)
	if !ok {
		return nil
	}
	return v.(*bundle.Node)
}

// KnowsNode reports whether addr is in the neighbor cache, without touching
// its recency.
func (s *Store) KnowsNode(addr string) bool {
	return s.nodes.Contains(addr)
}

// TouchNode records contact with a neighbor and returns its metadata.
func (s *Store) TouchNode(addr string, at time.Time) *bundle.Node {
	if n := s.GetNode(addr); n != nil {
		n.LastContact = at
		return n
	}
	n := &bundle.Node{Address: addr, LastContact: at}
	s.nodes.Add(addr, n)
	return n
}

// RetryCandidates returns every retained record that has not expired at now,
// oldest first. The returned slice is a snapshot: inserting into the store
// while iterating it is safe, and insertions show up on the next call.
func (s *Store) RetryCandidates(now time.Time) []*bundle.Record {
	keys := s.bodies.Keys()
	out := make([]*bundle.Record, 0, len(keys))
	for _, k := range keys {
		v, ok := s.bodies.Peek(k)
		if !ok {
			continue
		}
		rec := v.(*bundle.Record)
		if rec.Bundle.Expired(now) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Records returns every retained record, expired or not, oldest first.
func (s *Store) Records() []*bundle.Record {
	keys := s.bodies.Keys()
	out := make([]*bundle.Record, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.bodies.Peek(k); ok {
			out = append(out, v.(*bundle.Record))
		}
	}
	return out
}

// PurgeExpired removes every body whose lifetime has passed at now and
// returns the removed identifiers. The seen-set is not touched.
func (s *Store) PurgeExpired(now time.Time) []bundle.ID {
	var removed []bundle.ID
	for _, k := range s.bodies.Keys() {
		v, ok := s.bodies.Peek(k)
		if !ok {
			continue
		}
		if rec := v.(*bundle.Record); rec.Bundle.Expired(now) {
			s.bodies.Remove(k)
			removed = append(removed, rec.ID())
		}
	}
	s.purged += len(removed)
	return removed
}

// Len returns the number of retained bodies.
func (s *Store) Len() int { return s.bodies.Len() }

// SeenLen returns the number of identifiers in the seen-set.
func (s *Store) SeenLen() int { return s.seen.Len() }

// Stats returns current occupancy and eviction counters.
func (s *Store) Stats() Stats {
	return Stats{
		Stored:        s.bodies.Len(),
		Known:         s.seen.Len(),
		Nodes:         s.nodes.Len(),
		EvictedBodies: s.evictedBodies,
		EvictedIDs:    s.evictedIDs,
		Purged:        s.purged,
	}
}
