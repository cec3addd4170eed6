package store

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/courier/internal/bundle"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func testStore(t *testing.T, bodies, ids int) *Store {
	t.Helper()
	s, err := New(Config{MaxStoredBundles: bodies, MaxKnownBundleIDs: ids})
	require.NoError(t, err)
	return s
}

func record(seq uint64, lifetime time.Duration) *bundle.Record {
	b := &bundle.Bundle{
		Source:       "ipn://1",
		Destination:  "ipn://2.1",
		CreationTime: epoch.UnixMilli(),
		Sequence:     seq,
		Lifetime:     lifetime,
	}
	return bundle.NewRecord(b, "ipn://9", epoch)
}

func ids(recs []*bundle.Record) []bundle.ID {
	out := make([]bundle.ID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, cfg := range []Config{
		{MaxStoredBundles: 0, MaxKnownBundleIDs: 10},
		{MaxStoredBundles: 10, MaxKnownBundleIDs: 0},
		{MaxStoredBundles: -1, MaxKnownBundleIDs: 10},
	} {
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrCapacity, "config %+v", cfg)
	}

	// a seen-set smaller than the body-store is a configuration concern
	s, err := New(Config{MaxStoredBundles: 50, MaxKnownBundleIDs: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestBodyStoreEvictsOldest(t *testing.T) {
	s := testStore(t, 2, 10)
	a, b, c := record(1, time.Hour), record(2, time.Hour), record(3, time.Hour)

	require.True(t, s.Put(a))
	require.True(t, s.Put(b))
	require.True(t, s.Put(c))

	assert.Equal(t, []bundle.ID{b.ID(), c.ID()}, ids(s.Records()))
	_, ok := s.Get(a.ID())
	assert.False(t, ok, "A should have been evicted")
	assert.Equal(t, 1, s.Stats().EvictedBodies)
}

func TestSeenSetEvictsIndependently(t *testing.T) {
	s := testStore(t, 50, 2)
	x, y, z := record(1, time.Hour), record(2, time.Hour), record(3, time.Hour)

	for _, r := range []*bundle.Record{x, y, z} {
		s.MarkSeen(r.ID(), "ipn://9", epoch)
		s.Put(r)
	}

	assert.False(t, s.IsKnown(x.ID()), "X should have aged out of the seen-set")
	assert.True(t, s.IsKnown(y.ID()))
	assert.True(t, s.IsKnown(z.ID()))

	// the body-store had room, so X's body is still there
	_, ok := s.Get(x.ID())
	assert.True(t, ok)
	assert.Equal(t, 3, s.Len())
}

func TestBodyEvictionKeepsSeenEntry(t *testing.T) {
	s := testStore(t, 1, 10)
	a, b := record(1, time.Hour), record(2, time.Hour)

	s.MarkSeen(a.ID(), "ipn://9", epoch)
	s.Put(a)
	s.MarkSeen(b.ID(), "ipn://9", epoch)
	s.Put(b)

	_, ok := s.Get(a.ID())
	assert.False(t, ok)
	assert.True(t, s.IsKnown(a.ID()), "evicting a body must not forget its id")
}

func TestMarkSeenIdempotent(t *testing.T) {
	s := testStore(t, 2, 2)
	a, b := record(1, time.Hour), record(2, time.Hour)

	s.MarkSeen(a.ID(), "ipn://9", epoch)
	s.MarkSeen(b.ID(), "ipn://8", epoch)
	before := s.Stats()

	s.MarkSeen(b.ID(), "ipn://7", epoch.Add(time.Second))
	assert.Equal(t, before, s.Stats())
	assert.True(t, s.IsKnown(a.ID()), "re-marking must not evict")

	entry, ok := s.SeenEntry(b.ID())
	require.True(t, ok)
	assert.Equal(t, "ipn://8", entry.From)
	assert.Equal(t, epoch, entry.At)
}

func TestDuplicatePutKeepsRelayState(t *testing.T) {
	s := testStore(t, 5, 5)
	a := record(1, time.Hour)
	a.Retries = 3
	a.ForwardedTo.Add("ipn://4")
	require.True(t, s.Put(a))

	dup := record(1, time.Hour)
	assert.False(t, s.Put(dup))

	got, ok := s.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 3, got.Retries)
	assert.True(t, got.ForwardedTo.Contains("ipn://4"))
}

func TestRetryCandidatesSkipsExpired(t *testing.T) {
	s := testStore(t, 5, 5)
	short, long := record(1, time.Minute), record(2, time.Hour)
	s.Put(short)
	s.Put(long)

	got := s.RetryCandidates(epoch.Add(2 * time.Minute))
	assert.Equal(t, []bundle.ID{long.ID()}, ids(got))
	assert.Equal(t, 2, s.Len(), "candidates must not remove expired bodies")
}

func TestRetryCandidatesIsSnapshot(t *testing.T) {
	s := testStore(t, 5, 5)
	s.Put(record(1, time.Hour))
	s.Put(record(2, time.Hour))

	cands := s.RetryCandidates(epoch)
	for i := range cands {
		s.Put(record(uint64(10+i), time.Hour))
	}
	assert.Len(t, cands, 2)
	assert.Len(t, s.RetryCandidates(epoch), 4)
}

func TestPurgeExpiredLeavesSeenSet(t *testing.T) {
	s := testStore(t, 5, 5)
	short, long := record(1, time.Minute), record(2, time.Hour)
	for _, r := range []*bundle.Record{short, long} {
		s.MarkSeen(r.ID(), "ipn://9", epoch)
		s.Put(r)
	}

	removed := s.PurgeExpired(epoch.Add(time.Minute))
	assert.Equal(t, []bundle.ID{short.ID()}, removed)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.IsKnown(short.ID()))
	assert.Equal(t, 1, s.Stats().Purged)
}

func TestRemoveKeepsSeen(t *testing.T) {
	s := testStore(t, 5, 5)
	a := record(1, time.Hour)
	s.MarkSeen(a.ID(), bundle.LocalOrigin, epoch)
	s.Put(a)

	assert.True(t, s.Remove(a.ID()))
	assert.False(t, s.Remove(a.ID()))
	assert.True(t, s.IsKnown(a.ID()))
}

func TestNodes(t *testing.T) {
	s, err := New(Config{MaxStoredBundles: 1, MaxKnownBundleIDs: 1, MaxKnownNodes: 2})
	require.NoError(t, err)

	assert.Nil(t, s.GetNode("ipn://1"))

	s.TouchNode("ipn://1", epoch)
	n := s.TouchNode("ipn://1", epoch.Add(time.Minute))
	assert.Equal(t, epoch.Add(time.Minute), n.LastContact)

	s.TouchNode("ipn://2", epoch)
	s.TouchNode("ipn://3", epoch)
	assert.Equal(t, 2, s.Stats().Nodes)
}

func TestCapacityBoundsHoldForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		bodies := 1 + rng.Intn(8)
		known := bodies + rng.Intn(8)
		s := testStore(t, bodies, known)

		for op := 0; op < 200; op++ {
			r := record(uint64(rng.Intn(40)), time.Hour)
			if rng.Intn(2) == 0 {
				s.MarkSeen(r.ID(), fmt.Sprintf("ipn://%d", rng.Intn(4)), epoch)
			} else {
				s.Put(r)
			}
			require.LessOrEqual(t, s.Len(), bodies)
			require.LessOrEqual(t, s.SeenLen(), known)
		}
	}
}
