// Package bundle defines the message units relayed between nodes and the
// per-node bookkeeping attached to them.
package bundle

import (
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ID identifies a bundle globally: origin endpoint, creation time and sequence.
type ID string

// LocalOrigin is the seen-set origin recorded for bundles created on this node.
const LocalOrigin = "local"

// Broadcast is the neighbor address used when a frame goes to whoever is in range.
const Broadcast = "*"

// Bundle is an application message with routing and lifetime metadata.
type Bundle struct {
	Source       string
	Destination  string
	CreationTime int64 // unix millis
	Sequence     uint64
	Lifetime     time.Duration

	// Previous is the address of the node that last transmitted the bundle.
	Previous string
	HopCount uint32

	Payload []byte
}

// ID returns the bundle's identifier.
func (b *Bundle) ID() ID {
	return ID(fmt.Sprintf("%s-%d-%d", b.Source, b.CreationTime, b.Sequence))
}

// CreatedAt returns the creation timestamp as a time.Time.
func (b *Bundle) CreatedAt() time.Time {
	return time.UnixMilli(b.CreationTime)
}

// ExpiresAt returns the instant after which the bundle must not be forwarded.
func (b *Bundle) ExpiresAt() time.Time {
	return b.CreatedAt().Add(b.Lifetime)
}

// Expired reports whether the bundle's lifetime has passed at now.
func (b *Bundle) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt())
}

// DestinedFor reports whether the destination addresses the given endpoint on
// node eid. Both ipn ("ipn://3" + "1" -> "ipn://3.1") and dtn
// ("dtn://a/" + "inbox" -> "dtn://a/inbox") forms are accepted.
func (b *Bundle) DestinedFor(eid, endpoint string) bool {
	if strings.HasPrefix(eid, "ipn:") {
		return b.Destination == eid+"."+endpoint
	}
	if !strings.HasSuffix(eid, "/") {
		eid += "/"
	}
	return b.Destination == eid+endpoint
}

// Record is a retained bundle plus the relay state the router keeps for it.
type Record struct {
	Bundle *Bundle

	// ForwardedTo holds neighbor addresses the bundle was already handed to,
	// including the neighbor it was received from.
	ForwardedTo mapset.Set[string]
	Retries     int
	Sent        int

	ReceivedFrom string
	StoredAt     time.Time
}

// NewRecord wraps b in a Record. A non-empty from is pre-seeded into ForwardedTo.
func NewRecord(b *Bundle, from string, at time.Time) *Record {
	r := &Record{
		Bundle:       b,
		ForwardedTo:  mapset.NewThreadUnsafeSet[string](),
		ReceivedFrom: from,
		StoredAt:     at,
	}
	if from != "" && from != LocalOrigin {
		r.ForwardedTo.Add(from)
	}
	return r
}

// ID is shorthand for r.Bundle.ID().
func (r *Record) ID() ID {
	return r.Bundle.ID()
}

// SeenEntry records where and when a bundle identifier was first observed.
type SeenEntry struct {
	ID   ID
	From string
	At   time.Time
}

// Node is cached metadata about a neighbor.
type Node struct {
	Address     string
	LastContact time.Time
}
