package agent

import (
	"time"

	"github.com/lazypower/courier/internal/bundle"
)

// Protocol is the serialization and expiry half of the agent. The router is
// built on it before the Agent itself exists.
type Protocol struct {
	EID string
	// MaxPayload bounds decoded payloads; 0 means bundle.MaxPayload.
	MaxPayload int
}

// Serialize encodes rec as transmitted by local: the previous-node field is
// rewritten and the hop count incremented on a copy, the stored bundle is not
// modified.
func (p Protocol) Serialize(local string, rec *bundle.Record) ([]byte, error) {
	if local == "" {
		local = p.EID
	}
	b := *rec.Bundle
	b.Previous = local
	b.HopCount++
	return bundle.Encode(&b)
}

// Decode parses wire bytes into a bundle.
func (p Protocol) Decode(data []byte) (*bundle.Bundle, error) {
	if p.MaxPayload <= 0 {
		return bundle.Decode(data)
	}
	return bundle.DecodeLimit(data, p.MaxPayload)
}

// Expired reports whether b may no longer be forwarded at now.
func (Protocol) Expired(b *bundle.Bundle, now time.Time) bool {
	return b.Expired(now)
}
