package radio

import "sync/atomic"

// Gated wraps an Adapter with a transmit gate. While the gate is closed Send
// returns false without touching the transceiver. The gate starts closed.
type Gated struct {
	inner   Adapter
	enabled atomic.Bool
}

// NewGated wraps a with a closed transmit gate.
func NewGated(a Adapter) *Gated {
	return &Gated{inner: a}
}

// EnableSending opens the gate.
func (g *Gated) EnableSending() { g.enabled.Store(true) }

// DisableSending closes the gate.
func (g *Gated) DisableSending() { g.enabled.Store(false) }

// Enabled reports whether the gate is open.
func (g *Gated) Enabled() bool { return g.enabled.Load() }

// Send transmits data if the gate is open.
func (g *Gated) Send(data []byte) bool {
	if !g.enabled.Load() {
		return false
	}
	return g.inner.Send(data)
}
