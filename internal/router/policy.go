package router

import (
	"fmt"
	"strings"

	"github.com/lazypower/courier/internal/bundle"
)

// Policy decides what happens when the agent reports a forwarding
// opportunity for a bundle and a neighbor.
type Policy interface {
	Name() string
	Forward(r *Router, neighbor string, rec *bundle.Record) (bool, bundle.ReasonCode)
}

// Immediate transmits as soon as a forwarding opportunity is raised and
// reports the outcome of the send.
type Immediate struct{}

func (Immediate) Name() string { return "immediate" }

func (Immediate) Forward(r *Router, neighbor string, rec *bundle.Record) (bool, bundle.ReasonCode) {
	if rec.ForwardedTo.Contains(neighbor) {
		return true, bundle.NoAdditionalInformation
	}
	now := r.clock.Now()
	if r.agent.Expired(rec.Bundle, now) {
		r.stats.ExpiredSkips++
		return false, bundle.LifetimeExpired
	}
	if r.exhausted(rec) {
		return false, bundle.NoTimelyContactWithNextNode
	}

	data, err := r.agent.Serialize(r.cfg.Local, rec)
	if err != nil {
		r.log.WithError(err).WithField("bundle", rec.ID()).Warn("serialize failed")
		return false, bundle.BlockUnintelligible
	}
	if !r.transmit(rec, neighbor, data) {
		return false, bundle.NoTimelyContactWithNextNode
	}
	return true, bundle.NoAdditionalInformation
}

// ScheduledOnly never keys the radio from the forwarding hook. It reports
// success so the agent's bookkeeping moves on, and leaves transmission to
// ScheduledForward.
type ScheduledOnly struct{}

func (ScheduledOnly) Name() string { return "scheduled" }

func (ScheduledOnly) Forward(*Router, string, *bundle.Record) (bool, bundle.ReasonCode) {
	return true, bundle.NoAdditionalInformation
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "scheduled", "scheduled_only", "scheduled-only":
		return ScheduledOnly{}, nil
	case "immediate":
		return Immediate{}, nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", name)
	}
}
