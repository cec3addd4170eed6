// Package router implements epidemic store-carry-forward routing: every
// bundle accepted from the network is kept and offered to every neighbor
// until it expires or is evicted, and deduplication against the seen-set is
// the only thing that stops a bundle from circulating forever.
package router

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lazypower/courier/internal/bundle"
	"github.com/lazypower/courier/internal/clock"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/radio"
	"github.com/lazypower/courier/internal/store"
)

// Agent is what the router needs from the bundle protocol agent.
type Agent interface {
	// Serialize turns rec into wire bytes sent on behalf of local.
	Serialize(local string, rec *bundle.Record) ([]byte, error)
	Decode(data []byte) (*bundle.Bundle, error)
	Expired(b *bundle.Bundle, now time.Time) bool
}

// Config holds router settings.
type Config struct {
	// Local is this node's endpoint id.
	Local string
	// Pacing is the pause between two sends of one scheduled pass.
	Pacing time.Duration
	// MaxRetries bounds failed sends per bundle; 0 means unbounded.
	MaxRetries int
	// ContactTimeout is the silence after which a neighbor heard again
	// counts as a new contact. 0 means only the first contact counts.
	ContactTimeout time.Duration
}

// Stats counts router decisions since start.
type Stats struct {
	Received     int `json:"received"`
	Duplicates   int `json:"duplicates"`
	Malformed    int `json:"malformed"`
	Sent         int `json:"sent"`
	SendFailures int `json:"send_failures"`
	ExpiredSkips int `json:"expired_skips"`
	Passes       int `json:"passes"`
}

// Option customizes a Router.
type Option func(*Router)

// WithAdapters sets the transmit adapters. A frame counts as sent when at
// least one adapter accepts it.
func WithAdapters(a ...radio.Adapter) Option {
	return func(r *Router) { r.adapters = append(r.adapters, a...) }
}

// WithPollers sets the pull-style sources drained by Poll.
func WithPollers(p ...radio.Poller) Option {
	return func(r *Router) { r.pollers = append(r.pollers, p...) }
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithSink sets where routing events are journaled.
func WithSink(s journal.Sink) Option {
	return func(r *Router) { r.sink = s }
}

// WithLogger sets the router's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Router) { r.log = l }
}

// Router makes the reception and forwarding decisions for one node. It is
// driven from the control loop and is not safe for concurrent use.
type Router struct {
	cfg    Config
	policy Policy
	store  *store.Store
	agent  Agent

	adapters []radio.Adapter
	pollers  []radio.Poller
	clock    clock.Clock
	sink     journal.Sink
	log      logrus.FieldLogger

	contacts []string
	stats    Stats
}

// New creates a router with the given forwarding policy.
func New(cfg Config, policy Policy, st *store.Store, agent Agent, opts ...Option) *Router {
	r := &Router{
		cfg:    cfg,
		policy: policy,
		store:  st,
		agent:  agent,
		clock:  clock.System{},
		sink:   journal.Discard,
		log:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Policy returns the forwarding policy chosen at construction.
func (r *Router) Policy() Policy { return r.policy }

// Stats returns a copy of the router counters.
func (r *Router) Stats() Stats { return r.stats }

// Poll drains every poller and runs each frame through reception. It returns
// the records newly admitted to the store.
func (r *Router) Poll() []*bundle.Record {
	var accepted []*bundle.Record
	for _, p := range r.pollers {
		for {
			f, ok := p.Poll()
			if !ok {
				break
			}
			rec, err := r.OnReception(f)
			if err != nil {
				r.log.WithError(err).WithField("from", f.From).Debug("dropping frame")
				continue
			}
			if rec != nil {
				accepted = append(accepted, rec)
			}
		}
	}
	return accepted
}

// OnReception decodes one inbound frame and admits it. A nil record with a
// nil error means the bundle was a duplicate.
func (r *Router) OnReception(f radio.Frame) (*bundle.Record, error) {
	b, err := r.agent.Decode(f.Data)
	if err != nil {
		r.stats.Malformed++
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	neighbor := f.From
	if neighbor == "" {
		neighbor = b.Previous
	}
	return r.Accept(b, neighbor, len(f.Data)), nil
}

// Accept runs the deduplication check for b received from neighbor. A bundle
// whose id is already in the seen-set is discarded even if its body is gone.
// Otherwise the id is marked seen and a record pre-seeded with neighbor is
// stored.
func (r *Router) Accept(b *bundle.Bundle, neighbor string, size int) *bundle.Record {
	id := b.ID()
	now := r.clock.Now()
	if neighbor != "" && neighbor != r.cfg.Local {
		r.touch(neighbor, now)
	}

	if r.store.IsKnown(id) {
		r.stats.Duplicates++
		r.record(journal.Event{At: now, Kind: journal.KindDuplicate, BundleID: string(id), Neighbor: neighbor, Size: size})
		return nil
	}

	r.store.MarkSeen(id, neighbor, now)
	rec := bundle.NewRecord(b, neighbor, now)
	r.store.Put(rec)
	r.stats.Received++

	r.log.WithFields(logrus.Fields{
		"bundle": id,
		"from":   neighbor,
		"hops":   b.HopCount,
	}).Debug("bundle accepted")
	r.record(journal.Event{At: now, Kind: journal.KindReceive, BundleID: string(id), Neighbor: neighbor, Size: size})
	return rec
}

// touch records contact with neighbor and queues it for Contacts when it was
// unknown or had been silent for ContactTimeout.
func (r *Router) touch(neighbor string, now time.Time) {
	prev := r.store.GetNode(neighbor)
	fresh := prev == nil ||
		(r.cfg.ContactTimeout > 0 && now.Sub(prev.LastContact) >= r.cfg.ContactTimeout)
	r.store.TouchNode(neighbor, now)
	if !fresh {
		return
	}
	for _, c := range r.contacts {
		if c == neighbor {
			return
		}
	}
	r.contacts = append(r.contacts, neighbor)
	r.log.WithField("neighbor", neighbor).Debug("new contact")
}

// Contacts returns the neighbors newly contacted since the last call, in
// order of first contact, and forgets them.
func (r *Router) Contacts() []string {
	out := r.contacts
	r.contacts = nil
	return out
}

// OnForwardOpportunity is the agent's hook for "rec may go to neighbor now".
// The answer depends on the policy.
func (r *Router) OnForwardOpportunity(neighbor string, rec *bundle.Record) (bool, bundle.ReasonCode) {
	return r.policy.Forward(r, neighbor, rec)
}

// ScheduledForward transmits every retained, unexpired bundle once on behalf
// of local, pausing Pacing between sends. A failed send is not retried in
// the same pass. It returns the number of bundles sent.
func (r *Router) ScheduledForward(local string) int {
	return r.ScheduledForwardBefore(local, time.Time{})
}

// ScheduledForwardBefore is ScheduledForward restricted to bundles stored
// before cutoff. Bundles admitted at or after cutoff wait for the next pass.
// A zero cutoff admits everything.
func (r *Router) ScheduledForwardBefore(local string, cutoff time.Time) int {
	r.stats.Passes++
	candidates := r.store.RetryCandidates(r.clock.Now())

	sent := 0
	attempted := false
	for _, rec := range candidates {
		if !cutoff.IsZero() && !rec.StoredAt.Before(cutoff) {
			continue
		}
		// pacing moves the clock, so expiry is checked per bundle
		if r.agent.Expired(rec.Bundle, r.clock.Now()) {
			r.stats.ExpiredSkips++
			continue
		}
		if r.exhausted(rec) {
			continue
		}

		data, err := r.agent.Serialize(local, rec)
		if err != nil {
			r.log.WithError(err).WithField("bundle", rec.ID()).Warn("serialize failed")
			continue
		}

		if attempted {
			r.clock.Sleep(r.cfg.Pacing)
		}
		attempted = true
		if r.transmit(rec, bundle.Broadcast, data) {
			sent++
		}
	}

	if len(candidates) > 0 {
		r.log.WithFields(logrus.Fields{
			"candidates": len(candidates),
			"sent":       sent,
		}).Debug("scheduled forward")
	}
	return sent
}

func (r *Router) exhausted(rec *bundle.Record) bool {
	return r.cfg.MaxRetries > 0 && rec.Retries >= r.cfg.MaxRetries
}

// transmit hands data to the adapters and updates the record's relay state.
func (r *Router) transmit(rec *bundle.Record, neighbor string, data []byte) bool {
	ok := false
	for _, a := range r.adapters {
		if a.Send(data) {
			ok = true
		}
	}

	ev := journal.Event{At: r.clock.Now(), BundleID: string(rec.ID()), Neighbor: neighbor, Size: len(data)}
	if ok {
		rec.Sent++
		rec.ForwardedTo.Add(neighbor)
		r.stats.Sent++
		ev.Kind = journal.KindSend
	} else {
		rec.Retries++
		r.stats.SendFailures++
		ev.Kind = journal.KindSendFailed
		r.log.WithFields(logrus.Fields{
			"bundle":  rec.ID(),
			"retries": rec.Retries,
		}).Debug("send failed")
	}
	r.record(ev)
	return ok
}

func (r *Router) record(ev journal.Event) {
	if err := r.sink.Record(ev); err != nil {
		r.log.WithError(err).Warn("journal write failed")
	}
}
