// Package agent is the local bundle protocol agent: it creates bundles for
// local applications, hands received bundles addressed to this node to
// registered endpoints, and raises forwarding opportunities with the router.
package agent

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lazypower/courier/internal/bundle"
	"github.com/lazypower/courier/internal/clock"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/router"
	"github.com/lazypower/courier/internal/store"
)

var (
	// ErrQueueFull is returned by Submit when the origination queue is full.
	ErrQueueFull = errors.New("origination queue full")
	// ErrNoDestination is returned for an origination without a destination.
	ErrNoDestination = errors.New("destination is required")
	// ErrPayloadTooLarge is returned for a payload peers would refuse to decode.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Config holds agent settings.
type Config struct {
	EID             string
	DefaultLifetime time.Duration
	RetryInterval   time.Duration
	QueueSize       int
	MaxPayload      int // 0 means bundle.MaxPayload
}

// Origination is a request from a local application to send a payload.
type Origination struct {
	Destination string        `json:"destination"`
	Payload     []byte        `json:"payload"`
	Lifetime    time.Duration `json:"lifetime,omitempty"`
}

// DeliverFunc receives bundles addressed to a registered endpoint.
type DeliverFunc func(b *bundle.Bundle)

// Stats counts agent activity since start.
type Stats struct {
	Originated int `json:"originated"`
	Delivered  int `json:"delivered"`
	Rejected   int `json:"rejected"`
}

// Option customizes an Agent.
type Option func(*Agent)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithSink sets where agent events are journaled.
func WithSink(s journal.Sink) Option {
	return func(a *Agent) { a.sink = s }
}

// WithDeliveries records every local delivery.
func WithDeliveries(d journal.DeliverySink) Option {
	return func(a *Agent) { a.deliveries = d }
}

// WithLogger sets the agent's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Agent) { a.log = l }
}

// Agent drives origination, local delivery and forwarding offers. Apart from
// Submit and Register it must only be used from the control loop.
type Agent struct {
	cfg    Config
	store  *store.Store
	router *router.Router

	clock      clock.Clock
	sink       journal.Sink
	deliveries journal.DeliverySink
	log        logrus.FieldLogger

	queue chan Origination

	mu        sync.RWMutex
	endpoints map[string]DeliverFunc

	lastCreation int64
	seq          uint64
	lastRetry    time.Time
	contacts     []string // neighbors still owed an offer of the retained bundles
	stats        Stats
}

// New creates an agent for the node identified by cfg.EID.
func New(cfg Config, st *store.Store, rt *router.Router, opts ...Option) *Agent {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.DefaultLifetime <= 0 {
		cfg.DefaultLifetime = time.Hour
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = bundle.MaxPayload
	}
	a := &Agent{
		cfg:       cfg,
		store:     st,
		router:    rt,
		clock:     clock.System{},
		sink:      journal.Discard,
		log:       logrus.StandardLogger(),
		queue:     make(chan Origination, cfg.QueueSize),
		endpoints: make(map[string]DeliverFunc),
	}
	for _, o := range opts {
		o(a)
	}
	a.lastRetry = a.clock.Now()
	return a
}

// EID returns the local endpoint id.
func (a *Agent) EID() string { return a.cfg.EID }

// Stats returns a copy of the agent counters.
func (a *Agent) Stats() Stats { return a.stats }

// Register routes bundles addressed to endpoint on this node to fn.
// Registering an endpoint again replaces its handler.
func (a *Agent) Register(endpoint string, fn DeliverFunc) {
	a.mu.Lock()
	a.endpoints[endpoint] = fn
	a.mu.Unlock()
}

// Submit queues an origination for the next tick. It is safe to call from
// any goroutine and never blocks.
func (a *Agent) Submit(o Origination) error {
	if err := a.check(o); err != nil {
		return err
	}
	select {
	case a.queue <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Agent) check(o Origination) error {
	if o.Destination == "" {
		return ErrNoDestination
	}
	if len(o.Payload) > a.cfg.MaxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(o.Payload), a.cfg.MaxPayload)
	}
	return nil
}

// Originate creates a bundle from this node, marks it seen as locally
// originated, stores it and offers it for forwarding.
func (a *Agent) Originate(o Origination) (*bundle.Record, error) {
	if err := a.check(o); err != nil {
		return nil, err
	}
	lifetime := o.Lifetime
	if lifetime <= 0 {
		lifetime = a.cfg.DefaultLifetime
	}

	now := a.clock.Now()
	// a clock stepping backwards must not reuse an earlier millisecond
	created := max(now.UnixMilli(), a.lastCreation)
	if created == a.lastCreation {
		a.seq++
	} else {
		a.lastCreation = created
		a.seq = 0
	}

	b := &bundle.Bundle{
		Source:       a.cfg.EID,
		Destination:  o.Destination,
		CreationTime: created,
		Sequence:     a.seq,
		Lifetime:     lifetime,
		Payload:      o.Payload,
	}
	id := b.ID()
	if a.store.IsKnown(id) {
		return nil, fmt.Errorf("originate %s: id already seen", id)
	}

	a.store.MarkSeen(id, bundle.LocalOrigin, now)
	rec := bundle.NewRecord(b, bundle.LocalOrigin, now)
	a.store.Put(rec)
	a.stats.Originated++

	a.log.WithFields(logrus.Fields{
		"bundle":      id,
		"destination": o.Destination,
		"size":        len(o.Payload),
	}).Info("bundle originated")
	a.record(journal.Event{At: now, Kind: journal.KindOriginate, BundleID: string(id), Size: len(o.Payload)})

	a.offer(rec)
	return rec, nil
}

// Tick runs one agent iteration: queued originations, inbound frames, local
// delivery, and forwarding offers for new and, every RetryInterval, retained
// bundles.
func (a *Agent) Tick() {
	a.drain()

	for _, rec := range a.router.Poll() {
		if a.deliver(rec) {
			continue
		}
		a.offer(rec)
	}

	now := a.clock.Now()
	if fresh := a.router.Contacts(); len(fresh) > 0 {
		for _, nb := range fresh {
			if !slices.Contains(a.contacts, nb) {
				a.contacts = append(a.contacts, nb)
			}
		}
		a.offerContacts(now)
	}

	if a.cfg.RetryInterval > 0 && now.Sub(a.lastRetry) >= a.cfg.RetryInterval {
		a.lastRetry = now
		for _, rec := range a.store.RetryCandidates(now) {
			if !rec.ForwardedTo.Contains(bundle.Broadcast) {
				a.offer(rec)
			}
		}
		a.offerContacts(now)
	}
}

// offerContacts offers every retained bundle to each pending contact that has
// not had it yet. A contact stays pending until all of its offers succeed or
// it drops out of the neighbor cache.
func (a *Agent) offerContacts(now time.Time) {
	pending := a.contacts[:0]
	for _, nb := range a.contacts {
		if !a.store.KnowsNode(nb) {
			continue
		}
		if !a.offerTo(nb, now) {
			pending = append(pending, nb)
		}
	}
	clear(a.contacts[len(pending):])
	a.contacts = pending
}

func (a *Agent) offerTo(neighbor string, now time.Time) bool {
	done := true
	for _, rec := range a.store.RetryCandidates(now) {
		if rec.ForwardedTo.Contains(neighbor) || rec.ReceivedFrom == neighbor || rec.Bundle.Source == neighbor {
			continue
		}
		ok, reason := a.router.OnForwardOpportunity(neighbor, rec)
		if !ok {
			done = false
			a.log.WithFields(logrus.Fields{
				"bundle":   rec.ID(),
				"neighbor": neighbor,
				"reason":   reason,
			}).Debug("forward declined")
		}
	}
	return done
}

func (a *Agent) drain() {
	for {
		select {
		case o := <-a.queue:
			if _, err := a.Originate(o); err != nil {
				a.stats.Rejected++
				a.log.WithError(err).Warn("origination rejected")
			}
		default:
			return
		}
	}
}

func (a *Agent) offer(rec *bundle.Record) {
	ok, reason := a.router.OnForwardOpportunity(bundle.Broadcast, rec)
	if !ok {
		a.log.WithFields(logrus.Fields{
			"bundle": rec.ID(),
			"reason": reason,
		}).Debug("forward declined")
	}
}

// deliver hands rec to a local endpoint if it is addressed to one. A
// delivered bundle leaves the store but stays in the seen-set.
func (a *Agent) deliver(rec *bundle.Record) bool {
	b := rec.Bundle
	a.mu.RLock()
	var (
		endpoint string
		fn       DeliverFunc
	)
	for ep, f := range a.endpoints {
		if b.DestinedFor(a.cfg.EID, ep) {
			endpoint, fn = ep, f
			break
		}
	}
	a.mu.RUnlock()
	if fn == nil {
		return false
	}

	now := a.clock.Now()
	fn(b)
	a.store.Remove(rec.ID())
	a.stats.Delivered++

	a.log.WithFields(logrus.Fields{
		"bundle":   rec.ID(),
		"endpoint": endpoint,
		"latency":  now.Sub(b.CreatedAt()).Round(time.Millisecond),
	}).Info("bundle delivered")
	a.record(journal.Event{At: now, Kind: journal.KindDeliver, BundleID: string(rec.ID()), Neighbor: rec.ReceivedFrom, Size: len(b.Payload)})

	if a.deliveries != nil {
		err := a.deliveries.RecordDelivery(journal.Delivery{
			BundleID:    string(rec.ID()),
			Source:      b.Source,
			Endpoint:    endpoint,
			CreatedAt:   b.CreatedAt(),
			DeliveredAt: now,
			Hops:        int(b.HopCount),
			Payload:     b.Payload,
		})
		if err != nil {
			a.log.WithError(err).Warn("journal delivery failed")
		}
	}
	return true
}

func (a *Agent) record(ev journal.Event) {
	if err := a.sink.Record(ev); err != nil {
		a.log.WithError(err).Warn("journal write failed")
	}
}
