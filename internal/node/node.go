// Package node is the single control loop of a relay: agent tick, duty-cycle
// check, then housekeeping, in that order, once per iteration.
package node

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/metrics"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lazypower/courier/internal/agent"
	"github.com/lazypower/courier/internal/clock"
	"github.com/lazypower/courier/internal/config"
	"github.com/lazypower/courier/internal/dutycycle"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/radio"
	"github.com/lazypower/courier/internal/router"
	"github.com/lazypower/courier/internal/store"
)

// Journal is where a node records events and deliveries.
type Journal interface {
	journal.Sink
	journal.DeliverySink
}

// Option customizes a Node.
type Option func(*Node)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger sets the node's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Node) { n.log = l }
}

// WithJournal records events and deliveries to j.
func WithJournal(j Journal) Option {
	return func(n *Node) { n.journal = j }
}

// WithRand sets the random source for duty-cycle jitter.
func WithRand(r *rand.Rand) Option {
	return func(n *Node) { n.rng = r }
}

// WithHeapReader replaces the heap-size reader used by the memory ceiling.
func WithHeapReader(fn func() uint64) Option {
	return func(n *Node) { n.heap = fn }
}

type dropCounter interface {
	Dropped() uint64
}

// pruner is a journal with a retention bound.
type pruner interface {
	Prune() (int64, error)
}

// Node wires store, router, agent and scheduler to one radio.
type Node struct {
	cfg     config.Config
	clock   clock.Clock
	log     logrus.FieldLogger
	journal Journal
	rng     *rand.Rand
	heap    func() uint64

	store  *store.Store
	router *router.Router
	agent  *agent.Agent
	sched  *dutycycle.Scheduler
	gate   *radio.Gated
	rx     radio.Poller

	started    time.Time
	iteration  time.Time
	lastStatus time.Time
	lastPurge  time.Time

	mu      sync.RWMutex
	status  Status
	bundles []BundleInfo
}

// New builds a node that transmits through tx and reads frames from rx.
// rx may be nil for a send-only node.
func New(cfg config.Config, tx radio.Adapter, rx radio.Poller, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := router.ParsePolicy(cfg.Node.Policy)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:   cfg,
		clock: clock.System{},
		log:   logrus.StandardLogger(),
		heap:  heapObjects,
		rx:    rx,
	}
	for _, o := range opts {
		o(n)
	}

	n.store, err = store.New(store.Config{
		MaxStoredBundles:  cfg.Storage.MaxStoredBundles,
		MaxKnownBundleIDs: cfg.Storage.MaxKnownBundleIDs,
		MaxKnownNodes:     cfg.Storage.MaxKnownNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	var sink journal.Sink = journal.Discard
	if n.journal != nil {
		sink = n.journal
	}

	n.gate = radio.NewGated(tx)
	routerOpts := []router.Option{
		router.WithAdapters(n.gate),
		router.WithClock(n.clock),
		router.WithSink(sink),
		router.WithLogger(n.log.WithField("component", "router")),
	}
	if rx != nil {
		routerOpts = append(routerOpts, router.WithPollers(rx))
	}
	n.router = router.New(router.Config{
		Local:          cfg.Node.EID,
		Pacing:         cfg.Router.InterSendPacingDelay.D(),
		MaxRetries:     cfg.Router.MaxRetries,
		ContactTimeout: cfg.Router.ContactTimeout.D(),
	}, policy, n.store, agent.Protocol{EID: cfg.Node.EID, MaxPayload: cfg.Storage.MaxPayload}, routerOpts...)

	agentOpts := []agent.Option{
		agent.WithClock(n.clock),
		agent.WithSink(sink),
		agent.WithLogger(n.log.WithField("component", "agent")),
	}
	if n.journal != nil {
		agentOpts = append(agentOpts, agent.WithDeliveries(n.journal))
	}
	n.agent = agent.New(agent.Config{
		EID:             cfg.Node.EID,
		DefaultLifetime: cfg.Agent.DefaultLifetime.D(),
		RetryInterval:   cfg.Agent.RetryInterval.D(),
		QueueSize:       cfg.Agent.QueueSize,
		MaxPayload:      cfg.Storage.MaxPayload,
	}, n.store, n.router, agentOpts...)

	now := n.clock.Now()
	schedOpts := []dutycycle.Option{
		dutycycle.WithOnSend(n.onSend),
		dutycycle.WithLogger(n.log.WithField("component", "dutycycle")),
	}
	if n.rng != nil {
		schedOpts = append(schedOpts, dutycycle.WithRand(n.rng))
	}
	n.sched = dutycycle.New(dutycycle.Config{
		Receive: cfg.DutyCycle.ReceiveDuration.D(),
		Send:    cfg.DutyCycle.SendDuration.D(),
		Jitter:  cfg.DutyCycle.Jitter.D(),
	}, n.gate, now, schedOpts...)

	n.started = now
	n.lastStatus = now
	n.lastPurge = now
	n.publish(now)
	return n, nil
}

// Register routes bundles addressed to endpoint on this node to fn.
func (n *Node) Register(endpoint string, fn agent.DeliverFunc) {
	n.agent.Register(endpoint, fn)
}

// Submit queues an origination. Safe for concurrent use.
func (n *Node) Submit(o agent.Origination) error {
	return n.agent.Submit(o)
}

// Mode returns the current duty-cycle window. Control loop only.
func (n *Node) Mode() dutycycle.Mode { return n.sched.Mode() }

// Store exposes the bundle store. Control loop only.
func (n *Node) Store() *store.Store { return n.store }

// Step runs one iteration. Inbound frames are processed before the duty-cycle
// check, which runs before any scheduled forward, which runs before
// housekeeping. A non-nil error is always a *FatalError.
func (n *Node) Step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = n.fatal(fmt.Errorf("panic in control loop: %v", r))
		}
	}()

	n.iteration = n.clock.Now()
	n.agent.Tick()
	if err := n.checkMemory(); err != nil {
		return err
	}

	if mode, changed := n.sched.Check(n.clock.Now()); changed && mode == dutycycle.RX {
		n.recordMode(dutycycle.RX)
	}

	n.housekeeping(n.clock.Now())
	return nil
}

// Run calls Step until a fatal fault or until ctx is done. The only wait is
// the bounded sleep between iterations.
func (n *Node) Run(ctx context.Context) error {
	n.log.WithFields(logrus.Fields{
		"eid":    n.cfg.Node.EID,
		"policy": n.router.Policy().Name(),
		"rx":     n.cfg.DutyCycle.ReceiveDuration,
		"tx":     n.cfg.DutyCycle.SendDuration,
	}).Info("node started")
	defer n.gate.DisableSending()

	interval := n.cfg.Loop.Interval.D()
	for {
		if err := n.Step(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			n.log.WithField("stored", n.store.Len()).Info("node stopped")
			return nil
		default:
		}
		n.clock.Sleep(interval)
	}
}

// Status returns the last published snapshot. Safe for concurrent use.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Bundles returns the last published list of retained bundles, oldest first.
// Safe for concurrent use.
func (n *Node) Bundles() []BundleInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]BundleInfo, len(n.bundles))
	copy(out, n.bundles)
	return out
}

// onSend runs inside the scheduler's RX->TX transition.
func (n *Node) onSend() {
	n.recordMode(dutycycle.TX)
	if _, ok := n.router.Policy().(router.ScheduledOnly); !ok {
		return
	}
	// bundles admitted in this iteration wait for the next window
	n.router.ScheduledForwardBefore(n.cfg.Node.EID, n.iteration)
}

func (n *Node) housekeeping(now time.Time) {
	if now.Sub(n.lastPurge) >= n.cfg.Loop.PurgeInterval.D() {
		n.lastPurge = now
		n.purge(now)
		n.pruneJournal()
	}
	if now.Sub(n.lastStatus) >= n.cfg.Loop.StatusInterval.D() {
		n.lastStatus = now
		n.publish(now)
		st := n.Status()
		n.log.WithFields(logrus.Fields{
			"stored": st.Store.Stored,
			"known":  st.Store.Known,
			"mode":   st.Mode,
		}).Info("status")
	}
}

func (n *Node) purge(now time.Time) {
	removed := n.store.PurgeExpired(now)
	if len(removed) == 0 {
		return
	}
	for _, id := range removed {
		n.record(journal.Event{At: now, Kind: journal.KindPurge, BundleID: string(id)})
	}
	n.log.WithField("count", len(removed)).Info("purged expired bundles")
}

func (n *Node) pruneJournal() {
	p, ok := n.journal.(pruner)
	if !ok {
		return
	}
	removed, err := p.Prune()
	if err != nil {
		n.log.WithError(err).Warn("journal prune failed")
		return
	}
	if removed > 0 {
		n.log.WithField("count", removed).Debug("pruned journal events")
	}
}

func (n *Node) publish(now time.Time) {
	recs := n.store.Records()
	bundles := make([]BundleInfo, 0, len(recs))
	for _, rec := range recs {
		info := bundleInfo(rec)
		sort.Strings(info.ForwardedTo)
		bundles = append(bundles, info)
	}

	st := Status{
		EID:           n.cfg.Node.EID,
		Policy:        n.router.Policy().Name(),
		Mode:          n.sched.Mode().String(),
		ModeRemaining: n.sched.Remaining(now),
		Cycles:        n.sched.Cycles(),
		Store:         n.store.Stats(),
		Router:        n.router.Stats(),
		Agent:         n.agent.Stats(),
		HeapBytes:     n.heap(),
		Started:       n.started,
		At:            now,
	}
	if dc, ok := n.rx.(dropCounter); ok {
		st.RadioDropped = dc.Dropped()
	}

	n.mu.Lock()
	n.status = st
	n.bundles = bundles
	n.mu.Unlock()
}

func (n *Node) checkMemory() error {
	limit := n.cfg.Loop.MemoryLimit
	if limit == 0 {
		return nil
	}
	if used := n.heap(); used > limit {
		return n.fatal(fmt.Errorf("%w: heap %d bytes over limit %d", ErrResourceExhausted, used, limit))
	}
	return nil
}

func (n *Node) fatal(err error) *FatalError {
	fe := &FatalError{
		Stored: n.store.Len(),
		Known:  n.store.SeenLen(),
		Mode:   n.sched.Mode().String(),
		Err:    err,
	}
	n.log.WithFields(logrus.Fields{
		"stored": fe.Stored,
		"known":  fe.Known,
		"mode":   fe.Mode,
	}).WithError(err).Error("fatal fault, halting")
	return fe
}

func (n *Node) recordMode(m dutycycle.Mode) {
	n.record(journal.Event{At: n.clock.Now(), Kind: journal.KindMode, Detail: m.String()})
}

func (n *Node) record(ev journal.Event) {
	if n.journal == nil {
		return
	}
	if err := n.journal.Record(ev); err != nil {
		n.log.WithError(err).Warn("journal write failed")
	}
}

var heapSample = []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}

var heapMu sync.Mutex

func heapObjects() uint64 {
	heapMu.Lock()
	defer heapMu.Unlock()
	metrics.Read(heapSample)
	if heapSample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return heapSample[0].Value.Uint64()
}
