// Package dutycycle alternates a half-duplex node between a receive window
// and a send window, and keeps the radio's transmit gate closed whenever the
// node is listening.
package dutycycle

import (
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode is the current window.
type Mode int

const (
	RX Mode = iota
	TX
)

func (m Mode) String() string {
	if m == TX {
		return "TX"
	}
	return "RX"
}

// Gate is the transmit switch of a radio adapter.
type Gate interface {
	EnableSending()
	DisableSending()
}

// Config sets the window lengths. With a non-zero Jitter each new window is
// drawn uniformly from [base-Jitter, base+Jitter].
type Config struct {
	Receive time.Duration
	Send    time.Duration
	Jitter  time.Duration
}

const minWindow = time.Millisecond

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithOnSend registers fn to run each time the scheduler enters TX, after the
// gate has been opened.
func WithOnSend(fn func()) Option {
	return func(s *Scheduler) { s.onSend = fn }
}

// WithRand sets the source used for jitter.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// WithLogger sets the logger used for mode switches.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler is the RX/TX state machine. It is driven by Check from the control
// loop and holds no goroutines or timers of its own.
type Scheduler struct {
	cfg  Config
	gate Gate

	mode       Mode
	lastSwitch time.Time
	window     time.Duration
	cycles     int

	rng    *rand.Rand
	onSend func()
	log    logrus.FieldLogger
}

// New creates a scheduler in RX with the gate closed. Listening first avoids
// keying up over a neighbor that is already mid-transmission at cold start.
func New(cfg Config, gate Gate, now time.Time, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		gate:       gate,
		mode:       RX,
		lastSwitch: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}

	if s.gate != nil {
		s.gate.DisableSending()
	}
	s.window = s.draw(cfg.Receive)
	return s
}

// Mode returns the current window.
func (s *Scheduler) Mode() Mode { return s.mode }

// Transmitting reports whether the send window is open.
func (s *Scheduler) Transmitting() bool { return s.mode == TX }

// Cycles returns how many RX->TX transitions have happened.
func (s *Scheduler) Cycles() int { return s.cycles }

// Remaining returns the time left in the current window at now.
func (s *Scheduler) Remaining(now time.Time) time.Duration {
	left := s.window - now.Sub(s.lastSwitch)
	if left < 0 {
		return 0
	}
	return left
}

// Check advances the state machine to now. It makes at most one transition
// per call and reports the resulting mode and whether it changed.
func (s *Scheduler) Check(now time.Time) (Mode, bool) {
	if now.Sub(s.lastSwitch) < s.window {
		return s.mode, false
	}

	switch s.mode {
	case RX:
		s.mode = TX
		if s.gate != nil {
			s.gate.EnableSending()
		}
		s.lastSwitch = now
		s.window = s.draw(s.cfg.Send)
		s.cycles++
		s.log.WithField("window", s.window).Info("mode switch: TX (forwarding)")
		if s.onSend != nil {
			s.onSend()
		}
	case TX:
		if s.gate != nil {
			s.gate.DisableSending()
		}
		s.mode = RX
		s.lastSwitch = now
		s.window = s.draw(s.cfg.Receive)
		s.log.WithField("window", s.window).Info("mode switch: RX (listening)")
	}
	return s.mode, true
}

func (s *Scheduler) draw(base time.Duration) time.Duration {
	d := base
	if s.cfg.Jitter > 0 {
		d += time.Duration(s.rng.Int63n(int64(2*s.cfg.Jitter)+1)) - s.cfg.Jitter
	}
	if d < minWindow {
		d = minWindow
	}
	return d
}
