package radio

import "sync/atomic"

// Queue is a bounded single-producer/single-consumer frame buffer between a
// receive goroutine and the control loop. When full, new frames are dropped.
type Queue struct {
	ch      chan Frame
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most size frames.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Frame, size)}
}

// Push enqueues f without blocking. It reports false if the frame was dropped.
func (q *Queue) Push(f Frame) bool {
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll dequeues one frame without blocking.
func (q *Queue) Poll() (Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return Frame{}, false
	}
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns how many frames were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
