package radio

import "sync"

// Medium is an in-memory shared channel. A frame sent on one Port is queued on
// every other Port, tagged with the sender's address. Ports that are detached
// neither send nor receive, which models a node moving out of range.
type Medium struct {
	mu    sync.Mutex
	ports []*Port
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{}
}

// Join attaches a new port with the given address and receive queue size.
func (m *Medium) Join(addr string, queueSize int) *Port {
	p := &Port{medium: m, addr: addr, queue: NewQueue(queueSize), attached: true}
	m.mu.Lock()
	m.ports = append(m.ports, p)
	m.mu.Unlock()
	return p
}

func (m *Medium) broadcast(from *Port, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.attached {
		return false
	}
	for _, p := range m.ports {
		if p == from || !p.attached {
			continue
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		p.queue.Push(Frame{Data: frame, From: from.addr})
	}
	return true
}

// Port is one node's attachment to a Medium. It is a pull-style adapter.
type Port struct {
	medium   *Medium
	addr     string
	queue    *Queue
	attached bool
	sent     int
}

// Send broadcasts data to every other attached port.
func (p *Port) Send(data []byte) bool {
	ok := p.medium.broadcast(p, data)
	if ok {
		p.medium.mu.Lock()
		p.sent++
		p.medium.mu.Unlock()
	}
	return ok
}

// Poll returns the next frame received on this port.
func (p *Port) Poll() (Frame, bool) {
	return p.queue.Poll()
}

// Detach takes the port out of range.
func (p *Port) Detach() { p.setAttached(false) }

// Reattach brings the port back into range.
func (p *Port) Reattach() { p.setAttached(true) }

func (p *Port) setAttached(v bool) {
	p.medium.mu.Lock()
	p.attached = v
	p.medium.mu.Unlock()
}

// Sent returns how many frames this port has transmitted.
func (p *Port) Sent() int {
	p.medium.mu.Lock()
	defer p.medium.mu.Unlock()
	return p.sent
}

// Queue exposes the port's receive queue.
func (p *Port) Queue() *Queue { return p.queue }
