// Package radio defines the boundary between the router and the transceivers
// that carry bundle frames, plus the adapters courier ships with.
package radio

// Frame is one received unit of data. From is the neighbor address reported
// by the transceiver; it is empty for media that carry no link address.
type Frame struct {
	Data []byte
	From string
}

// Adapter transmits frames. Send reports whether the frame went out; it never
// returns an error and never panics on transmission failure.
type Adapter interface {
	Send(data []byte) bool
}

// Poller is a pull-style adapter: the control loop asks it for frames.
type Poller interface {
	Poll() (Frame, bool)
}

// Receiver is a push-style adapter: it invokes a callback per inbound frame,
// possibly from its own goroutine.
type Receiver interface {
	OnFrame(fn func(Frame))
}

// Attach registers q as the frame callback of a push-style receiver so that
// frames are only ever consumed from the control loop through q.Poll.
func Attach(r Receiver, q *Queue) {
	r.OnFrame(func(f Frame) { q.Push(f) })
}
