package radio

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// UDP treats a UDP socket as a broadcast radio: every Send goes to all
// configured peers (typically a broadcast address), and every datagram that
// arrives is handed to the registered callback from a reader goroutine.
type UDP struct {
	conn  *net.UDPConn
	peers []*net.UDPAddr
	mtu   int
	log   logrus.FieldLogger

	mu      sync.Mutex
	handler func(Frame)

	start sync.Once
	done  chan struct{}
}

// ListenUDP binds a UDP socket on bind. Reading starts with the first
// OnFrame; until then datagrams wait in the socket buffer. Frames larger
// than mtu are refused by Send, as a real radio would.
func ListenUDP(bind string, peers []string, mtu int, log logrus.FieldLogger) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("resolve bind %q: %w", bind, err)
	}

	u := &UDP{mtu: mtu, log: log, done: make(chan struct{})}
	for _, p := range peers {
		paddr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return nil, fmt.Errorf("resolve peer %q: %w", p, err)
		}
		u.peers = append(u.peers, paddr)
	}

	u.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", bind, err)
	}
	return u, nil
}

// OnFrame registers the callback invoked for every received datagram and
// starts the reader on first use.
func (u *UDP) OnFrame(fn func(Frame)) {
	u.mu.Lock()
	u.handler = fn
	u.mu.Unlock()
	u.start.Do(func() { go u.readLoop() })
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

// Send writes data to every peer. It reports true if at least one write
// succeeded.
func (u *UDP) Send(data []byte) bool {
	if u.mtu > 0 && len(data) > u.mtu {
		u.log.WithField("size", len(data)).Warn("frame exceeds mtu, not sent")
		return false
	}

	sent := false
	for _, p := range u.peers {
		if _, err := u.conn.WriteToUDP(data, p); err != nil {
			u.log.WithError(err).WithField("peer", p.String()).Warn("udp send failed")
			continue
		}
		sent = true
	}
	return sent
}

// Close stops the reader and releases the socket.
func (u *UDP) Close() error {
	err := u.conn.Close()
	// no reader was ever started
	u.start.Do(func() { close(u.done) })
	<-u.done
	return err
}

func (u *UDP) readLoop() {
	defer close(u.done)

	local := u.conn.LocalAddr().(*net.UDPAddr)
	buf := make([]byte, 64<<10)
	for {
		n, raddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				u.log.WithError(err).Warn("udp read failed, receiver stopped")
			}
			return
		}
		// our own broadcast echoing back
		if raddr.Port == local.Port && raddr.IP.IsLoopback() {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		u.mu.Lock()
		fn := u.handler
		u.mu.Unlock()
		if fn != nil {
			fn(Frame{Data: data})
		}
	}
}
