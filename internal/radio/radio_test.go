package radio

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	assert.True(t, q.Push(Frame{Data: []byte("a")}))
	assert.True(t, q.Push(Frame{Data: []byte("b")}))
	assert.False(t, q.Push(Frame{Data: []byte("c")}))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	f, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", string(f.Data))
	f, ok = q.Poll()
	require.True(t, ok)
	assert.Equal(t, "b", string(f.Data))
	_, ok = q.Poll()
	assert.False(t, ok)
}

func TestQueueSingleProducerSingleConsumer(t *testing.T) {
	q := NewQueue(8)
	const total = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(Frame{Data: []byte{byte(i)}})
		}
	}()

	received := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := q.Poll(); ok {
			received++
			continue
		}
		if uint64(received)+q.Dropped() == total {
			break
		}
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
	for {
		if _, ok := q.Poll(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, uint64(total), uint64(received)+q.Dropped())
}

func TestGatedStartsClosed(t *testing.T) {
	inner := &MockAdapter{Result: true}
	g := NewGated(inner)

	assert.False(t, g.Enabled())
	assert.False(t, g.Send([]byte("x")))
	assert.Equal(t, 0, inner.Calls())

	g.EnableSending()
	assert.True(t, g.Send([]byte("x")))
	assert.Equal(t, 1, inner.Calls())

	g.DisableSending()
	assert.False(t, g.Send([]byte("x")))
	assert.Equal(t, 1, inner.Calls())
}

func TestMediumBroadcast(t *testing.T) {
	m := NewMedium()
	a := m.Join("ipn://1", 4)
	b := m.Join("ipn://2", 4)
	c := m.Join("ipn://3", 4)

	require.True(t, a.Send([]byte("hello")))

	for _, p := range []*Port{b, c} {
		f, ok := p.Poll()
		require.True(t, ok)
		assert.Equal(t, "hello", string(f.Data))
		assert.Equal(t, "ipn://1", f.From)
	}
	_, ok := a.Poll()
	assert.False(t, ok, "sender must not hear itself")
	assert.Equal(t, 1, a.Sent())
}

func TestMediumDetach(t *testing.T) {
	m := NewMedium()
	a := m.Join("ipn://1", 4)
	b := m.Join("ipn://2", 4)

	b.Detach()
	a.Send([]byte("lost"))
	_, ok := b.Poll()
	assert.False(t, ok)
	assert.False(t, b.Send([]byte("x")), "detached port cannot transmit")

	b.Reattach()
	a.Send([]byte("found"))
	f, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, "found", string(f.Data))
}

func TestUDPExchange(t *testing.T) {
	rx, err := ListenUDP("127.0.0.1:0", nil, 0, quietLogger())
	require.NoError(t, err)
	defer rx.Close()

	q := NewQueue(4)
	Attach(rx, q)

	tx, err := ListenUDP("127.0.0.1:0", []string{rx.LocalAddr()}, 64, quietLogger())
	require.NoError(t, err)
	defer tx.Close()

	assert.False(t, tx.Send(make([]byte, 65)), "oversized frame must be refused")
	require.True(t, tx.Send([]byte("bundle")))

	var f Frame
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = q.Poll()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "bundle", string(f.Data))
}

func TestUDPKeepsFramesSentBeforeAttach(t *testing.T) {
	rx, err := ListenUDP("127.0.0.1:0", nil, 0, quietLogger())
	require.NoError(t, err)
	defer rx.Close()

	tx, err := ListenUDP("127.0.0.1:0", []string{rx.LocalAddr()}, 0, quietLogger())
	require.NoError(t, err)
	defer tx.Close()
	require.True(t, tx.Send([]byte("early")))

	q := NewQueue(4)
	Attach(rx, q)

	var f Frame
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = q.Poll()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "early", string(f.Data))
}

func TestUDPCloseWithoutReader(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", nil, 0, quietLogger())
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- u.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked with no reader running")
	}
}
