package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, room string, buf int) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, buf),
		room: room,
	}
}

func receive(t *testing.T, ch <-chan []byte) ([]byte, bool) {
	t.Helper()
	select {
	case data, ok := <-ch:
		return data, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil, false
	}
}

func TestHub_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	t.Run("Rooms are isolated", func(t *testing.T) {
		a := newTestClient(hub, "room-a", 8)
		b := newTestClient(hub, "room-b", 8)
		require.True(t, hub.join(a))
		require.True(t, hub.join(b))

		hub.Deliver(ctx, "room-a", []byte("hello"))

		data, ok := receive(t, a.send)
		require.True(t, ok)
		assert.Equal(t, "hello", string(data))

		select {
		case data := <-b.send:
			t.Fatalf("room-b received %q", data)
		case <-time.After(50 * time.Millisecond):
		}

		hub.leave(a)
		hub.leave(b)
	})

	t.Run("Leave closes send", func(t *testing.T) {
		c := newTestClient(hub, "room-a", 8)
		require.True(t, hub.join(c))
		hub.leave(c)

		_, ok := receive(t, c.send)
		assert.False(t, ok)
	})

	t.Run("Slow consumer is dropped", func(t *testing.T) {
		c := newTestClient(hub, "room-slow", 1)
		require.True(t, hub.join(c))

		hub.Deliver(ctx, "room-slow", []byte("1"))
		hub.Deliver(ctx, "room-slow", []byte("2"))
		// the hub is single threaded: once "3" is taken, "2" has been handled
		hub.Deliver(ctx, "room-slow", []byte("3"))
		require.Len(t, c.send, 1)

		data, ok := receive(t, c.send)
		require.True(t, ok)
		assert.Equal(t, "1", string(data))

		_, ok = receive(t, c.send)
		assert.False(t, ok)
	})
}

func TestHub_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	c := newTestClient(hub, "room", 1)
	require.True(t, hub.join(c))
	cancel()

	_, ok := receive(t, c.send)
	assert.False(t, ok)

	<-stopped
	assert.False(t, hub.join(newTestClient(hub, "room", 1)))

	// must not block once the hub is gone
	hub.leave(c)
	hub.Deliver(context.Background(), "room", []byte("late"))
}
