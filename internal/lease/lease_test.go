package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLease_StateMachine(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Second, clock.Now)

	assert.Equal(t, Idle, l.State())

	until := l.Acquire()
	assert.Equal(t, clock.Now().Add(time.Second), until)
	assert.Equal(t, Leased, l.State())

	clock.Advance(999 * time.Millisecond)
	assert.True(t, l.Held())
	got, ok := l.Until()
	require.True(t, ok)
	assert.Equal(t, until, got)

	clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, l.State())
	_, ok = l.Until()
	assert.False(t, ok)
}

func TestLease_AcquireExtends(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Second, clock.Now)

	l.Acquire()
	clock.Advance(800 * time.Millisecond)
	l.Acquire()
	clock.Advance(800 * time.Millisecond)
	assert.True(t, l.Held())
}

func TestLease_Release(t *testing.T) {
	l := New(time.Hour, nil)
	l.Acquire()
	l.Release()
	assert.Equal(t, Idle, l.State())
}

func TestPolicy_Accept(t *testing.T) {
	clock := newFakeClock()
	sigs := NewSignatures()
	require.NotEqual(t, sigs.Own, sigs.Alien)

	p := NewPolicy(sigs, time.Second, clock.Now)
	remote := Signature("someone-else")

	t.Run("idle accepts remote", func(t *testing.T) {
		assert.True(t, p.Accept(FieldPlayback, remote))
		assert.True(t, p.Accept(FieldPlayback, sigs.Alien))
	})

	t.Run("own echo is dropped", func(t *testing.T) {
		assert.False(t, p.Accept(FieldPlayback, sigs.Own))
	})

	t.Run("lease blocks the same field only", func(t *testing.T) {
		p.Transmitted(FieldPlayback)
		assert.Equal(t, Leased, p.State(FieldPlayback))
		assert.False(t, p.Accept(FieldPlayback, remote))
		assert.True(t, p.Accept(FieldCurrent, remote))
	})

	t.Run("expired lease accepts again", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.Equal(t, Idle, p.State(FieldPlayback))
		assert.True(t, p.Accept(FieldPlayback, remote))
	})
}

func TestPolicy_DefaultWindow(t *testing.T) {
	clock := newFakeClock()
	p := NewPolicy(NewSignatures(), 0, clock.Now)
	p.Transmitted(FieldCurrent)

	clock.Advance(DefaultWindow - time.Millisecond)
	assert.False(t, p.Accept(FieldCurrent, "remote"))
	clock.Advance(time.Millisecond)
	assert.True(t, p.Accept(FieldCurrent, "remote"))
}

func TestSignatures_IsOwn(t *testing.T) {
	sigs := NewSignatures()
	assert.True(t, sigs.IsOwn(sigs.Own))
	assert.False(t, sigs.IsOwn(sigs.Alien))
	assert.False(t, sigs.IsOwn(""))
}

func TestPolicy_Reset(t *testing.T) {
	clock := newFakeClock()
	p := NewPolicy(NewSignatures(), time.Second, clock.Now)

	until := p.Transmitted(FieldPlayback)
	p.Transmitted(FieldCurrent)
	got, ok := p.Until(FieldPlayback)
	require.True(t, ok)
	assert.Equal(t, until, got)

	p.Reset()
	assert.Equal(t, Idle, p.State(FieldPlayback))
	assert.Equal(t, Idle, p.State(FieldCurrent))
	assert.True(t, p.Accept(FieldCurrent, "remote"))
	_, ok = p.Until(FieldPlayback)
	assert.False(t, ok)
}
