// Package lease damps feedback loops between clients that republish the same
// shared fields. After a client transmits a field it holds a short lease on
// it, and remote updates to that field are ignored until the lease runs out.
package lease

import (
	"sync"
	"time"
)

// DefaultWindow is how long a transmission shields a field from remote updates.
const DefaultWindow = time.Second

// State of a single lease.
type State uint8

const (
	Idle State = iota
	Leased
)

func (s State) String() string {
	if s == Leased {
		return "leased"
	}
	return "idle"
}

// Lease is a time-boxed claim: Idle -> Leased(until) -> Idle.
type Lease struct {
	mu     sync.Mutex
	window time.Duration
	until  time.Time
	state  State
	now    func() time.Time
}

// New returns an idle lease. A nil clock means time.Now.
func New(window time.Duration, now func() time.Time) *Lease {
	if now == nil {
		now = time.Now
	}
	return &Lease{window: window, now: now}
}

// Acquire starts (or extends) the lease and returns its expiry.
func (l *Lease) Acquire() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.until = l.now().Add(l.window)
	l.state = Leased
	return l.until
}

// Release drops the lease early.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = Idle
	l.until = time.Time{}
}

// State reports the current state, expiring the lease if its window passed.
func (l *Lease) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Leased && !l.now().Before(l.until) {
		l.state = Idle
		l.until = time.Time{}
	}
	return l.state
}

// Held reports whether the lease is active.
func (l *Lease) Held() bool {
	return l.State() == Leased
}

// Until returns the expiry of an active lease.
func (l *Lease) Until() (time.Time, bool) {
	if !l.Held() {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until, true
}
