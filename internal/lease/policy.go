package lease

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signature marks the origin of a message.
type Signature string

// Signatures are the two tokens a client holds for a session. Own is attached
// to everything the client transmits. Alien never leaves the client; it marks
// locally built values as not authored here.
type Signatures struct {
	Own   Signature
	Alien Signature
}

// NewSignatures draws a fresh pair.
func NewSignatures() Signatures {
	return Signatures{
		Own:   Signature(uuid.NewString()),
		Alien: Signature(uuid.NewString()),
	}
}

// IsOwn reports whether origin is this client's own signature.
func (s Signatures) IsOwn(origin Signature) bool {
	return origin != "" && origin == s.Own
}

// Field names a continuously republished shared value.
type Field string

const (
	FieldPlayback Field = "playback"
	FieldCurrent  Field = "current"
)

// Policy keeps one lease per field and decides whether an incoming update
// may overwrite local state.
type Policy struct {
	mu     sync.Mutex
	sigs   Signatures
	window time.Duration
	now    func() time.Time
	leases map[Field]*Lease
}

func NewPolicy(sigs Signatures, window time.Duration, now func() time.Time) *Policy {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{
		sigs:   sigs,
		window: window,
		now:    now,
		leases: make(map[Field]*Lease),
	}
}

func (p *Policy) lease(f Field) *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.leases[f]
	if !ok {
		l = New(p.window, p.now)
		p.leases[f] = l
	}
	return l
}

// Transmitted records that the client just broadcast f.
func (p *Policy) Transmitted(f Field) time.Time {
	return p.lease(f).Acquire()
}

// Accept reports whether an update to f from origin should be applied.
// Echoes of our own transmissions are always dropped; anything else is
// dropped only while we hold the lease on f. Outside the lease the latest
// remote update wins.
func (p *Policy) Accept(f Field, origin Signature) bool {
	if p.sigs.IsOwn(origin) {
		return false
	}
	return !p.lease(f).Held()
}

// State exposes the lease state of f.
func (p *Policy) State(f Field) State {
	return p.lease(f).State()
}

// Until returns the expiry of the lease on f while it is held.
func (p *Policy) Until(f Field) (time.Time, bool) {
	return p.lease(f).Until()
}

// Reset releases every lease, so the next remote update to any field is
// accepted.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.leases {
		l.Release()
	}
}
