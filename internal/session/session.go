// Package session provides browser session lifecycle management. A session
// wraps one live CDP connection to a headless Chromium instance and tracks
// the state the pool needs to decide whether it can be leased again.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State int32

// Session lifecycle states. Only Idle sessions may be leased; Unhealthy and
// Terminating sessions are never handed out again.
const (
	StateStarting State = iota
	StateIdle
	StateLeased
	StateUnhealthy
	StateTerminating
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	case StateUnhealthy:
		return "unhealthy"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Session wraps one live browser connection. It is owned exclusively by the
// pool; a lease grants temporary access to exactly one caller at a time.
type Session struct {
	ID        uuid.UUID
	Browser   *rod.Browser
	CreatedAt time.Time

	state    atomic.Int32
	lastUsed atomic.Int64 // Unix nano timestamp for lock-free access
	useCount atomic.Int64

	// Guards transitions that must be exclusive (lease/release races).
	mu sync.Mutex
}

// New creates a session record in the Starting state. The browser handle may
// be nil until the factory finishes the spawn.
func New(browser *rod.Browser) *Session {
	s := &Session{
		ID:        uuid.New(),
		Browser:   browser,
		CreatedAt: time.Now(),
	}
	s.state.Store(int32(StateStarting))
	s.lastUsed.Store(time.Now().UnixNano())
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// setState records a state transition.
func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// MarkIdle transitions the session to Idle. Used by the factory once the
// control connection is confirmed and by the pool after a healthy release.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateTerminating {
		s.setState(StateIdle)
	}
}

// TryLease transitions Idle -> Leased. It fails if the session is in any
// other state, which is what guarantees no two leases are ever outstanding
// for the same session.
func (s *Session) TryLease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateIdle {
		return false
	}
	s.setState(StateLeased)
	s.useCount.Add(1)
	s.lastUsed.Store(time.Now().UnixNano())
	return true
}

// MarkUnhealthy flags the session so it is never leased again.
func (s *Session) MarkUnhealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateTerminating {
		s.setState(StateUnhealthy)
	}
}

// MarkTerminating flags the session for destruction. Idempotent.
func (s *Session) MarkTerminating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setState(StateTerminating)
}

// UseCount returns how many leases this session has served.
func (s *Session) UseCount() int64 {
	return s.useCount.Load()
}

// LastUsed returns the time of the most recent lease.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Expired reports whether the session has exceeded its age or use ceiling
// and should be recycled instead of returned to the idle set.
func (s *Session) Expired(maxAge time.Duration, maxUses int) bool {
	if maxAge > 0 && s.Age() > maxAge {
		return true
	}
	if maxUses > 0 && s.UseCount() >= int64(maxUses) {
		return true
	}
	return false
}
