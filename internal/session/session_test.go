package session

import (
	"testing"
	"time"
)

func TestLifecycleStates(t *testing.T) {
	s := New(nil)
	if s.State() != StateStarting {
		t.Errorf("New session state = %v, want StateStarting", s.State())
	}

	s.MarkIdle()
	if s.State() != StateIdle {
		t.Errorf("After MarkIdle state = %v, want StateIdle", s.State())
	}

	if !s.TryLease() {
		t.Fatal("TryLease failed on idle session")
	}
	if s.State() != StateLeased {
		t.Errorf("After TryLease state = %v, want StateLeased", s.State())
	}

	s.MarkIdle()
	s.MarkUnhealthy()
	if s.State() != StateUnhealthy {
		t.Errorf("After MarkUnhealthy state = %v, want StateUnhealthy", s.State())
	}

	s.MarkTerminating()
	if s.State() != StateTerminating {
		t.Errorf("After MarkTerminating state = %v, want StateTerminating", s.State())
	}
}

func TestTryLeaseOnlyFromIdle(t *testing.T) {
	s := New(nil)

	// Starting session is not leasable.
	if s.TryLease() {
		t.Error("TryLease succeeded on a starting session")
	}

	s.MarkIdle()
	if !s.TryLease() {
		t.Fatal("TryLease failed on idle session")
	}

	// No double lease.
	if s.TryLease() {
		t.Error("TryLease succeeded on an already-leased session")
	}

	s.MarkUnhealthy()
	if s.TryLease() {
		t.Error("TryLease succeeded on an unhealthy session")
	}
}

func TestUseCountIncrementsPerLease(t *testing.T) {
	s := New(nil)
	s.MarkIdle()

	for i := 1; i <= 3; i++ {
		if !s.TryLease() {
			t.Fatalf("TryLease %d failed", i)
		}
		if s.UseCount() != int64(i) {
			t.Errorf("UseCount after lease %d = %d", i, s.UseCount())
		}
		s.MarkIdle()
	}
}

func TestExpired(t *testing.T) {
	s := New(nil)
	s.MarkIdle()

	if s.Expired(time.Hour, 100) {
		t.Error("Fresh session reported expired")
	}

	// Use ceiling.
	s.TryLease()
	if !s.Expired(time.Hour, 1) {
		t.Error("Session at its use ceiling not expired")
	}

	// Age ceiling.
	time.Sleep(2 * time.Millisecond)
	if !s.Expired(time.Millisecond, 100) {
		t.Error("Session past its age ceiling not expired")
	}

	// Zero ceilings disable the checks.
	if s.Expired(0, 0) {
		t.Error("Zero ceilings should never expire a session")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStarting:    "starting",
		StateIdle:        "idle",
		StateLeased:      "leased",
		StateUnhealthy:   "unhealthy",
		StateTerminating: "terminating",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
