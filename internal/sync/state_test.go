package sync

import "testing"

func TestPeerSession_HappyPathTransitions(t *testing.T) {
	s := NewPeerSession("n1")
	steps := []State{StateConnecting, StateHandshaking, StateReady, StateSyncing, StateReady, StateDisconnected}
	for _, next := range steps {
		if err := s.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}

func TestPeerSession_FailureAndBackoffPath(t *testing.T) {
	s := NewPeerSession("n1")
	steps := []State{StateConnecting, StateFailed, StateBackoff, StateDisconnected}
	for _, next := range steps {
		if err := s.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}

func TestPeerSession_RejectsIllegalTransition(t *testing.T) {
	s := NewPeerSession("n1")
	if err := s.Transition(StateReady); err == nil {
		t.Fatal("expected disconnected -> ready to be rejected")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("failed transition must not move state, got %s", s.State())
	}
}

func TestPeerSession_RejectsSkippingHandshake(t *testing.T) {
	s := NewPeerSession("n1")
	if err := s.Transition(StateConnecting); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(StateReady); err == nil {
		t.Fatal("expected connecting -> ready (skipping handshaking) to be rejected")
	}
}
