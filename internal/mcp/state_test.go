package mcp

import "testing"

func TestConnectionState_Classification(t *testing.T) {
	all := []ConnectionState{Disconnected, Connecting, Connected, Initializing, Ready, Errored}
	for _, s := range all {
		if s.IsStable() == s.IsTransitional() {
			t.Fatalf("state %s must be exactly one of stable/transitional", s)
		}
		if s.CanPerformOperations() && !s.HasSocket() {
			t.Fatalf("state %s can perform operations but has no socket", s)
		}
	}

	if !Ready.IsStable() || Ready.IsTransitional() {
		t.Fatalf("READY must be stable")
	}
	if !Ready.CanPerformOperations() {
		t.Fatalf("READY must allow operations")
	}
	for _, s := range all {
		if s != Ready && s.CanPerformOperations() {
			t.Fatalf("only READY may perform operations, got %s", s)
		}
	}
}

func TestConnectionState_TransitionalStates(t *testing.T) {
	for _, s := range []ConnectionState{Connecting, Initializing} {
		if !s.IsTransitional() {
			t.Fatalf("expected %s to be transitional", s)
		}
	}
}
