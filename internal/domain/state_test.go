package domain_test

import (
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
)

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state domain.ConnState
		want  string
	}{
		{domain.StateDisconnected, "disconnected"},
		{domain.StateConnecting, "connecting"},
		{domain.StateConnected, "connected"},
		{domain.StateDegraded, "degraded"},
		{domain.StateReconnecting, "reconnecting"},
		{domain.ConnState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnStateMarshalText(t *testing.T) {
	data, err := domain.StateDegraded.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(data) != "degraded" {
		t.Errorf("MarshalText() = %q, want %q", data, "degraded")
	}
}
