package hwsock_test

import (
	"errors"
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/hwsock"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status hwsock.Status
		want   string
	}{
		{hwsock.StatusClosed, "closed"},
		{hwsock.StatusInit, "init"},
		{hwsock.StatusListen, "listen"},
		{hwsock.StatusEstablished, "established"},
		{hwsock.StatusCloseWait, "close_wait"},
		{hwsock.StatusUDP, "udp"},
		{hwsock.Status(0x99), "status(0x99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTransportUnknownDriver(t *testing.T) {
	_, err := hwsock.NewTransport("no-such-chip", hwsock.NetworkConfig{})
	if !errors.Is(err, domain.ErrUnknownTransport) {
		t.Errorf("NewTransport() error = %v, want ErrUnknownTransport", err)
	}
}

func TestRegisterDriver(t *testing.T) {
	called := false
	hwsock.RegisterDriver("test-chip", func(cfg hwsock.NetworkConfig) (hwsock.Transport, error) {
		called = true
		return nil, nil
	})

	if _, err := hwsock.NewTransport("test-chip", hwsock.NetworkConfig{}); err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if !called {
		t.Error("factory was not invoked")
	}

	found := false
	for _, name := range hwsock.Drivers() {
		if name == "test-chip" {
			found = true
		}
	}
	if !found {
		t.Error("Drivers() does not list registered driver")
	}
}
