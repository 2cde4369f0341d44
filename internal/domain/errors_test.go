package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
)

func TestModbusExceptionError(t *testing.T) {
	tests := []struct {
		name string
		code byte
		want string
	}{
		{name: "illegal function", code: 0x01, want: "illegal function"},
		{name: "illegal data address", code: 0x02, want: "illegal data address"},
		{name: "slave device busy", code: 0x06, want: "slave device busy"},
		{name: "vendor specific", code: 0x42, want: "unknown exception"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &domain.ModbusException{Code: tt.code}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Error() = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestAsModbusException(t *testing.T) {
	base := &domain.ModbusException{Code: 0x02}
	wrapped := fmt.Errorf("read holding registers: %w", base)

	got, ok := domain.AsModbusException(wrapped)
	if !ok {
		t.Fatal("AsModbusException() = false, want true")
	}
	if got.Code != 0x02 {
		t.Errorf("Code = 0x%02X, want 0x02", got.Code)
	}

	if _, ok := domain.AsModbusException(domain.ErrCommunicationLost); ok {
		t.Error("AsModbusException(ErrCommunicationLost) = true, want false")
	}
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("socket status 0x00: %w", domain.ErrCommunicationLost)
	if !errors.Is(err, domain.ErrCommunicationLost) {
		t.Error("wrapped error does not match ErrCommunicationLost")
	}
	if errors.Is(err, domain.ErrConnectTimeout) {
		t.Error("wrapped error unexpectedly matches ErrConnectTimeout")
	}
}
