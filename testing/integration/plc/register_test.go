//go:build integration
// +build integration

package plc_test

import (
	"errors"
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
)

func TestWriteReadSingleRegister(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := scratchValue()
	if err := client.WriteSingleRegister(ctx, cfg.ScratchAddr, want); err != nil {
		t.Fatalf("WriteSingleRegister() error = %v", err)
	}

	got, err := client.ReadHoldingRegisters(ctx, cfg.ScratchAddr, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Errorf("read back %v, want [%d]", got, want)
	}
}

func TestWriteReadMultipleRegisters(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	base := scratchValue()
	want := []uint16{base, base + 1, base + 2, base + 3}
	if err := client.WriteMultipleRegisters(ctx, cfg.ScratchAddr, want); err != nil {
		t.Fatalf("WriteMultipleRegisters() error = %v", err)
	}

	got, err := client.ReadHoldingRegisters(ctx, cfg.ScratchAddr, uint16(len(want)))
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("register %d = %d, want %d", int(cfg.ScratchAddr)+i, got[i], want[i])
		}
	}
}

func TestReadInputRegisters(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	got, err := client.ReadInputRegisters(ctx, 0, 4)
	if err != nil {
		t.Fatalf("ReadInputRegisters() error = %v", err)
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4", len(got))
	}
}

func TestReadMaxQuantity(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	got, err := client.ReadHoldingRegisters(ctx, 0, 125)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters(0, 125) error = %v", err)
	}
	if len(got) != 125 {
		t.Errorf("len = %d, want 125", len(got))
	}
}

func TestRangeRejectedLocally(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	before := client.Stats().Requests

	// Oversized ranges never reach the wire.
	if _, err := client.ReadHoldingRegisters(ctx, 0, 126); !errors.Is(err, domain.ErrInvalidRegisterRange) {
		t.Errorf("ReadHoldingRegisters(0, 126) error = %v, want ErrInvalidRegisterRange", err)
	}
	if client.Stats().Requests != before {
		t.Error("invalid range consumed a wire request")
	}
}

func TestSequentialTransactions(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	client := newTestClient(t, cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, err := client.ReadHoldingRegisters(ctx, cfg.ScratchAddr, 2); err != nil {
			t.Fatalf("read %d error = %v", i, err)
		}
	}
	if stats := client.Stats(); stats.Errors != 0 {
		t.Errorf("Stats().Errors = %d after sequential reads, want 0", stats.Errors)
	}
}
