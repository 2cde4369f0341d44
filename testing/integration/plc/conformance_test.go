//go:build integration
// +build integration

package plc_test

import (
	"encoding/binary"
	"testing"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// The conformance tests cross-check our client against an independent
// Modbus implementation: values written by one must read back identically
// through the other.

func newReferenceClient(t *testing.T, cfg testConfig) gomodbus.Client {
	t.Helper()

	handler := gomodbus.NewTCPClientHandler(cfg.addr())
	handler.SlaveId = cfg.UnitID
	handler.Timeout = 5 * time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("reference client connect error = %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return gomodbus.NewClient(handler)
}

func TestConformanceOurWriteTheirRead(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	ours := newTestClient(t, cfg)
	if err := ours.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := scratchValue()
	if err := ours.WriteSingleRegister(ctx, cfg.ScratchAddr, want); err != nil {
		t.Fatalf("WriteSingleRegister() error = %v", err)
	}

	theirs := newReferenceClient(t, cfg)
	raw, err := theirs.ReadHoldingRegisters(cfg.ScratchAddr, 1)
	if err != nil {
		t.Fatalf("reference ReadHoldingRegisters() error = %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("reference returned %d bytes, want 2", len(raw))
	}
	if got := binary.BigEndian.Uint16(raw); got != want {
		t.Errorf("reference read %d, want %d", got, want)
	}
}

func TestConformanceTheirWriteOurRead(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	theirs := newReferenceClient(t, cfg)
	want := scratchValue()
	if _, err := theirs.WriteSingleRegister(cfg.ScratchAddr, want); err != nil {
		t.Fatalf("reference WriteSingleRegister() error = %v", err)
	}

	ours := newTestClient(t, cfg)
	if err := ours.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	got, err := ours.ReadHoldingRegisters(ctx, cfg.ScratchAddr, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Errorf("read %v, want [%d]", got, want)
	}
}

func TestConformanceMultiRegister(t *testing.T) {
	cfg := loadTestConfig()
	skipIfNoPLC(t, cfg)

	ctx, cancel := testContext(t)
	defer cancel()

	ours := newTestClient(t, cfg)
	if err := ours.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	base := scratchValue()
	want := []uint16{base, base ^ 0xFFFF, 0, 0x8000}
	if err := ours.WriteMultipleRegisters(ctx, cfg.ScratchAddr, want); err != nil {
		t.Fatalf("WriteMultipleRegisters() error = %v", err)
	}

	theirs := newReferenceClient(t, cfg)
	raw, err := theirs.ReadHoldingRegisters(cfg.ScratchAddr, uint16(len(want)))
	if err != nil {
		t.Fatalf("reference ReadHoldingRegisters() error = %v", err)
	}
	if len(raw) != len(want)*2 {
		t.Fatalf("reference returned %d bytes, want %d", len(raw), len(want)*2)
	}
	for i, w := range want {
		if got := binary.BigEndian.Uint16(raw[i*2:]); got != w {
			t.Errorf("register %d = %d, want %d", i, got, w)
		}
	}
}
