package domain

import "fmt"

// Protocol ceilings for register operations. A read response carries a one-byte
// count of data bytes, capping reads at 125 registers; a multi-write request
// additionally carries the start/count/byte-count header, capping writes at 123.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

// RegisterRange is a contiguous span of 16-bit registers in a single Modbus
// address space.
type RegisterRange struct {
	Start uint16
	Count uint16
}

// End returns the address of the last register in the range.
func (r RegisterRange) End() uint16 {
	return r.Start + r.Count - 1
}

// ValidateRead checks the range against the read-request limits.
func (r RegisterRange) ValidateRead() error {
	return r.validate(MaxReadRegisters)
}

// ValidateWrite checks the range against the multi-write limits.
func (r RegisterRange) ValidateWrite() error {
	return r.validate(MaxWriteRegisters)
}

func (r RegisterRange) validate(max uint16) error {
	if r.Count == 0 {
		return fmt.Errorf("%w: count must be at least 1", ErrInvalidRegisterRange)
	}
	if r.Count > max {
		return fmt.Errorf("%w: count %d exceeds limit %d", ErrInvalidRegisterRange, r.Count, max)
	}
	if uint32(r.Start)+uint32(r.Count)-1 > 0xFFFF {
		return fmt.Errorf("%w: range %d..%d exceeds address space", ErrInvalidRegisterRange, r.Start, uint32(r.Start)+uint32(r.Count)-1)
	}
	return nil
}
