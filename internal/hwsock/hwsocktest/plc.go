package hwsocktest

import (
	"encoding/binary"
	"sync"
)

// DefaultBankSize is the register bank size a new PLC allocates per table.
const DefaultBankSize = 1024

// PLC emulates the Modbus TCP server side of a programmable controller:
// two register banks and the four function codes this system speaks. Fault
// injection hooks let tests produce exceptions, dropped responses, and
// stale transaction identifiers.
type PLC struct {
	mu sync.Mutex

	unitID  byte
	holding []uint16
	input   []uint16

	exceptions map[byte]byte
	dropNext   int
	staleTxn   uint16
	staleArmed bool

	requests int
}

// NewPLC creates a PLC answering for unitID with DefaultBankSize registers
// in each bank.
func NewPLC(unitID byte) *PLC {
	return &PLC{
		unitID:     unitID,
		holding:    make([]uint16, DefaultBankSize),
		input:      make([]uint16, DefaultBankSize),
		exceptions: make(map[byte]byte),
	}
}

// SetHolding preloads holding registers starting at addr.
func (p *PLC) SetHolding(addr uint16, values ...uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.holding[addr:], values)
}

// SetInput preloads input registers starting at addr.
func (p *PLC) SetInput(addr uint16, values ...uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.input[addr:], values)
}

// Holding reads back a holding register, for asserting writes landed.
func (p *PLC) Holding(addr uint16) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holding[addr]
}

// ForceException makes every request with the given function code answer
// with an exception frame carrying code.
func (p *PLC) ForceException(fc, code byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exceptions[fc] = code
}

// ClearException removes a forced exception.
func (p *PLC) ClearException(fc byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.exceptions, fc)
}

// DropResponses swallows the next n requests without answering.
func (p *PLC) DropResponses(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropNext = n
}

// InjectStaleResponse prepends a well-formed frame carrying txn to the
// next response, as if a reply to an abandoned request surfaced late.
func (p *PLC) InjectStaleResponse(txn uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleTxn = txn
	p.staleArmed = true
}

// RequestCount reports how many well-formed requests the PLC has seen.
func (p *PLC) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// HandleADU processes one request ADU and returns the frames to deliver
// back, oldest first. Malformed frames and foreign unit IDs are silently
// dropped, as field devices do.
func (p *PLC) HandleADU(adu []byte) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(adu) < 8 {
		return nil
	}
	txn := binary.BigEndian.Uint16(adu[0:2])
	proto := binary.BigEndian.Uint16(adu[2:4])
	length := binary.BigEndian.Uint16(adu[4:6])
	unit := adu[6]
	fc := adu[7]
	if proto != 0 || int(length) != len(adu)-6 || unit != p.unitID {
		return nil
	}
	p.requests++

	if p.dropNext > 0 {
		p.dropNext--
		return nil
	}

	data := adu[8:]
	var pdu []byte
	if code, forced := p.exceptions[fc]; forced {
		pdu = []byte{fc | 0x80, code}
	} else {
		pdu = p.execute(fc, data)
	}

	var frames [][]byte
	if p.staleArmed {
		frames = append(frames, buildADU(p.staleTxn, p.unitID, pdu))
		p.staleArmed = false
	}
	frames = append(frames, buildADU(txn, p.unitID, pdu))
	return frames
}

func (p *PLC) execute(fc byte, data []byte) []byte {
	switch fc {
	case 0x03:
		return p.readBank(fc, p.holding, data)
	case 0x04:
		return p.readBank(fc, p.input, data)
	case 0x06:
		return p.writeSingle(data)
	case 0x10:
		return p.writeMultiple(data)
	default:
		return []byte{fc | 0x80, 0x01}
	}
}

func (p *PLC) readBank(fc byte, bank []uint16, data []byte) []byte {
	if len(data) != 4 {
		return []byte{fc | 0x80, 0x03}
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	qty := binary.BigEndian.Uint16(data[2:4])
	if qty < 1 || qty > 125 {
		return []byte{fc | 0x80, 0x03}
	}
	if int(addr)+int(qty) > len(bank) {
		return []byte{fc | 0x80, 0x02}
	}

	pdu := make([]byte, 2+2*int(qty))
	pdu[0] = fc
	pdu[1] = byte(2 * qty)
	for i := 0; i < int(qty); i++ {
		binary.BigEndian.PutUint16(pdu[2+2*i:], bank[int(addr)+i])
	}
	return pdu
}

func (p *PLC) writeSingle(data []byte) []byte {
	if len(data) != 4 {
		return []byte{0x86, 0x03}
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	if int(addr) >= len(p.holding) {
		return []byte{0x86, 0x02}
	}
	p.holding[addr] = binary.BigEndian.Uint16(data[2:4])

	pdu := make([]byte, 5)
	pdu[0] = 0x06
	copy(pdu[1:], data)
	return pdu
}

func (p *PLC) writeMultiple(data []byte) []byte {
	if len(data) < 5 {
		return []byte{0x90, 0x03}
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	qty := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]
	if qty < 1 || qty > 123 || int(byteCount) != 2*int(qty) || len(data) != 5+int(byteCount) {
		return []byte{0x90, 0x03}
	}
	if int(addr)+int(qty) > len(p.holding) {
		return []byte{0x90, 0x02}
	}
	for i := 0; i < int(qty); i++ {
		p.holding[int(addr)+i] = binary.BigEndian.Uint16(data[5+2*i:])
	}

	pdu := make([]byte, 5)
	pdu[0] = 0x10
	binary.BigEndian.PutUint16(pdu[1:], addr)
	binary.BigEndian.PutUint16(pdu[3:], qty)
	return pdu
}

func buildADU(txn uint16, unit byte, pdu []byte) []byte {
	adu := make([]byte, 7+len(pdu))
	binary.BigEndian.PutUint16(adu[0:2], txn)
	binary.BigEndian.PutUint16(adu[2:4], 0)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+len(pdu)))
	adu[6] = unit
	copy(adu[7:], pdu)
	return adu
}
