// Package modbus implements a Modbus TCP client for a single PLC session
// over a hardware-offload socket transport, including the connection
// recovery and ARP refresh machinery the offload chips need after
// physical-layer events.
package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/nexus-edge/plc-link/internal/domain"
)

// Function codes this client speaks.
const (
	fcReadHolding   = 0x03
	fcReadInput     = 0x04
	fcWriteSingle   = 0x06
	fcWriteMultiple = 0x10

	exceptionFlag = 0x80
)

const (
	mbapHeaderLen = 7
	// maxADULen is the largest legal Modbus TCP frame: 7-byte MBAP header
	// plus a 253-byte PDU.
	maxADULen = 260
)

// encodeADU wraps a PDU in an MBAP header. The length field counts the
// unit identifier plus the PDU.
func encodeADU(txn uint16, unit byte, pdu []byte) []byte {
	adu := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(adu[0:2], txn)
	binary.BigEndian.PutUint16(adu[2:4], 0)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+len(pdu)))
	adu[6] = unit
	copy(adu[7:], pdu)
	return adu
}

func encodeReadRequest(txn uint16, unit, fc byte, rng domain.RegisterRange) []byte {
	pdu := make([]byte, 5)
	pdu[0] = fc
	binary.BigEndian.PutUint16(pdu[1:3], rng.Start)
	binary.BigEndian.PutUint16(pdu[3:5], rng.Count)
	return encodeADU(txn, unit, pdu)
}

func encodeWriteSingleRequest(txn uint16, unit byte, addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = fcWriteSingle
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return encodeADU(txn, unit, pdu)
}

func encodeWriteMultipleRequest(txn uint16, unit byte, start uint16, values []uint16) []byte {
	pdu := make([]byte, 6+2*len(values))
	pdu[0] = fcWriteMultiple
	binary.BigEndian.PutUint16(pdu[1:3], start)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+2*i:], v)
	}
	return encodeADU(txn, unit, pdu)
}

// frame is one parsed ADU.
type frame struct {
	txn  uint16
	unit byte
	pdu  []byte
}

// parseADU extracts the first complete ADU from buf. It returns the frame
// and the number of bytes consumed, or (nil, 0, nil) when the buffer holds
// only a partial frame. Malformed headers fail with a framing error since
// a byte stream with a bad header can never resynchronize.
func parseADU(buf []byte) (*frame, int, error) {
	if len(buf) < mbapHeaderLen {
		return nil, 0, nil
	}
	proto := binary.BigEndian.Uint16(buf[2:4])
	if proto != 0 {
		return nil, 0, fmt.Errorf("%w: protocol id 0x%04X", domain.ErrFraming, proto)
	}
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	// length counts unit id + PDU; the smallest PDU is an exception (2
	// bytes), the largest 253 bytes.
	if length < 3 || length > maxADULen-6 {
		return nil, 0, fmt.Errorf("%w: length field %d", domain.ErrFraming, length)
	}
	total := 6 + length
	if len(buf) < total {
		return nil, 0, nil
	}
	pdu := make([]byte, length-1)
	copy(pdu, buf[7:total])
	return &frame{
		txn:  binary.BigEndian.Uint16(buf[0:2]),
		unit: buf[6],
		pdu:  pdu,
	}, total, nil
}

// checkException maps an exception PDU to a ModbusException. A response
// whose function code is neither the request's nor its exception variant
// is a framing fault.
func checkException(pdu []byte, reqFC byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("%w: empty pdu", domain.ErrFraming)
	}
	fc := pdu[0]
	if fc == reqFC|exceptionFlag {
		if len(pdu) != 2 {
			return fmt.Errorf("%w: exception frame of %d bytes", domain.ErrFraming, len(pdu))
		}
		return &domain.ModbusException{Code: pdu[1]}
	}
	if fc != reqFC {
		return fmt.Errorf("%w: function code 0x%02X in reply to 0x%02X", domain.ErrFraming, fc, reqFC)
	}
	return nil
}

func decodeReadResponse(pdu []byte, reqFC byte, count uint16) ([]uint16, error) {
	if err := checkException(pdu, reqFC); err != nil {
		return nil, err
	}
	want := 2 + 2*int(count)
	if len(pdu) != want || pdu[1] != byte(2*count) {
		return nil, fmt.Errorf("%w: read response of %d bytes for %d registers", domain.ErrFraming, len(pdu), count)
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return values, nil
}

func decodeWriteSingleResponse(pdu []byte, addr, value uint16) error {
	if err := checkException(pdu, fcWriteSingle); err != nil {
		return err
	}
	if len(pdu) != 5 {
		return fmt.Errorf("%w: write single response of %d bytes", domain.ErrFraming, len(pdu))
	}
	gotAddr := binary.BigEndian.Uint16(pdu[1:3])
	gotValue := binary.BigEndian.Uint16(pdu[3:5])
	if gotAddr != addr || gotValue != value {
		return fmt.Errorf("%w: write single echoed %d=%d, sent %d=%d", domain.ErrFraming, gotAddr, gotValue, addr, value)
	}
	return nil
}

func decodeWriteMultipleResponse(pdu []byte, start, count uint16) error {
	if err := checkException(pdu, fcWriteMultiple); err != nil {
		return err
	}
	if len(pdu) != 5 {
		return fmt.Errorf("%w: write multiple response of %d bytes", domain.ErrFraming, len(pdu))
	}
	gotStart := binary.BigEndian.Uint16(pdu[1:3])
	gotCount := binary.BigEndian.Uint16(pdu[3:5])
	if gotStart != start || gotCount != count {
		return fmt.Errorf("%w: write multiple acknowledged %d@%d, requested %d@%d", domain.ErrFraming, gotCount, gotStart, count, start)
	}
	return nil
}
