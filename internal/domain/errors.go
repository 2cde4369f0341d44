// Package domain contains core business entities.
package domain

import (
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrNoLink             = errors.New("ethernet link down")
	ErrConnectFailed      = errors.New("connect failed")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrCommunicationLost  = errors.New("communication lost")
	ErrFraming            = errors.New("framing error")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrNotConnected       = errors.New("not connected")
	ErrClientClosed       = errors.New("client closed")
)

// Request validation errors.
var (
	ErrInvalidRegisterRange = errors.New("invalid register range")
	ErrInvalidDataLength    = errors.New("invalid data length")
	ErrInvalidDataType      = errors.New("invalid data type")
	ErrInvalidWriteValue    = errors.New("invalid value for write operation")
)

// Point configuration errors.
var (
	ErrPointIDRequired      = errors.New("point ID is required")
	ErrPointNameRequired    = errors.New("point name is required")
	ErrPointNotFound        = errors.New("point not found")
	ErrPointNotWritable     = errors.New("point is not writable")
	ErrInvalidRegisterType  = errors.New("invalid register type")
	ErrRegisterCountForType = errors.New("register count does not match data type")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("MQTT connection failed")
	ErrMQTTPublishFailed    = errors.New("MQTT publish failed")
	ErrMQTTNotConnected     = errors.New("MQTT client not connected")
	ErrMQTTSubscribeFailed  = errors.New("MQTT subscribe failed")
)

// Service errors.
var (
	ErrServiceNotStarted = errors.New("service not started")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownTransport  = errors.New("unknown transport driver")
)

// ModbusException is a protocol-level error reported by the PLC inside a valid
// response frame (function code | 0x80 plus a one-byte exception code). It is a
// protocol answer, not a transport fault: it never triggers reconnection and the
// session stays connected.
type ModbusException struct {
	Code byte
}

func (e *ModbusException) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X: %s", e.Code, ExceptionName(e.Code))
}

// ExceptionName returns the Modbus specification name for an exception code.
func ExceptionName(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge - long operation in progress"
	case 0x06:
		return "slave device busy"
	case 0x07:
		return "negative acknowledge"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}

// AsModbusException unwraps err to a *ModbusException if one is present.
func AsModbusException(err error) (*ModbusException, bool) {
	var exc *ModbusException
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}
