package modbus

import (
	"fmt"
	"math"

	"github.com/nexus-edge/plc-link/internal/domain"
)

// DecodePointValue converts raw register words into a point's engineering
// value. Unscaled points keep their native type; scaled points come back
// as float64.
func DecodePointValue(p *domain.Point, words []uint16) (interface{}, error) {
	if len(words) != int(p.DataType.WordCount()) {
		return nil, fmt.Errorf("%w: %d words for %s", domain.ErrInvalidDataLength, len(words), p.DataType)
	}

	var value interface{}
	switch p.DataType {
	case domain.DataTypeBool:
		value = words[0] != 0
	case domain.DataTypeInt16:
		value = int16(words[0])
	case domain.DataTypeUInt16:
		value = words[0]
	case domain.DataTypeInt32:
		value = int32(combineWords(words, p.ByteOrder))
	case domain.DataTypeUInt32:
		value = combineWords(words, p.ByteOrder)
	case domain.DataTypeFloat32:
		value = math.Float32frombits(combineWords(words, p.ByteOrder))
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDataType, p.DataType)
	}

	return applyScaling(p, value), nil
}

// EncodePointValue converts an engineering value into the register words
// to write for a point, reversing any scaling first.
func EncodePointValue(p *domain.Point, value interface{}) ([]uint16, error) {
	if p.DataType == domain.DataTypeBool {
		b, ok := toBool(value)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to bool", domain.ErrInvalidWriteValue, value)
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}

	raw := reverseScaling(p, value)

	switch p.DataType {
	case domain.DataTypeInt16:
		v, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int16", domain.ErrInvalidWriteValue, value)
		}
		return []uint16{uint16(int16(v))}, nil
	case domain.DataTypeUInt16:
		v, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint16", domain.ErrInvalidWriteValue, value)
		}
		return []uint16{uint16(v)}, nil
	case domain.DataTypeInt32:
		v, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int32", domain.ErrInvalidWriteValue, value)
		}
		return splitWords(uint32(int32(v)), p.ByteOrder), nil
	case domain.DataTypeUInt32:
		v, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint32", domain.ErrInvalidWriteValue, value)
		}
		return splitWords(uint32(v), p.ByteOrder), nil
	case domain.DataTypeFloat32:
		v, ok := toFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float32", domain.ErrInvalidWriteValue, value)
		}
		return splitWords(math.Float32bits(float32(v)), p.ByteOrder), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDataType, p.DataType)
	}
}

// combineWords assembles a 32-bit value from two registers. Registers are
// big-endian on the wire; word order varies by device.
func combineWords(words []uint16, order domain.ByteOrder) uint32 {
	if order == domain.ByteOrderWordSwap {
		return uint32(words[1])<<16 | uint32(words[0])
	}
	return uint32(words[0])<<16 | uint32(words[1])
}

func splitWords(v uint32, order domain.ByteOrder) []uint16 {
	hi, lo := uint16(v>>16), uint16(v)
	if order == domain.ByteOrderWordSwap {
		return []uint16{lo, hi}
	}
	return []uint16{hi, lo}
}

// applyScaling applies scale and offset. Booleans and identity scaling
// pass through untouched.
func applyScaling(p *domain.Point, value interface{}) interface{} {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	if scale == 1 && p.Offset == 0 {
		return value
	}

	f, ok := toFloat64(value)
	if !ok {
		return value
	}
	return f*scale + p.Offset
}

// reverseScaling undoes scale and offset before a write.
func reverseScaling(p *domain.Point, value interface{}) interface{} {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	if scale == 1 && p.Offset == 0 {
		return value
	}

	f, ok := toFloat64(value)
	if !ok {
		return value
	}
	return (f - p.Offset) / scale
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int:
		return val != 0, true
	case int16:
		return val != 0, true
	case int32:
		return val != 0, true
	case int64:
		return val != 0, true
	case uint16:
		return val != 0, true
	case uint32:
		return val != 0, true
	case uint64:
		return val != 0, true
	case float32:
		return val != 0, true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float32:
		return int64(math.Round(float64(val))), true
	case float64:
		return int64(math.Round(val)), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
