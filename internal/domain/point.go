package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegisterType selects the Modbus address space a point lives in.
type RegisterType string

const (
	RegisterTypeHolding RegisterType = "holding"
	RegisterTypeInput   RegisterType = "input"
)

// IsValid reports whether the register type is one this system reads.
func (r RegisterType) IsValid() bool {
	return r == RegisterTypeHolding || r == RegisterTypeInput
}

// DataType is the engineering type a point's registers decode to.
type DataType string

const (
	DataTypeBool    DataType = "bool"
	DataTypeInt16   DataType = "int16"
	DataTypeUInt16  DataType = "uint16"
	DataTypeInt32   DataType = "int32"
	DataTypeUInt32  DataType = "uint32"
	DataTypeFloat32 DataType = "float32"
)

// WordCount returns the number of 16-bit registers the type occupies,
// or 0 if the type is unknown.
func (d DataType) WordCount() uint16 {
	switch d {
	case DataTypeBool, DataTypeInt16, DataTypeUInt16:
		return 1
	case DataTypeInt32, DataTypeUInt32, DataTypeFloat32:
		return 2
	default:
		return 0
	}
}

// ByteOrder describes how multi-register values are laid out on the wire.
// Modbus itself is big-endian per register; devices disagree about word order
// for 32-bit values.
type ByteOrder string

const (
	ByteOrderBigEndian ByteOrder = "big_endian" // ABCD
	ByteOrderWordSwap  ByteOrder = "word_swap"  // CDAB
)

// Point is a named register location polled from (or written to) the PLC.
type Point struct {
	ID          string
	Name        string
	Description string
	Register    RegisterType
	Address     uint16
	DataType    DataType
	ByteOrder   ByteOrder
	Scale       float64
	Offset      float64
	Unit        string
	TopicSuffix string
	Writable    bool
	Enabled     bool
}

// Range returns the register range the point occupies.
func (p *Point) Range() RegisterRange {
	return RegisterRange{Start: p.Address, Count: p.DataType.WordCount()}
}

// Validate checks the point for configuration errors.
func (p *Point) Validate() error {
	if p.ID == "" {
		return ErrPointIDRequired
	}
	if p.Name == "" {
		return ErrPointNameRequired
	}
	if !p.Register.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRegisterType, p.Register)
	}
	words := p.DataType.WordCount()
	if words == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidDataType, p.DataType)
	}
	if uint32(p.Address)+uint32(words)-1 > 0xFFFF {
		return fmt.Errorf("%w: point %s spans past address space", ErrInvalidRegisterRange, p.ID)
	}
	if p.Writable && p.Register != RegisterTypeHolding {
		return fmt.Errorf("%w: input registers are read-only", ErrPointNotWritable)
	}
	return nil
}

// Quality grades the reliability of a sample.
type Quality string

const (
	QualityGood         Quality = "good"
	QualityBad          Quality = "bad"
	QualityNotConnected Quality = "not_connected"
	QualityTimeout      Quality = "timeout"
)

// Sample is a single value read from a point, ready for publishing.
type Sample struct {
	PointID   string
	Topic     string
	Value     interface{}
	Raw       []uint16
	Unit      string
	Quality   Quality
	Timestamp time.Time
}

// NewSample builds a sample stamped with the current time.
func NewSample(pointID, topic string, value interface{}, unit string, quality Quality) *Sample {
	return &Sample{
		PointID:   pointID,
		Topic:     topic,
		Value:     value,
		Unit:      unit,
		Quality:   quality,
		Timestamp: time.Now(),
	}
}

// samplePayload is the compact wire format published to MQTT. Short field names
// keep payloads small on constrained brokers.
type samplePayload struct {
	Value     interface{} `json:"v"`
	Unit      string      `json:"u,omitempty"`
	Quality   Quality     `json:"q"`
	Timestamp int64       `json:"ts"`
}

// ToJSON serializes the sample's publish payload.
func (s *Sample) ToJSON() ([]byte, error) {
	return json.Marshal(samplePayload{
		Value:     s.Value,
		Unit:      s.Unit,
		Quality:   s.Quality,
		Timestamp: s.Timestamp.UnixMilli(),
	})
}
