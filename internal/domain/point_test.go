package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexus-edge/plc-link/internal/domain"
)

func validPoint() domain.Point {
	return domain.Point{
		ID:          "boiler_temp",
		Name:        "Boiler Temperature",
		Register:    domain.RegisterTypeHolding,
		Address:     100,
		DataType:    domain.DataTypeFloat32,
		ByteOrder:   domain.ByteOrderBigEndian,
		Scale:       0.1,
		Unit:        "C",
		TopicSuffix: "boiler/temp",
		Enabled:     true,
	}
}

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Point)
		wantErr error
	}{
		{
			name:   "valid point",
			mutate: func(p *domain.Point) {},
		},
		{
			name:    "missing id",
			mutate:  func(p *domain.Point) { p.ID = "" },
			wantErr: domain.ErrPointIDRequired,
		},
		{
			name:    "missing name",
			mutate:  func(p *domain.Point) { p.Name = "" },
			wantErr: domain.ErrPointNameRequired,
		},
		{
			name:    "bad register type",
			mutate:  func(p *domain.Point) { p.Register = "coil" },
			wantErr: domain.ErrInvalidRegisterType,
		},
		{
			name:    "bad data type",
			mutate:  func(p *domain.Point) { p.DataType = "float64" },
			wantErr: domain.ErrInvalidDataType,
		},
		{
			name: "two-word point at top of address space",
			mutate: func(p *domain.Point) {
				p.Address = 65535
				p.DataType = domain.DataTypeUInt32
			},
			wantErr: domain.ErrInvalidRegisterRange,
		},
		{
			name: "writable input register",
			mutate: func(p *domain.Point) {
				p.Register = domain.RegisterTypeInput
				p.Writable = true
			},
			wantErr: domain.ErrPointNotWritable,
		},
		{
			name: "writable holding register",
			mutate: func(p *domain.Point) {
				p.Writable = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPoint()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataTypeWordCount(t *testing.T) {
	tests := []struct {
		dataType domain.DataType
		want     uint16
	}{
		{domain.DataTypeBool, 1},
		{domain.DataTypeInt16, 1},
		{domain.DataTypeUInt16, 1},
		{domain.DataTypeInt32, 2},
		{domain.DataTypeUInt32, 2},
		{domain.DataTypeFloat32, 2},
		{domain.DataType("unknown"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.dataType), func(t *testing.T) {
			if got := tt.dataType.WordCount(); got != tt.want {
				t.Errorf("WordCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPointRange(t *testing.T) {
	p := validPoint()
	rng := p.Range()
	if rng.Start != 100 || rng.Count != 2 {
		t.Errorf("Range() = %+v, want {Start:100 Count:2}", rng)
	}
}

func TestSampleToJSON(t *testing.T) {
	s := &domain.Sample{
		PointID:   "boiler_temp",
		Topic:     "plclink/boiler/temp",
		Value:     42.5,
		Unit:      "C",
		Quality:   domain.QualityGood,
		Timestamp: time.UnixMilli(1700000000000),
	}

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["v"] != 42.5 {
		t.Errorf("payload v = %v, want 42.5", decoded["v"])
	}
	if decoded["u"] != "C" {
		t.Errorf("payload u = %v, want C", decoded["u"])
	}
	if decoded["q"] != "good" {
		t.Errorf("payload q = %v, want good", decoded["q"])
	}
	if decoded["ts"] != float64(1700000000000) {
		t.Errorf("payload ts = %v, want 1700000000000", decoded["ts"])
	}
}

func TestSampleToJSONOmitsEmptyUnit(t *testing.T) {
	s := domain.NewSample("p1", "plclink/p1", true, "", domain.QualityGood)

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["u"]; ok {
		t.Error("payload contains empty unit field, want omitted")
	}
}
