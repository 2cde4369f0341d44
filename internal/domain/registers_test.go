package domain_test

import (
	"errors"
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
)

func TestRegisterRangeValidateRead(t *testing.T) {
	tests := []struct {
		name    string
		rng     domain.RegisterRange
		wantErr bool
	}{
		{
			name: "single register",
			rng:  domain.RegisterRange{Start: 0, Count: 1},
		},
		{
			name: "max read count",
			rng:  domain.RegisterRange{Start: 100, Count: 125},
		},
		{
			name:    "zero count",
			rng:     domain.RegisterRange{Start: 10, Count: 0},
			wantErr: true,
		},
		{
			name:    "over max read count",
			rng:     domain.RegisterRange{Start: 0, Count: 126},
			wantErr: true,
		},
		{
			name: "ends exactly at address space top",
			rng:  domain.RegisterRange{Start: 65535, Count: 1},
		},
		{
			name:    "overflows address space",
			rng:     domain.RegisterRange{Start: 65535, Count: 2},
			wantErr: true,
		},
		{
			name:    "high start with large count",
			rng:     domain.RegisterRange{Start: 65500, Count: 100},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rng.ValidateRead()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRead() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidRegisterRange) {
				t.Errorf("ValidateRead() error = %v, want wrapped ErrInvalidRegisterRange", err)
			}
		})
	}
}

func TestRegisterRangeValidateWrite(t *testing.T) {
	tests := []struct {
		name    string
		rng     domain.RegisterRange
		wantErr bool
	}{
		{
			name: "single register",
			rng:  domain.RegisterRange{Start: 0, Count: 1},
		},
		{
			name: "max write count",
			rng:  domain.RegisterRange{Start: 0, Count: 123},
		},
		{
			name:    "read max exceeds write max",
			rng:     domain.RegisterRange{Start: 0, Count: 125},
			wantErr: true,
		},
		{
			name:    "zero count",
			rng:     domain.RegisterRange{Start: 0, Count: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rng.ValidateWrite()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWrite() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterRangeEnd(t *testing.T) {
	tests := []struct {
		name string
		rng  domain.RegisterRange
		want uint16
	}{
		{name: "single at zero", rng: domain.RegisterRange{Start: 0, Count: 1}, want: 0},
		{name: "block of ten", rng: domain.RegisterRange{Start: 100, Count: 10}, want: 109},
		{name: "top of space", rng: domain.RegisterRange{Start: 65535, Count: 1}, want: 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rng.End(); got != tt.want {
				t.Errorf("End() = %v, want %v", got, tt.want)
			}
		})
	}
}
