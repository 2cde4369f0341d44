package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/plc-link/internal/domain"
)

// PointConfig is the YAML shape of one polled register point.
type PointConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Register    string  `yaml:"register"` // holding or input
	Address     int     `yaml:"address"`
	DataType    string  `yaml:"data_type"`
	ByteOrder   string  `yaml:"byte_order,omitempty"`
	Scale       float64 `yaml:"scale,omitempty"`
	Offset      float64 `yaml:"offset,omitempty"`
	Unit        string  `yaml:"unit,omitempty"`
	TopicSuffix string  `yaml:"topic_suffix,omitempty"`
	Writable    bool    `yaml:"writable,omitempty"`
	Enabled     bool    `yaml:"enabled"`
}

// PointsFile is the top-level points configuration file.
type PointsFile struct {
	Version string        `yaml:"version"`
	Points  []PointConfig `yaml:"points"`
}

// LoadPoints reads and validates the point definitions at path.
func LoadPoints(path string) ([]*domain.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read points file: %w", err)
	}
	return ParsePoints(data)
}

// ParsePoints parses point definitions from YAML.
func ParsePoints(data []byte) ([]*domain.Point, error) {
	var file PointsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse points file: %w", err)
	}

	seen := make(map[string]int)
	points := make([]*domain.Point, 0, len(file.Points))
	for idx, pc := range file.Points {
		if prev, dup := seen[pc.ID]; dup {
			return nil, fmt.Errorf("duplicate point ID %q at index %d (first seen at index %d)", pc.ID, idx, prev)
		}
		seen[pc.ID] = idx

		point, err := convertPointConfig(pc)
		if err != nil {
			return nil, fmt.Errorf("error in point %q: %w", pc.ID, err)
		}
		points = append(points, point)
	}
	return points, nil
}

func convertPointConfig(pc PointConfig) (*domain.Point, error) {
	if pc.Address < 0 || pc.Address > 0xFFFF {
		return nil, fmt.Errorf("%w: address %d", domain.ErrInvalidRegisterRange, pc.Address)
	}

	register := domain.RegisterType(pc.Register)
	if pc.Register == "" {
		register = domain.RegisterTypeHolding
	}
	byteOrder := domain.ByteOrder(pc.ByteOrder)
	if byteOrder == "" {
		byteOrder = domain.ByteOrderBigEndian
	}
	if byteOrder != domain.ByteOrderBigEndian && byteOrder != domain.ByteOrderWordSwap {
		return nil, fmt.Errorf("invalid byte_order %q", pc.ByteOrder)
	}
	scale := pc.Scale
	if scale == 0 {
		scale = 1
	}

	point := &domain.Point{
		ID:          pc.ID,
		Name:        pc.Name,
		Description: pc.Description,
		Register:    register,
		Address:     uint16(pc.Address),
		DataType:    domain.DataType(pc.DataType),
		ByteOrder:   byteOrder,
		Scale:       scale,
		Offset:      pc.Offset,
		Unit:        pc.Unit,
		TopicSuffix: pc.TopicSuffix,
		Writable:    pc.Writable,
		Enabled:     pc.Enabled,
	}
	if err := point.Validate(); err != nil {
		return nil, err
	}
	return point, nil
}

// SavePoints writes point definitions to a YAML file.
func SavePoints(path string, points []*domain.Point) error {
	configs := make([]PointConfig, 0, len(points))
	for _, p := range points {
		configs = append(configs, PointConfig{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Register:    string(p.Register),
			Address:     int(p.Address),
			DataType:    string(p.DataType),
			ByteOrder:   string(p.ByteOrder),
			Scale:       p.Scale,
			Offset:      p.Offset,
			Unit:        p.Unit,
			TopicSuffix: p.TopicSuffix,
			Writable:    p.Writable,
			Enabled:     p.Enabled,
		})
	}

	data, err := yaml.Marshal(&PointsFile{Version: "1.0", Points: configs})
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write points file: %w", err)
	}
	return nil
}
