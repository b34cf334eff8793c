package types

import (
	"encoding/binary"
	"fmt"
)

// SensorType is the closed set of logical sensors a device can expose.
// A camera exposes exactly one: color.
type SensorType int32

// Sensor types.
const (
	SensorColor SensorType = 2
)

func (s SensorType) String() string {
	switch s {
	case SensorColor:
		return "color"
	default:
		return fmt.Sprintf("sensor(%d)", int32(s))
	}
}

// Valid reports whether s is a known sensor type.
func (s SensorType) Valid() bool {
	return s == SensorColor
}

// ParseSensorType maps a sensor name to its type.
func ParseSensorType(name string) (SensorType, error) {
	if name == "color" || name == "" {
		return SensorColor, nil
	}
	return 0, Errorf(CodeUnsupportedSensor, "parse sensor", "unknown sensor %q", name)
}

// SensorInfo describes one logical sensor and its supported modes.
type SensorInfo struct {
	Type  SensorType
	Modes ModeSet
}

// DriverVersionSize is the size of the binary version record.
const DriverVersionSize = 16

// DriverVersion is the version tuple reported through the device property
// boundary.
type DriverVersion struct {
	Major       int32 `json:"major"`
	Minor       int32 `json:"minor"`
	Maintenance int32 `json:"maintenance"`
	Build       int32 `json:"build"`
}

func (v DriverVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Maintenance, v.Build)
}

// PutBinary writes the version record into buf.
func (v DriverVersion) PutBinary(buf []byte) error {
	if len(buf) != DriverVersionSize {
		return NewError(CodeSizeMismatch, "driver version", fmt.Sprintf("unexpected size: %d != %d", len(buf), DriverVersionSize), nil)
	}
	binary.LittleEndian.PutUint32(buf[0:], uint32(v.Major))
	binary.LittleEndian.PutUint32(buf[4:], uint32(v.Minor))
	binary.LittleEndian.PutUint32(buf[8:], uint32(v.Maintenance))
	binary.LittleEndian.PutUint32(buf[12:], uint32(v.Build))
	return nil
}
