package capture

import (
	"encoding/binary"

	"github.com/smazurov/camnode/internal/types"
)

// PropertyID identifies a stream property at the raw boundary.
type PropertyID int

// Stream properties.
const (
	PropVideoMode PropertyID = 3
	PropMirroring PropertyID = 7
)

// MirroringSize is the wire size of the mirroring flag (int32 boolean).
const MirroringSize = 4

// IsPropertySupported reports whether id is handled by Get/SetProperty.
func (s *Stream) IsPropertySupported(id PropertyID) bool {
	return id == PropVideoMode || id == PropMirroring
}

// GetProperty writes the property into data and returns the number of bytes
// written. data must be exactly the property's size.
func (s *Stream) GetProperty(id PropertyID, data []byte) (int, error) {
	switch id {
	case PropVideoMode:
		if err := s.VideoMode().PutBinary(data); err != nil {
			return 0, err
		}
		return types.VideoModeSize, nil
	case PropMirroring:
		if len(data) != MirroringSize {
			return 0, types.Errorf(types.CodeSizeMismatch, "get mirroring", "unexpected size: %d != %d", len(data), MirroringSize)
		}
		var v uint32
		if s.Mirroring() {
			v = 1
		}
		binary.LittleEndian.PutUint32(data, v)
		return MirroringSize, nil
	default:
		return 0, types.Errorf(types.CodeNotImplemented, "get property", "property %d", id)
	}
}

// SetProperty applies a property from its wire form.
func (s *Stream) SetProperty(id PropertyID, data []byte) error {
	switch id {
	case PropVideoMode:
		var m types.VideoMode
		if err := m.UnmarshalBinary(data); err != nil {
			return err
		}
		return s.SetVideoMode(m)
	case PropMirroring:
		if len(data) != MirroringSize {
			return types.Errorf(types.CodeSizeMismatch, "set mirroring", "unexpected size: %d != %d", len(data), MirroringSize)
		}
		s.SetMirroring(binary.LittleEndian.Uint32(data) != 0)
		return nil
	default:
		return types.Errorf(types.CodeNotImplemented, "set property", "property %d", id)
	}
}
