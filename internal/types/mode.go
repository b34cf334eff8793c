package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// PixelFormat identifies the pixel layout of produced frames.
type PixelFormat int32

// Pixel formats. Only RGB888 is produced today.
const (
	PixelFormatRGB888 PixelFormat = 200
)

// BytesPerPixel returns the storage size of one pixel.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB888:
		return 3
	default:
		return 0
	}
}

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGB888:
		return "rgb888"
	default:
		return fmt.Sprintf("pixfmt(%d)", int32(p))
	}
}

// VideoModeSize is the size of the binary VideoMode record exchanged at the
// property boundary: width, height, fps and pixel format as little-endian int32.
const VideoModeSize = 16

// VideoMode describes one capture configuration.
type VideoMode struct {
	Width       int32       `json:"width" toml:"width"`
	Height      int32       `json:"height" toml:"height"`
	FPS         int32       `json:"fps" toml:"fps"`
	PixelFormat PixelFormat `json:"pixel_format" toml:"pixel_format"`
}

// NewVideoMode builds an RGB888 mode.
func NewVideoMode(width, height, fps int32) VideoMode {
	return VideoMode{Width: width, Height: height, FPS: fps, PixelFormat: PixelFormatRGB888}
}

// Compare orders modes by width, then height, then fps. The pixel format does
// not take part in the ordering.
func (m VideoMode) Compare(o VideoMode) int {
	if c := cmpInt32(m.Width, o.Width); c != 0 {
		return c
	}
	if c := cmpInt32(m.Height, o.Height); c != 0 {
		return c
	}
	return cmpInt32(m.FPS, o.FPS)
}

func cmpInt32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Stride returns the row size in bytes.
func (m VideoMode) Stride() int {
	return int(m.Width) * m.PixelFormat.BytesPerPixel()
}

// MaxFrameSize bounds the pixel storage of one frame (8K RGB888). Modes
// larger than this are never negotiated.
const MaxFrameSize = 7680 * 4320 * 3

// FrameSize returns the pixel storage needed for one frame in this mode, or 0
// when the mode has no valid size.
func (m VideoMode) FrameSize() int {
	n, ok := m.CheckedFrameSize()
	if !ok {
		return 0
	}
	return n
}

// CheckedFrameSize returns the frame size and false when a dimension is not
// positive, the pixel format is unknown or the size overflows int.
func (m VideoMode) CheckedFrameSize() (int, bool) {
	bpp := int64(m.PixelFormat.BytesPerPixel())
	if m.Width <= 0 || m.Height <= 0 || bpp == 0 {
		return 0, false
	}
	area := int64(m.Width) * int64(m.Height)
	if area > math.MaxInt/bpp {
		return 0, false
	}
	return int(area * bpp), true
}

// FitsFrameSize reports whether one frame of m has a valid size of at most
// limit bytes.
func (m VideoMode) FitsFrameSize(limit int) bool {
	n, ok := m.CheckedFrameSize()
	return ok && n <= limit
}

// String returns the "WIDTH/HEIGHT@FPS" form used in configuration files.
func (m VideoMode) String() string {
	return fmt.Sprintf("%d/%d@%d", m.Width, m.Height, m.FPS)
}

// MarshalBinary encodes the mode as the fixed-size property record.
func (m VideoMode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, VideoModeSize)
	m.put(buf)
	return buf, nil
}

func (m VideoMode) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(m.Width))
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.Height))
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.FPS))
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.PixelFormat))
}

// PutBinary writes the property record into buf, which must be exactly
// VideoModeSize bytes long.
func (m VideoMode) PutBinary(buf []byte) error {
	if len(buf) != VideoModeSize {
		return NewError(CodeSizeMismatch, "video mode", fmt.Sprintf("unexpected size: %d != %d", len(buf), VideoModeSize), nil)
	}
	m.put(buf)
	return nil
}

// UnmarshalBinary decodes the fixed-size property record.
func (m *VideoMode) UnmarshalBinary(data []byte) error {
	if len(data) != VideoModeSize {
		return NewError(CodeSizeMismatch, "video mode", fmt.Sprintf("unexpected size: %d != %d", len(data), VideoModeSize), nil)
	}
	m.Width = int32(binary.LittleEndian.Uint32(data[0:]))
	m.Height = int32(binary.LittleEndian.Uint32(data[4:]))
	m.FPS = int32(binary.LittleEndian.Uint32(data[8:]))
	m.PixelFormat = PixelFormat(int32(binary.LittleEndian.Uint32(data[12:])))
	return nil
}

// ParseVideoMode parses the "WIDTH/HEIGHT@FPS" text form, e.g. "640/480@30".
// All three values must be positive integers. The result is RGB888.
func ParseVideoMode(s string) (VideoMode, error) {
	s = strings.TrimSpace(s)
	slash := strings.IndexByte(s, '/')
	at := strings.IndexByte(s, '@')
	if slash < 0 || at < 0 || at < slash {
		return VideoMode{}, NewError(CodeInvalidMode, "parse mode", fmt.Sprintf("%q is not WIDTH/HEIGHT@FPS", s), nil)
	}

	fields := [3]string{s[:slash], s[slash+1 : at], s[at+1:]}
	var values [3]int32
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil || v <= 0 {
			return VideoMode{}, NewError(CodeInvalidMode, "parse mode", fmt.Sprintf("%q has invalid field %q", s, f), err)
		}
		values[i] = int32(v)
	}

	return NewVideoMode(values[0], values[1], values[2]), nil
}

// ParseVideoModes parses a list of mode strings, failing on the first bad entry.
func ParseVideoModes(list []string) ([]VideoMode, error) {
	modes := make([]VideoMode, 0, len(list))
	for _, s := range list {
		m, err := ParseVideoMode(s)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}

// ModeSet is an immutable, ordered set of unique video modes.
type ModeSet struct {
	modes []VideoMode
}

// NewModeSet builds a set from the given modes. Duplicates under Compare are
// collapsed, keeping the first occurrence.
func NewModeSet(modes ...VideoMode) ModeSet {
	sorted := slices.Clone(modes)
	slices.SortStableFunc(sorted, VideoMode.Compare)
	sorted = slices.CompactFunc(sorted, func(a, b VideoMode) bool { return a.Compare(b) == 0 })
	return ModeSet{modes: slices.Clip(sorted)}
}

// Modes returns a copy of the modes in ascending order.
func (s ModeSet) Modes() []VideoMode {
	return slices.Clone(s.modes)
}

// Len returns the number of modes.
func (s ModeSet) Len() int {
	return len(s.modes)
}

// Contains reports whether an equal mode is in the set.
func (s ModeSet) Contains(m VideoMode) bool {
	_, found := slices.BinarySearchFunc(s.modes, m, VideoMode.Compare)
	if !found {
		return false
	}
	return slices.Contains(s.modes, m)
}

// Strings returns the text form of every mode.
func (s ModeSet) Strings() []string {
	out := make([]string, len(s.modes))
	for i, m := range s.modes {
		out[i] = m.String()
	}
	return out
}
