// Package backend abstracts the physical capture handle: open a camera by
// index, negotiate width/height/fps, and pull one raw frame at a time.
//
// Drivers register themselves by name at init time. The v4l2 driver is
// available on Linux, the gocv driver when built with the gocv tag, and the
// sim driver everywhere.
package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/types"
)

// Property identifies a negotiable capture parameter.
type Property int

// Capture properties.
const (
	PropFrameWidth Property = iota + 1
	PropFrameHeight
	PropFPS
)

func (p Property) String() string {
	switch p {
	case PropFrameWidth:
		return "width"
	case PropFrameHeight:
		return "height"
	case PropFPS:
		return "fps"
	default:
		return fmt.Sprintf("property(%d)", int(p))
	}
}

// Camera is one open physical capture handle. Implementations are not safe
// for concurrent use; the owner serializes negotiation and reads.
type Camera interface {
	// Get returns the current value of a property, 0 when unknown.
	Get(p Property) int32
	// Set requests a property value and reports whether the driver accepted
	// it. The value actually applied is read back with Get.
	Set(p Property, v int32) bool
	// Read blocks for at most about one frame interval and fills dst with the
	// next frame. dst.Data is reused when large enough.
	Read(ctx context.Context, dst *RawFrame) error
	IsOpen() bool
	Close() error
}

// Driver opens cameras by zero-based physical index.
type Driver interface {
	Name() string
	Open(index int) (Camera, error)
}

// Description is what a driver knows about a device without opening it for
// capture.
type Description struct {
	Name string
	Bus  string
}

// Describer is implemented by drivers that can name a device.
type Describer interface {
	Describe(index int) (Description, bool)
}

// NativeFormat is one pixel format a device offers, with the modes the driver
// enumerates for it.
type NativeFormat struct {
	FourCC   string
	Name     string
	Emulated bool
	// Convertible reports whether frames in this format can be turned into
	// RGB888 by this package.
	Convertible bool
	Modes       []types.VideoMode
}

// FormatLister is implemented by drivers that can enumerate native formats
// without starting a capture.
type FormatLister interface {
	NativeFormats(index int) ([]NativeFormat, error)
}

// Settings configure driver construction.
type Settings struct {
	// ReadTimeout bounds a single Read when the driver cannot derive it from
	// the frame rate.
	ReadTimeout time.Duration
	Sim         SimConfig
}

// Factory builds a driver.
type Factory func(Settings) (Driver, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a driver available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New builds the named driver.
func New(name string, settings Settings) (Driver, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.CodeNotImplemented, "backend", "no driver %q (available: %v)", name, Names())
	}
	return f(settings)
}

// Names lists registered drivers.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Preferred names the driver used when none is configured: v4l2 where it is
// built, otherwise the first hardware driver, and sim only as a last resort.
func Preferred() string {
	names := Names()
	if slices.Contains(names, "v4l2") {
		return "v4l2"
	}
	for _, n := range names {
		if n != "sim" {
			return n
		}
	}
	return "sim"
}

// QuirkFPS is reported in place of a zero frame rate. Several drivers cannot
// query the current rate and answer 0.
const QuirkFPS = 30

// Mode reads the current width, height and fps from a camera.
func Mode(c Camera) types.VideoMode {
	return types.NewVideoMode(c.Get(PropFrameWidth), c.Get(PropFrameHeight), c.Get(PropFPS))
}

// DefaultMode is Mode with a zero fps replaced by QuirkFPS.
func DefaultMode(c Camera) types.VideoMode {
	m := Mode(c)
	if m.FPS == 0 {
		m.FPS = QuirkFPS
	}
	return m
}

// Apply sets width, height and fps in that order and verifies the camera
// reports exactly those values afterwards. It stops at the first rejected
// property; the caller decides whether to roll back.
func Apply(c Camera, m types.VideoMode) error {
	want := []struct {
		prop Property
		v    int32
	}{
		{PropFrameWidth, m.Width},
		{PropFrameHeight, m.Height},
		{PropFPS, m.FPS},
	}
	for _, w := range want {
		if !c.Set(w.prop, w.v) {
			return types.Errorf(types.CodeNegotiationFailed, "apply mode", "%s=%d rejected", w.prop, w.v)
		}
	}
	for _, w := range want {
		if got := c.Get(w.prop); got != w.v {
			return types.Errorf(types.CodeNegotiationFailed, "apply mode", "%s=%d applied as %d", w.prop, w.v, got)
		}
	}
	return nil
}

// FrameInterval returns the time between frames at fps, or fallback when fps
// is not positive.
func FrameInterval(fps int32, fallback time.Duration) time.Duration {
	if fps <= 0 {
		return fallback
	}
	return time.Second / time.Duration(fps)
}
