package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camnode/internal/types"
)

func init() {
	Register("sim", func(s Settings) (Driver, error) {
		return NewSim(s.Sim), nil
	})
}

// SimConfig describes a set of simulated cameras.
type SimConfig struct {
	// Cameras makes indices 0..Cameras-1 openable.
	Cameras int
	// Indices, when set, lists the openable indices instead of Cameras so
	// that gaps can be modelled.
	Indices []int
	// Default is the mode a freshly opened camera reports.
	Default string
	// Modes restricts what Set accepts. Empty accepts any positive value.
	Modes []string
	// FrameInterval overrides the 1/fps pacing of Read.
	FrameInterval time.Duration

	// ZeroFPS makes Get(PropFPS) report 0 until fps is set, like drivers
	// that cannot query the current rate.
	ZeroFPS bool
	// SnapFPS, when positive, is applied instead of any requested fps.
	SnapFPS int32
	// Reject lists properties whose Set always fails.
	Reject []Property
	// ReadError, when set, is consulted before every frame with the 1-based
	// read sequence number.
	ReadError func(seq uint64) error
}

// Sim is a deterministic camera driver. Frames are BGR24 with blue = column,
// green = row and red = frame sequence, all modulo 256.
type Sim struct {
	cfg      SimConfig
	def      types.VideoMode
	accepted []types.VideoMode

	mu       sync.Mutex
	cameras  int
	indices  []int
	handles  int
	opens    int
	attempts []int
}

// NewSim builds a simulated driver. Invalid mode strings fall back to
// 640/480@30 for the default and are skipped in the accepted list.
func NewSim(cfg SimConfig) *Sim {
	s := &Sim{
		cfg:     cfg,
		cameras: cfg.Cameras,
		indices: slices.Clone(cfg.Indices),
		def:     types.NewVideoMode(640, 480, 30),
	}
	if m, err := types.ParseVideoMode(cfg.Default); err == nil {
		s.def = m
	}
	for _, str := range cfg.Modes {
		if m, err := types.ParseVideoMode(str); err == nil {
			s.accepted = append(s.accepted, m)
		}
	}
	return s
}

func (s *Sim) Name() string { return "sim" }

// present must be called with mu held.
func (s *Sim) present(index int) bool {
	if s.indices != nil {
		return slices.Contains(s.indices, index)
	}
	return index >= 0 && index < s.cameras
}

// Open returns a handle for an openable index.
func (s *Sim) Open(index int) (Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, index)
	if !s.present(index) {
		return nil, types.Errorf(types.CodeDeviceUnavailable, "sim open", "no camera at index %d", index)
	}
	s.handles++
	s.opens++
	c := &simCamera{
		sim:    s,
		index:  index,
		width:  s.def.Width,
		height: s.def.Height,
		fps:    s.def.FPS,
	}
	c.open.Store(true)
	return c, nil
}

// Describe names simulated cameras.
func (s *Sim) Describe(index int) (Description, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present(index) {
		return Description{}, false
	}
	return Description{Name: fmt.Sprintf("Simulated Camera %d", index), Bus: "sim"}, true
}

// NativeFormats reports a single BGR3 format carrying the accepted modes, or
// the default mode when any mode is accepted.
func (s *Sim) NativeFormats(index int) ([]NativeFormat, error) {
	s.mu.Lock()
	ok := s.present(index)
	s.mu.Unlock()
	if !ok {
		return nil, types.Errorf(types.CodeDeviceNotFound, "sim formats", "no camera at index %d", index)
	}
	modes := slices.Clone(s.accepted)
	if len(modes) == 0 {
		modes = []types.VideoMode{s.def}
	}
	slices.SortFunc(modes, types.VideoMode.Compare)
	return []NativeFormat{{FourCC: "BGR3", Name: "24-bit BGR 8-8-8", Convertible: true, Modes: modes}}, nil
}

// SetCameras changes how many indices are openable, simulating hotplug.
// Handles already open keep working.
func (s *Sim) SetCameras(n int) {
	s.mu.Lock()
	s.cameras = n
	s.indices = nil
	s.mu.Unlock()
}

// SetIndices makes exactly the listed indices openable.
func (s *Sim) SetIndices(indices ...int) {
	s.mu.Lock()
	s.indices = append([]int{}, indices...)
	s.mu.Unlock()
}

// Attempts returns every index passed to Open, in call order, whether or
// not the open succeeded.
func (s *Sim) Attempts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attempts)
}

// OpenHandles returns the number of handles not yet closed.
func (s *Sim) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}

// Opens returns the total number of successful opens.
func (s *Sim) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *Sim) accepts(p Property, w, h, v int32) bool {
	if v <= 0 || slices.Contains(s.cfg.Reject, p) {
		return false
	}
	// Any single dimension that cannot fit a frame is refused, whatever
	// the other one becomes.
	switch p {
	case PropFrameWidth:
		if !types.NewVideoMode(v, 1, 1).FitsFrameSize(types.MaxFrameSize) {
			return false
		}
	case PropFrameHeight:
		if !types.NewVideoMode(w, v, 1).FitsFrameSize(types.MaxFrameSize) {
			return false
		}
	}
	if len(s.accepted) == 0 {
		return true
	}
	for _, m := range s.accepted {
		switch p {
		case PropFrameWidth:
			if m.Width == v {
				return true
			}
		case PropFrameHeight:
			if m.Width == w && m.Height == v {
				return true
			}
		case PropFPS:
			if m.Width == w && m.Height == h && m.FPS == v {
				return true
			}
		}
	}
	return false
}

type simCamera struct {
	sim    *Sim
	index  int
	open   atomic.Bool
	width  int32
	height int32
	fps    int32
	fpsSet bool
	seq    uint64
}

func (c *simCamera) Get(p Property) int32 {
	switch p {
	case PropFrameWidth:
		return c.width
	case PropFrameHeight:
		return c.height
	case PropFPS:
		if c.sim.cfg.ZeroFPS && !c.fpsSet {
			return 0
		}
		return c.fps
	default:
		return 0
	}
}

func (c *simCamera) Set(p Property, v int32) bool {
	if !c.open.Load() || !c.sim.accepts(p, c.width, c.height, v) {
		return false
	}
	switch p {
	case PropFrameWidth:
		c.width = v
	case PropFrameHeight:
		c.height = v
	case PropFPS:
		c.fps = v
		if c.sim.cfg.SnapFPS > 0 {
			c.fps = c.sim.cfg.SnapFPS
		}
		c.fpsSet = true
	default:
		return false
	}
	return true
}

func (c *simCamera) Read(ctx context.Context, dst *RawFrame) error {
	if !c.open.Load() {
		return types.Errorf(types.CodeDeviceUnavailable, "sim read", "camera %d is closed", c.index)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	interval := c.sim.cfg.FrameInterval
	if interval <= 0 {
		interval = FrameInterval(c.fps, 33*time.Millisecond)
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	c.seq++
	if c.sim.cfg.ReadError != nil {
		if err := c.sim.cfg.ReadError(c.seq); err != nil {
			return err
		}
	}

	size, ok := types.NewVideoMode(c.width, c.height, c.fps).CheckedFrameSize()
	if !ok || size > types.MaxFrameSize {
		return types.Errorf(types.CodeSizeMismatch, "sim read", "frame %dx%d has no valid size", c.width, c.height)
	}
	w, h := int(c.width), int(c.height)
	dst.Width, dst.Height, dst.Stride, dst.Layout = w, h, w*3, LayoutBGR24
	dst.Grow(size)
	red := byte(c.seq)
	for y := 0; y < h; y++ {
		row := dst.Data[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			row[x*3], row[x*3+1], row[x*3+2] = byte(x), byte(y), red
		}
	}
	return nil
}

func (c *simCamera) IsOpen() bool { return c.open.Load() }

func (c *simCamera) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.sim.mu.Lock()
	c.sim.handles--
	c.sim.mu.Unlock()
	return nil
}
