package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/types"
)

type captured struct {
	index     uint64
	timestamp uint64
	width     int
	height    int
	first     [3]byte
	sensor    types.SensorType
}

type collector struct {
	mu     sync.Mutex
	frames []captured
	hold   []*frame.Buffer
	keep   bool
}

func (c *collector) DeliverFrame(b *frame.Buffer) {
	px := b.Pixels()
	f := captured{
		index:     b.FrameIndex,
		timestamp: b.Timestamp,
		width:     b.Width,
		height:    b.Height,
		sensor:    b.SensorType,
	}
	copy(f.first[:], px[:3])

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	if c.keep {
		c.hold = append(c.hold, b.AddRef())
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) snapshot() []captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]captured(nil), c.frames...)
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("received %d frames, want at least %d", c.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func newSim(t *testing.T, cfg backend.SimConfig) (*backend.Sim, backend.Camera) {
	t.Helper()
	if cfg.Cameras == 0 {
		cfg.Cameras = 1
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = time.Millisecond
	}
	sim := backend.NewSim(cfg)
	cam, err := sim.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sim, cam
}

func TestStreamDeliversIndexedFrames(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{}
	s := NewStream(cam, sink, WithURI("camnode://camera/0"))
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitFor(t, 5)
	s.Stop()

	frames := sink.snapshot()
	for i, f := range frames {
		want := uint64(i + 1)
		if f.index != want {
			t.Fatalf("frame %d index = %d, want %d", i, f.index, want)
		}
		if f.timestamp != want*TimestampStep {
			t.Errorf("frame %d timestamp = %d, want %d", i, f.timestamp, want*TimestampStep)
		}
		if f.width != 4 || f.height != 2 {
			t.Errorf("frame %d size = %dx%d, want 4x2", i, f.width, f.height)
		}
		if f.sensor != types.SensorColor {
			t.Errorf("frame %d sensor = %v", i, f.sensor)
		}
		// Sim pixel (0,0) is B=0 G=0 R=seq; converted to RGB the red byte leads.
		if f.first != [3]byte{byte(i + 1), 0, 0} {
			t.Errorf("frame %d first pixel = %v", i, f.first)
		}
	}

	st := s.Stats()
	if st.Running {
		t.Error("Stats.Running after Stop")
	}
	if st.Delivered != uint64(len(frames)) {
		t.Errorf("Delivered = %d, want %d", st.Delivered, len(frames))
	}
}

func TestStreamRestartResetsIndex(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{}
	s := NewStream(cam, sink)
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitFor(t, 3)
	s.Stop()
	n := sink.count()

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	sink.waitFor(t, n+1)
	s.Stop()

	if got := sink.snapshot()[n].index; got != 1 {
		t.Errorf("first index after restart = %d, want 1", got)
	}
}

func TestStreamStartClosedCamera(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{})
	cam.Close()

	s := NewStream(cam, &collector{})
	if err := s.Start(); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if s.Running() {
		t.Error("stream running after failed start")
	}

	nilCam := NewStream(nil, nil)
	if err := nilCam.Start(); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("Start without camera = %v, want ErrDeviceUnavailable", err)
	}
}

func TestStreamStopJoinsCaptureGoroutine(t *testing.T) {
	for i := 0; i < 20; i++ {
		_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})

		var stopped atomic.Bool
		var late atomic.Int32
		s := NewStream(cam, FrameSinkFunc(func(*frame.Buffer) {
			if stopped.Load() {
				late.Add(1)
			}
		}))

		if err := s.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		s.Stop()
		stopped.Store(true)

		time.Sleep(5 * time.Millisecond)
		if late.Load() != 0 {
			t.Fatalf("round %d: %d frames delivered after Stop returned", i, late.Load())
		}
		s.Destroy()
	}
}

func TestStreamStopIdempotent(t *testing.T) {
	sim, cam := newSim(t, backend.SimConfig{})
	s := NewStream(cam, &collector{})

	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Stop()
	s.Stop()
	s.Destroy()
	s.Destroy()

	if sim.OpenHandles() != 0 {
		t.Errorf("OpenHandles = %d after Destroy, want 0", sim.OpenHandles())
	}
	if err := s.Start(); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Errorf("Start after Destroy = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSetVideoMode(t *testing.T) {
	tests := []struct {
		name    string
		mode    types.VideoMode
		wantErr error
	}{
		{"accepted", types.NewVideoMode(320, 240, 30), nil},
		{"accepted fps change", types.NewVideoMode(640, 480, 15), nil},
		{"unchanged", types.NewVideoMode(640, 480, 30), nil},
		{"width rejected", types.NewVideoMode(800, 600, 30), types.ErrNegotiationFailed},
		{"height rejected", types.NewVideoMode(320, 480, 30), types.ErrNegotiationFailed},
		{"fps rejected", types.NewVideoMode(320, 240, 60), types.ErrNegotiationFailed},
		{"pixel format", types.VideoMode{Width: 320, Height: 240, FPS: 30, PixelFormat: 1}, types.ErrNegotiationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cam := newSim(t, backend.SimConfig{
				Default: "640/480@30",
				Modes:   []string{"320/240@30", "640/480@30", "640/480@15"},
			})
			s := NewStream(cam, &collector{})
			defer s.Destroy()
			prev := s.VideoMode()

			err := s.SetVideoMode(tt.mode)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("SetVideoMode(%v) = %v", tt.mode, err)
				}
				if got := s.VideoMode(); got != tt.mode {
					t.Errorf("VideoMode = %v, want %v", got, tt.mode)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetVideoMode(%v) = %v, want %v", tt.mode, err, tt.wantErr)
			}
			if got := s.VideoMode(); got != prev {
				t.Errorf("VideoMode = %v after failure, want %v", got, prev)
			}
			if got := backend.Mode(cam); got != prev {
				t.Errorf("camera left at %v, want rollback to %v", got, prev)
			}
		})
	}
}

func TestSetVideoModeRejectsOversizedFrames(t *testing.T) {
	tests := []struct {
		name string
		mode types.VideoMode
		opts []Option
	}{
		{"overflowing size", types.NewVideoMode(2147483647, 2147483647, 30), nil},
		{"above default limit", types.NewVideoMode(7680, 4321, 30), nil},
		{"above allocator limit", types.NewVideoMode(8, 8, 30), []Option{WithAllocator(frame.NewAllocator(frame.WithMaxFrameSize(100)))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No modes list: the camera itself would take any dimension.
			_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
			sink := &collector{}
			s := NewStream(cam, sink, tt.opts...)
			defer s.Destroy()

			if err := s.SetVideoMode(tt.mode); !errors.Is(err, types.ErrNegotiationFailed) {
				t.Fatalf("SetVideoMode(%v) = %v, want ErrNegotiationFailed", tt.mode, err)
			}
			if got := s.VideoMode(); got != types.NewVideoMode(4, 2, 30) {
				t.Errorf("VideoMode = %v after rejection", got)
			}
			if got := backend.Mode(cam); got != types.NewVideoMode(4, 2, 30) {
				t.Errorf("camera changed to %v", got)
			}

			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			sink.waitFor(t, 2)
			s.Stop()
		})
	}
}

func TestSetVideoModeWhileRunning(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	var mu sync.Mutex
	sizes := map[[2]int]int{}
	s := NewStream(cam, FrameSinkFunc(func(b *frame.Buffer) {
		if len(b.Pixels()) != b.Width*b.Height*3 {
			t.Errorf("frame %d: %d bytes for %dx%d", b.FrameIndex, len(b.Pixels()), b.Width, b.Height)
		}
		mu.Lock()
		sizes[[2]int{b.Width, b.Height}]++
		mu.Unlock()
	}))
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.SetVideoMode(types.NewVideoMode(8, 6, 30)); err != nil {
		t.Fatalf("SetVideoMode: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := sizes[[2]int{8, 6}]
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame in the new mode")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
}

func TestPropertyBoundary(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "640/480@30"})
	s := NewStream(cam, &collector{})
	defer s.Destroy()

	want := types.NewVideoMode(320, 240, 15)
	data, _ := want.MarshalBinary()
	if err := s.SetProperty(PropVideoMode, data); err != nil {
		t.Fatalf("SetProperty(video mode): %v", err)
	}
	out := make([]byte, types.VideoModeSize)
	n, err := s.GetProperty(PropVideoMode, out)
	if err != nil || n != types.VideoModeSize {
		t.Fatalf("GetProperty(video mode) = %d, %v", n, err)
	}
	var got types.VideoMode
	if err := got.UnmarshalBinary(out); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != want {
		t.Errorf("video mode = %v, want %v", got, want)
	}

	if err := s.SetProperty(PropMirroring, []byte{1, 0, 0, 0}); err != nil {
		t.Fatalf("SetProperty(mirroring): %v", err)
	}
	flag := make([]byte, MirroringSize)
	if _, err := s.GetProperty(PropMirroring, flag); err != nil {
		t.Fatalf("GetProperty(mirroring): %v", err)
	}
	if flag[0] != 1 || !s.Mirroring() {
		t.Errorf("mirroring = %v, want on", flag)
	}

	errTests := []struct {
		name string
		id   PropertyID
		size int
		want error
	}{
		{"mode too short", PropVideoMode, 12, types.ErrSizeMismatch},
		{"mode too long", PropVideoMode, 20, types.ErrSizeMismatch},
		{"mirroring size", PropMirroring, 1, types.ErrSizeMismatch},
		{"unknown", PropertyID(42), 4, types.ErrNotImplemented},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			if _, err := s.GetProperty(tt.id, buf); !errors.Is(err, tt.want) {
				t.Errorf("GetProperty = %v, want %v", err, tt.want)
			}
			if err := s.SetProperty(tt.id, buf); !errors.Is(err, tt.want) {
				t.Errorf("SetProperty = %v, want %v", err, tt.want)
			}
		})
	}

	if !s.IsPropertySupported(PropVideoMode) || !s.IsPropertySupported(PropMirroring) {
		t.Error("stream properties reported unsupported")
	}
	if s.IsPropertySupported(PropertyID(42)) {
		t.Error("unknown property reported supported")
	}
	if got := s.VideoMode(); got != want {
		t.Errorf("failed property calls changed mode to %v", got)
	}
}

func TestMirroringFlipsFrames(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{}
	s := NewStream(cam, sink)
	defer s.Destroy()
	s.SetMirroring(true)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitFor(t, 1)
	s.Stop()

	f := sink.snapshot()[0]
	// Mirrored, pixel 0 comes from column 3: B=3 G=0 R=seq.
	if f.first != [3]byte{byte(f.index), 0, 3} {
		t.Errorf("first pixel = %v, want [%d 0 3]", f.first, f.index)
	}
}

func TestBurstPolicy(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{}
	s := NewStream(cam, sink, WithPushPolicy(PushBurst))
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := sink.count(); n != 0 {
		t.Fatalf("%d frames without a trigger", n)
	}

	if err := s.Trigger(3); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	sink.waitFor(t, 3)
	time.Sleep(20 * time.Millisecond)
	if n := sink.count(); n != 3 {
		t.Errorf("%d frames for 3 triggers", n)
	}

	s.Stop()
	if st := s.Stats(); st.Pending != 0 || st.Policy != "burst" {
		t.Errorf("stats = %+v", st)
	}
}

func TestTriggerContinuous(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{})
	s := NewStream(cam, nil)
	defer s.Destroy()
	if err := s.Trigger(1); !errors.Is(err, types.ErrNotImplemented) {
		t.Errorf("Trigger = %v, want ErrNotImplemented", err)
	}
}

func TestAllocationFailureDropsFrame(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	alloc := frame.NewAllocator(frame.WithAllocFunc(func(n int) ([]byte, error) {
		if fail.Load() {
			return nil, errors.New("no memory")
		}
		return make([]byte, n), nil
	}))

	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{}
	s := NewStream(cam, sink, WithAllocator(alloc))
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("frame delivered although allocation failed")
	}

	fail.Store(false)
	sink.waitFor(t, 1)
	s.Stop()

	st := s.Stats()
	if st.Dropped == 0 {
		t.Error("Dropped = 0, want allocation failures counted")
	}
	if first := sink.snapshot()[0].index; first != 1 {
		t.Errorf("first delivered index = %d, want 1", first)
	}
}

func TestReadErrorsAreSkipped(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{
		Default: "4/2@30",
		ReadError: func(seq uint64) error {
			if seq%2 == 0 {
				return errors.New("transient")
			}
			return nil
		},
	})
	sink := &collector{}
	rec := &countingMetrics{}
	s := NewStream(cam, sink, WithReadBackoff(time.Millisecond), WithMetrics(rec))
	defer s.Destroy()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitFor(t, 3)
	s.Stop()

	if rec.readFailed.Load() == 0 {
		t.Error("read failures not recorded")
	}
	if rec.delivered.Load() != int64(sink.count()) {
		t.Errorf("delivered metric = %d, sink saw %d", rec.delivered.Load(), sink.count())
	}
	if rec.running.Load() {
		t.Error("running gauge still set after Stop")
	}
}

func TestHeldBuffersOutliveDelivery(t *testing.T) {
	alloc := frame.NewAllocator()
	_, cam := newSim(t, backend.SimConfig{Default: "4/2@30"})
	sink := &collector{keep: true}
	s := NewStream(cam, sink, WithAllocator(alloc))

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink.waitFor(t, 4)
	s.Destroy()

	sink.mu.Lock()
	held := sink.hold
	sink.hold = nil
	sink.mu.Unlock()

	if alloc.Live() != int64(len(held)) {
		t.Fatalf("Live = %d, want %d held buffers", alloc.Live(), len(held))
	}
	for _, b := range held {
		if b.Pixels() == nil {
			t.Fatal("held buffer freed")
		}
		b.Release()
	}
	if alloc.Live() != 0 {
		t.Errorf("Live = %d after releasing all holds", alloc.Live())
	}
}

type countingMetrics struct {
	delivered  atomic.Int64
	dropped    atomic.Int64
	readFailed atomic.Int64
	running    atomic.Bool
	closed     atomic.Bool
}

func (m *countingMetrics) FrameDelivered() { m.delivered.Add(1) }
func (m *countingMetrics) FrameDropped()   { m.dropped.Add(1) }
func (m *countingMetrics) ReadFailed()     { m.readFailed.Add(1) }
func (m *countingMetrics) Running(on bool) { m.running.Store(on) }
func (m *countingMetrics) Close()          { m.closed.Store(true) }

func TestDestroyClosesMetrics(t *testing.T) {
	_, cam := newSim(t, backend.SimConfig{})
	rec := &countingMetrics{}
	s := NewStream(cam, nil, WithMetrics(rec), WithID("fixed-id"))
	if s.ID() != "fixed-id" {
		t.Errorf("ID = %q", s.ID())
	}
	s.Destroy()
	if !rec.closed.Load() {
		t.Error("metrics recorder not closed")
	}
}

func TestParsePolicyAndTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    PushPolicy
		wantErr bool
	}{
		{"", PushContinuous, false},
		{"continuous", PushContinuous, false},
		{" Burst ", PushBurst, false},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePushPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePushPolicy(%q) = %v, %v", tt.in, got, err)
		}
	}

	ts, err := ParseTimestampSource("synthetic")
	if err != nil || ts(10) != 33000 {
		t.Errorf("synthetic source: %v", err)
	}
	if _, err := ParseTimestampSource("monotonic"); err != nil {
		t.Errorf("monotonic source: %v", err)
	}
	if _, err := ParseTimestampSource("gps"); err == nil {
		t.Error("unknown source accepted")
	}
}
