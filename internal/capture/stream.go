// Package capture runs the per-stream capture loop: pull a raw frame from the
// camera, convert it to RGB888, wrap it in a reference-counted frame buffer
// and hand it to the host.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/types"
)

// FrameSink receives every produced frame. The buffer is only valid for the
// duration of the call unless the sink takes its own reference with AddRef.
type FrameSink interface {
	DeliverFrame(buf *frame.Buffer)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(buf *frame.Buffer)

// DeliverFrame calls f(buf).
func (f FrameSinkFunc) DeliverFrame(buf *frame.Buffer) { f(buf) }

// MetricsRecorder receives per-frame counters.
type MetricsRecorder interface {
	FrameDelivered()
	FrameDropped()
	ReadFailed()
	Running(bool)
}

type nopMetrics struct{}

func (nopMetrics) FrameDelivered() {}
func (nopMetrics) FrameDropped()   {}
func (nopMetrics) ReadFailed()     {}
func (nopMetrics) Running(bool)    {}

// DefaultReadBackoff is the pause after a failed pull.
const DefaultReadBackoff = 100 * time.Millisecond

// Stats is a point-in-time view of a stream.
type Stats struct {
	ID         string          `json:"id"`
	Running    bool            `json:"running"`
	Mode       types.VideoMode `json:"mode"`
	Mirroring  bool            `json:"mirroring"`
	Policy     string          `json:"policy"`
	FrameIndex uint64          `json:"frame_index"`
	Delivered  uint64          `json:"delivered"`
	Dropped    uint64          `json:"dropped"`
	Pending    int64           `json:"pending"`
}

// Stream owns one camera handle and its capture goroutine.
type Stream struct {
	id        string
	uri       string
	logger    *slog.Logger
	sink      FrameSink
	alloc     *frame.Allocator
	metrics   MetricsRecorder
	policy    PushPolicy
	timestamp TimestampSource
	backoff   time.Duration

	// camMu serializes negotiation against pulls so a mode change lands on a
	// frame boundary.
	camMu   sync.Mutex
	cam     backend.Camera
	mode    types.VideoMode
	raw     backend.RawFrame
	scratch []byte

	mirroring atomic.Bool
	stop      atomic.Bool
	running   atomic.Bool
	index     atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	pending atomic.Int64
	wake    chan struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStream wraps an open camera. The stream takes ownership of cam and
// closes it in Destroy.
func NewStream(cam backend.Camera, sink FrameSink, opts ...Option) *Stream {
	s := &Stream{
		sink:      sink,
		cam:       cam,
		alloc:     frame.DefaultAllocator(),
		metrics:   nopMetrics{},
		policy:    PushContinuous,
		timestamp: SyntheticTimestamp,
		backoff:   DefaultReadBackoff,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = logging.GetLogger("capture")
	}
	s.logger = s.logger.With("stream_id", s.id, "uri", s.uri)
	if s.sink == nil {
		s.sink = FrameSinkFunc(func(*frame.Buffer) {})
	}
	if cam != nil && cam.IsOpen() {
		s.mode = backend.DefaultMode(cam)
	}
	return s
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// URI returns the uri of the device the stream belongs to.
func (s *Stream) URI() string { return s.uri }

// Policy returns the push policy.
func (s *Stream) Policy() PushPolicy { return s.policy }

// Running reports whether the capture goroutine is active.
func (s *Stream) Running() bool { return s.running.Load() }

// Start launches the capture goroutine. Starting a running stream is a no-op.
// The first frame delivered after Start has index 1.
func (s *Stream) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.running.Load() {
		return nil
	}

	s.camMu.Lock()
	open := s.cam != nil && s.cam.IsOpen()
	s.camMu.Unlock()
	if !open {
		return types.Errorf(types.CodeDeviceUnavailable, "start", "camera for %s is not open", s.uri)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop.Store(false)
	s.index.Store(0)
	s.running.Store(true)
	s.metrics.Running(true)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop signals the capture goroutine and waits for it to exit. No frame is
// delivered after Stop returns.
func (s *Stream) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.running.Load() {
		return
	}
	s.stop.Store(true)
	s.cancel()
	s.wg.Wait()
	s.running.Store(false)
	s.metrics.Running(false)
}

// Destroy stops the stream and closes its camera handle.
func (s *Stream) Destroy() {
	s.Stop()

	s.camMu.Lock()
	defer s.camMu.Unlock()
	if s.cam == nil {
		return
	}
	if err := s.cam.Close(); err != nil {
		s.logger.Warn("Failed to close camera", "error", err)
	}
	s.cam = nil
	if c, ok := s.metrics.(interface{ Close() }); ok {
		c.Close()
	}
	s.logger.Debug("Stream destroyed")
}

// VideoMode returns the active mode.
func (s *Stream) VideoMode() types.VideoMode {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	return s.mode
}

// SetVideoMode negotiates width, height and fps as one change. If any field
// is rejected or not echoed back the previous mode is restored and
// ErrNegotiationFailed is returned.
func (s *Stream) SetVideoMode(m types.VideoMode) error {
	if m.PixelFormat == 0 {
		m.PixelFormat = types.PixelFormatRGB888
	}
	if m.PixelFormat != types.PixelFormatRGB888 {
		return types.Errorf(types.CodeNegotiationFailed, "set video mode", "pixel format %s not produced", m.PixelFormat)
	}
	if !m.FitsFrameSize(s.alloc.MaxSize()) {
		return types.Errorf(types.CodeNegotiationFailed, "set video mode", "%s exceeds the %d byte frame limit", m, s.alloc.MaxSize())
	}

	s.camMu.Lock()
	defer s.camMu.Unlock()

	if s.cam == nil || !s.cam.IsOpen() {
		return types.Errorf(types.CodeDeviceUnavailable, "set video mode", "camera for %s is not open", s.uri)
	}
	if m == s.mode {
		return nil
	}

	prev := s.mode
	if err := backend.Apply(s.cam, m); err != nil {
		if rbErr := backend.Apply(s.cam, prev); rbErr != nil {
			s.logger.Warn("Failed to restore previous mode", "mode", prev.String(), "error", rbErr)
		}
		s.logger.Info("Mode negotiation failed", "requested", m.String(), "active", prev.String(), "error", err)
		return types.NewError(types.CodeNegotiationFailed, "set video mode", m.String(), err)
	}

	s.mode = m
	s.logger.Info("Video mode changed", "from", prev.String(), "to", m.String())
	return nil
}

// Mirroring reports whether frames are flipped horizontally.
func (s *Stream) Mirroring() bool {
	return s.mirroring.Load()
}

// SetMirroring toggles horizontal flipping from the next frame on.
func (s *Stream) SetMirroring(on bool) {
	s.mirroring.Store(on)
}

// Trigger allows n more frames under the burst policy.
func (s *Stream) Trigger(n int) error {
	if s.policy != PushBurst {
		return types.Errorf(types.CodeNotImplemented, "trigger", "stream uses %s policy", s.policy)
	}
	if n <= 0 {
		return nil
	}
	s.pending.Add(int64(n))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns counters and state.
func (s *Stream) Stats() Stats {
	return Stats{
		ID:         s.id,
		Running:    s.running.Load(),
		Mode:       s.VideoMode(),
		Mirroring:  s.mirroring.Load(),
		Policy:     s.policy.String(),
		FrameIndex: s.index.Load(),
		Delivered:  s.delivered.Load(),
		Dropped:    s.dropped.Load(),
		Pending:    s.pending.Load(),
	}
}
