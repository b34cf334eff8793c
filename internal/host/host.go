// Package host is the frame consumer side of camnode. It owns one capture
// stream per opened device, keeps the latest frame for snapshots, fans frames
// out to websocket clients and publishes stream state changes.
package host

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/types"
)

// Publisher publishes host events.
type Publisher interface {
	Publish(ev events.Event)
}

// Session is the host-side state for one device.
type Session struct {
	uri    string
	dev    *devices.Device
	stream *capture.Stream
	latest Latest
	hub    *Hub
}

// DeliverFrame implements capture.FrameSink.
func (s *Session) DeliverFrame(buf *frame.Buffer) {
	s.latest.Store(buf)
	s.hub.Broadcast(buf)
}

// URI returns the device uri.
func (s *Session) URI() string { return s.uri }

// Stream returns the capture stream.
func (s *Session) Stream() *capture.Stream { return s.stream }

// Hub returns the websocket fan-out.
func (s *Session) Hub() *Hub { return s.hub }

// Option configures a Host.
type Option func(*Host)

// WithStreamOptions adds options to every stream the host creates.
func WithStreamOptions(opts ...capture.Option) Option {
	return func(h *Host) {
		h.streamOpts = append(h.streamOpts, opts...)
	}
}

// WithLogger overrides the "host" module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithClock overrides the event timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
	}
}

// Host maps device uris to sessions.
type Host struct {
	registry   *devices.Registry
	bus        Publisher
	logger     *slog.Logger
	streamOpts []capture.Option
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a host over registry. bus may be nil.
func New(registry *devices.Registry, bus Publisher, opts ...Option) *Host {
	h := &Host{
		registry: registry,
		bus:      bus,
		logger:   logging.GetLogger("host"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the device registry.
func (h *Host) Registry() *devices.Registry { return h.registry }

// Session returns the session for uri, opening the device and creating its
// color stream on first use.
func (h *Host) Session(uri string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[uri]; ok {
		return s, nil
	}

	dev, err := h.registry.Open(uri)
	if err != nil {
		return nil, err
	}

	s := &Session{uri: uri, dev: dev, hub: NewHub(h.logger.With("uri", uri))}
	stream, err := dev.CreateStream(types.SensorColor, s, h.streamOpts...)
	if err != nil {
		if len(dev.Streams()) == 0 {
			_ = h.registry.Close(dev)
		}
		return nil, err
	}
	s.stream = stream
	h.sessions[uri] = s

	h.logger.Info("Session opened", "uri", uri, "stream_id", stream.ID())
	return s, nil
}

func (h *Host) existing(op, uri string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[uri]
	if !ok {
		return nil, types.Errorf(types.CodeDeviceNotFound, op, "%s has no open stream", uri)
	}
	return s, nil
}

// Sessions returns the open sessions ordered by uri.
func (h *Host) Sessions() []*Session {
	h.mu.Lock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].uri < out[j].uri })
	return out
}

// Start starts the stream on uri, opening the device if needed.
func (h *Host) Start(uri string) (capture.Stats, error) {
	s, err := h.Session(uri)
	if err != nil {
		return capture.Stats{}, err
	}
	if err := s.stream.Start(); err != nil {
		return capture.Stats{}, err
	}
	h.publishState(s)
	return s.stream.Stats(), nil
}

// Stop stops the stream on uri. The device stays open.
func (h *Host) Stop(uri string) (capture.Stats, error) {
	s, err := h.existing("stop", uri)
	if err != nil {
		return capture.Stats{}, err
	}
	s.stream.Stop()
	h.publishState(s)
	return s.stream.Stats(), nil
}

// Stats returns the stream statistics for uri.
func (h *Host) Stats(uri string) (capture.Stats, error) {
	s, err := h.existing("stats", uri)
	if err != nil {
		return capture.Stats{}, err
	}
	return s.stream.Stats(), nil
}

// SetMode negotiates m on the stream for uri.
func (h *Host) SetMode(uri string, m types.VideoMode) (capture.Stats, error) {
	s, err := h.Session(uri)
	if err != nil {
		return capture.Stats{}, err
	}
	if err := s.stream.SetVideoMode(m); err != nil {
		return s.stream.Stats(), err
	}
	h.publishState(s)
	return s.stream.Stats(), nil
}

// SetMirroring toggles horizontal mirroring on the stream for uri.
func (h *Host) SetMirroring(uri string, on bool) (capture.Stats, error) {
	s, err := h.Session(uri)
	if err != nil {
		return capture.Stats{}, err
	}
	s.stream.SetMirroring(on)
	h.publishState(s)
	return s.stream.Stats(), nil
}

// Trigger requests n frames from a burst stream.
func (h *Host) Trigger(uri string, n int) (capture.Stats, error) {
	s, err := h.existing("trigger", uri)
	if err != nil {
		return capture.Stats{}, err
	}
	if err := s.stream.Trigger(n); err != nil {
		return s.stream.Stats(), err
	}
	return s.stream.Stats(), nil
}

// Snapshot returns the latest frame of uri with a reference the caller must
// release.
func (h *Host) Snapshot(uri string) (*frame.Buffer, error) {
	s, err := h.existing("snapshot", uri)
	if err != nil {
		return nil, err
	}
	buf := s.latest.Load()
	if buf == nil {
		return nil, types.Errorf(types.CodeDeviceUnavailable, "snapshot", "%s has not produced a frame", uri)
	}
	return buf, nil
}

// ServeFrames streams frames of uri over a websocket until the client
// disconnects or the device is closed.
func (h *Host) ServeFrames(uri string, w http.ResponseWriter, r *http.Request) error {
	s, err := h.existing("frames", uri)
	if err != nil {
		return err
	}
	return s.hub.ServeWS(w, r)
}

// Close tears down the session for uri and closes the device.
func (h *Host) Close(uri string) error {
	h.mu.Lock()
	s, ok := h.sessions[uri]
	delete(h.sessions, uri)
	h.mu.Unlock()

	if ok {
		h.teardown(s)
	}
	return h.registry.CloseURI(uri)
}

func (h *Host) teardown(s *Session) {
	s.hub.Close()
	s.stream.Stop()
	s.latest.Clear()
	h.publishState(s)
	s.dev.DestroyStream(s.stream)
	h.logger.Info("Session closed", "uri", s.uri)
}

// Shutdown closes every session and then the registry.
func (h *Host) Shutdown() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		h.teardown(s)
	}
	h.registry.Shutdown()
}

func (h *Host) publishState(s *Session) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.StreamStateChangedEvent{
		URI:       s.uri,
		StreamID:  s.stream.ID(),
		Running:   s.stream.Running(),
		Mode:      s.stream.VideoMode().String(),
		Mirroring: s.stream.Mirroring(),
		Timestamp: h.stamp(),
	})
}

func (h *Host) stamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
