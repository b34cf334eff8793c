package host

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/types"
)

const cam0 = "camnode://camera/0"

type recordingBus struct {
	mu     sync.Mutex
	states []events.StreamStateChangedEvent
}

func (b *recordingBus) Publish(ev events.Event) {
	if e, ok := ev.(events.StreamStateChangedEvent); ok {
		b.mu.Lock()
		b.states = append(b.states, e)
		b.mu.Unlock()
	}
}

func (b *recordingBus) snapshot() []events.StreamStateChangedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.StreamStateChangedEvent(nil), b.states...)
}

func newHost(t *testing.T, opts ...Option) (*Host, *backend.Sim, *recordingBus) {
	t.Helper()
	sim := backend.NewSim(backend.SimConfig{
		Cameras:       1,
		Default:       "8/4@30",
		FrameInterval: time.Millisecond,
	})
	reg := devices.NewRegistry(devices.DefaultRegistryConfig(), sim, devices.NopNotifier{})
	if err := reg.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	bus := &recordingBus{}
	h := New(reg, bus, opts...)
	t.Cleanup(h.Shutdown)
	return h, sim, bus
}

func waitSnapshot(t *testing.T, h *Host, uri string) *frame.Buffer {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if buf, err := h.Snapshot(uri); err == nil {
			return buf
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no frame produced")
	return nil
}

func TestEncodeFrameSaturatesHeader(t *testing.T) {
	a := frame.NewAllocator()
	buf, err := a.Acquire(3)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer buf.Release()

	tests := []struct {
		name          string
		width, height int
		index         uint64
		wantW, wantH  uint16
		wantIndex     uint32
	}{
		{"in range", 65535, 1, 1<<32 - 1, 65535, 1, 1<<32 - 1},
		{"wide", 70000, 1, 5, 65535, 1, 5},
		{"tall", 1, 1 << 20, 5, 1, 65535, 5},
		{"index past uint32", 2, 2, 1 << 40, 2, 2, 1<<32 - 1},
		{"negative", -1, 2, 0, 0, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Width, buf.Height, buf.FrameIndex = tt.width, tt.height, tt.index
			msg := EncodeFrame(buf)
			if len(msg) != HeaderSize+3 {
				t.Fatalf("len = %d", len(msg))
			}
			if w, h := binary.LittleEndian.Uint16(msg[0:]), binary.LittleEndian.Uint16(msg[2:]); w != tt.wantW || h != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
			if idx := binary.LittleEndian.Uint32(msg[4:]); idx != tt.wantIndex {
				t.Errorf("index = %d, want %d", idx, tt.wantIndex)
			}
		})
	}
}

func TestLatestHoldsReference(t *testing.T) {
	a := frame.NewAllocator()
	first, err := a.Acquire(12)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var l Latest
	if l.Load() != nil {
		t.Fatal("empty Latest returned a frame")
	}

	l.Store(first)
	first.Release()
	if a.Live() != 1 {
		t.Fatalf("Live() = %d after producer release, want 1", a.Live())
	}

	got := l.Load()
	if got != first || got.Refs() != 2 {
		t.Fatalf("Load() = %p refs %d", got, got.Refs())
	}
	got.Release()

	second, _ := a.Acquire(12)
	l.Store(second)
	second.Release()
	if a.Freed() != 1 {
		t.Errorf("Freed() = %d, previous frame should be released", a.Freed())
	}

	l.Clear()
	if a.Live() != 0 {
		t.Errorf("Live() = %d after Clear", a.Live())
	}
}

func TestEncodeFrame(t *testing.T) {
	a := frame.NewAllocator()
	buf, err := a.Acquire(2 * 1 * 3)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer buf.Release()
	buf.Width, buf.Height, buf.FrameIndex, buf.Timestamp = 2, 1, 7, 7*capture.TimestampStep
	copy(buf.Pixels(), []byte{1, 2, 3, 4, 5, 6})

	msg := EncodeFrame(buf)
	if len(msg) != HeaderSize+6 {
		t.Fatalf("len = %d", len(msg))
	}
	if w, h := binary.LittleEndian.Uint16(msg[0:]), binary.LittleEndian.Uint16(msg[2:]); w != 2 || h != 1 {
		t.Errorf("size = %dx%d", w, h)
	}
	if idx := binary.LittleEndian.Uint32(msg[4:]); idx != 7 {
		t.Errorf("index = %d", idx)
	}
	if ts := binary.LittleEndian.Uint64(msg[8:]); ts != 23100 {
		t.Errorf("timestamp = %d", ts)
	}
	if msg[HeaderSize] != 1 || msg[len(msg)-1] != 6 {
		t.Errorf("pixels = %v", msg[HeaderSize:])
	}
}

func TestHostStartSnapshotStop(t *testing.T) {
	h, _, bus := newHost(t)

	stats, err := h.Start(cam0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !stats.Running || stats.Mode != types.NewVideoMode(8, 4, 30) {
		t.Errorf("stats = %+v", stats)
	}

	buf := waitSnapshot(t, h, cam0)
	if buf.Width != 8 || buf.Height != 4 || buf.Size() != 8*4*3 || buf.FrameIndex == 0 {
		t.Errorf("snapshot %dx%d size %d index %d", buf.Width, buf.Height, buf.Size(), buf.FrameIndex)
	}
	buf.Release()

	stats, err = h.Stop(cam0)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stats.Running {
		t.Error("still running after Stop")
	}

	states := bus.snapshot()
	if len(states) != 2 || !states[0].Running || states[1].Running || states[0].Mode != "8/4@30" {
		t.Errorf("state events = %+v", states)
	}
	if len(h.Sessions()) != 1 {
		t.Errorf("Sessions() = %d, device should stay open", len(h.Sessions()))
	}
}

func TestHostUnknownURI(t *testing.T) {
	h, _, _ := newHost(t)

	if _, err := h.Start("camnode://camera/9"); !errors.Is(err, types.ErrDeviceNotFound) {
		t.Errorf("Start(unknown) = %v, want ErrDeviceNotFound", err)
	}
	if _, err := h.Stop(cam0); !errors.Is(err, types.ErrDeviceNotFound) {
		t.Errorf("Stop(unopened) = %v, want ErrDeviceNotFound", err)
	}
	if _, err := h.Snapshot(cam0); !errors.Is(err, types.ErrDeviceNotFound) {
		t.Errorf("Snapshot(unopened) = %v, want ErrDeviceNotFound", err)
	}
}

func TestHostCloseReleasesEverything(t *testing.T) {
	alloc := frame.NewAllocator()
	h, sim, bus := newHost(t, WithStreamOptions(capture.WithAllocator(alloc)))

	if _, err := h.Start(cam0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitSnapshot(t, h, cam0).Release()

	if err := h.Close(cam0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if alloc.Live() != 0 {
		t.Errorf("Live() = %d after Close", alloc.Live())
	}
	if sim.OpenHandles() != 0 {
		t.Errorf("OpenHandles() = %d after Close", sim.OpenHandles())
	}
	if rec, _ := h.Registry().Record(cam0); rec.State != devices.StateConnected {
		t.Errorf("state = %v, want connected", rec.State)
	}
	if last := bus.snapshot(); last[len(last)-1].Running {
		t.Error("final state event reports running")
	}
}

func TestHostModeAndMirroring(t *testing.T) {
	h, _, _ := newHost(t)

	stats, err := h.SetMode(cam0, types.NewVideoMode(4, 2, 15))
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if stats.Mode != types.NewVideoMode(4, 2, 15) {
		t.Errorf("mode = %v", stats.Mode)
	}

	stats, err = h.SetMirroring(cam0, true)
	if err != nil || !stats.Mirroring {
		t.Errorf("SetMirroring = %+v, %v", stats, err)
	}

	if _, err := h.SetMode(cam0, types.VideoMode{Width: 4, Height: 2, FPS: 15, PixelFormat: 99}); !errors.Is(err, types.ErrNegotiationFailed) {
		t.Errorf("SetMode(bad format) = %v", err)
	}
	if _, err := h.Trigger(cam0, 1); !errors.Is(err, types.ErrNotImplemented) {
		t.Errorf("Trigger on continuous stream = %v", err)
	}
}

func TestHostServeFrames(t *testing.T) {
	h, _, _ := newHost(t)
	if _, err := h.Start(cam0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeFrames(cam0, w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage || len(msg) != HeaderSize+8*4*3 {
		t.Fatalf("message kind %d len %d", kind, len(msg))
	}
	if binary.LittleEndian.Uint16(msg[0:]) != 8 || binary.LittleEndian.Uint32(msg[4:]) == 0 {
		t.Errorf("header = %v", msg[:HeaderSize])
	}

	if err := h.Close(cam0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHubSkipsSlowClients(t *testing.T) {
	hub := NewHub(nil)
	c := &client{send: make(chan []byte, clientQueue)}
	hub.clients[c] = struct{}{}

	a := frame.NewAllocator()
	buf, _ := a.Acquire(3)
	defer buf.Release()
	buf.Width, buf.Height = 1, 1

	for i := 0; i < clientQueue+3; i++ {
		hub.Broadcast(buf)
	}
	if hub.Skipped() != 3 {
		t.Errorf("Skipped() = %d, want 3", hub.Skipped())
	}

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d after Close", hub.Clients())
	}
	hub.Broadcast(buf)
}

func TestEncodePNG(t *testing.T) {
	a := frame.NewAllocator()
	buf, _ := a.Acquire(2 * 1 * 3)
	defer buf.Release()
	buf.Width, buf.Height = 2, 1
	copy(buf.Pixels(), []byte{255, 0, 0, 0, 0, 255})

	var out bytes.Buffer
	if err := EncodePNG(&out, buf); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, err := png.Decode(&out)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if r, g, b, _ := img.At(0, 0).RGBA(); r>>8 != 255 || g != 0 || b != 0 {
		t.Errorf("pixel 0 = %d,%d,%d", r>>8, g, b)
	}
	if r, _, b, _ := img.At(1, 0).RGBA(); r != 0 || b>>8 != 255 {
		t.Errorf("pixel 1 = %d,%d", r, b>>8)
	}
}
