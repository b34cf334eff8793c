// Package metrics provides Prometheus metrics for capture streams and the
// device registry.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "capture",
		Name:      "frames_delivered_total",
		Help:      "Frames handed to the host sink",
	}, []string{"uri", "stream_id"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "capture",
		Name:      "frames_dropped_total",
		Help:      "Frames lost to read, convert or allocation failures",
	}, []string{"uri", "stream_id"})

	readErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "capture",
		Name:      "read_errors_total",
		Help:      "Failed driver reads",
	}, []string{"uri", "stream_id"})

	streamRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "capture",
		Name:      "stream_running",
		Help:      "1 while the capture loop is running",
	}, []string{"uri", "stream_id"})

	// Local cache for SSE exporter access.
	streamCache   = make(map[string]*StreamStats)
	streamCacheMu sync.RWMutex
)

// StreamStats holds current counter values for a stream.
type StreamStats struct {
	URI       string
	Delivered uint64
	Dropped   uint64
	Errors    uint64
	Running   bool
	LastFrame time.Time
}

// Recorder feeds one stream's counters. It satisfies capture.MetricsRecorder.
type Recorder struct {
	uri      string
	streamID string

	delivered prometheus.Counter
	dropped   prometheus.Counter
	errors    prometheus.Counter
	running   prometheus.Gauge
}

// NewRecorder creates a recorder for the stream identified by streamID.
func NewRecorder(uri, streamID string) *Recorder {
	updateCache(streamID, func(s *StreamStats) { s.URI = uri })
	return &Recorder{
		uri:       uri,
		streamID:  streamID,
		delivered: framesDelivered.WithLabelValues(uri, streamID),
		dropped:   framesDropped.WithLabelValues(uri, streamID),
		errors:    readErrors.WithLabelValues(uri, streamID),
		running:   streamRunning.WithLabelValues(uri, streamID),
	}
}

// StreamID returns the stream label.
func (r *Recorder) StreamID() string {
	return r.streamID
}

// FrameDelivered counts one frame handed to the sink.
func (r *Recorder) FrameDelivered() {
	r.delivered.Inc()
	now := time.Now()
	updateCache(r.streamID, func(s *StreamStats) {
		s.Delivered++
		s.LastFrame = now
	})
}

// FrameDropped counts one frame that never reached the sink.
func (r *Recorder) FrameDropped() {
	r.dropped.Inc()
	updateCache(r.streamID, func(s *StreamStats) { s.Dropped++ })
}

// ReadFailed counts a failed driver read.
func (r *Recorder) ReadFailed() {
	r.errors.Inc()
	updateCache(r.streamID, func(s *StreamStats) { s.Errors++ })
}

// Running records the capture loop state.
func (r *Recorder) Running(on bool) {
	v := 0.0
	if on {
		v = 1
	}
	r.running.Set(v)
	updateCache(r.streamID, func(s *StreamStats) { s.Running = on })
}

// Close removes the stream's series and cache entry.
func (r *Recorder) Close() {
	DeleteStreamMetrics(r.uri, r.streamID)
}

// DeleteStreamMetrics removes all metrics for a stream.
func DeleteStreamMetrics(uri, streamID string) {
	framesDelivered.DeleteLabelValues(uri, streamID)
	framesDropped.DeleteLabelValues(uri, streamID)
	readErrors.DeleteLabelValues(uri, streamID)
	streamRunning.DeleteLabelValues(uri, streamID)

	streamCacheMu.Lock()
	delete(streamCache, streamID)
	streamCacheMu.Unlock()
}

func updateCache(streamID string, fn func(*StreamStats)) {
	streamCacheMu.Lock()
	defer streamCacheMu.Unlock()
	s, ok := streamCache[streamID]
	if !ok {
		s = &StreamStats{}
		streamCache[streamID] = s
	}
	fn(s)
}

// GetStreamStats returns a copy of the cached stats for a stream, or nil.
func GetStreamStats(streamID string) *StreamStats {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	s, ok := streamCache[streamID]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

// GetAllStreamStats returns copies of every cached stream's stats.
func GetAllStreamStats() map[string]StreamStats {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	out := make(map[string]StreamStats, len(streamCache))
	for id, s := range streamCache {
		out[id] = *s
	}
	return out
}

var liveBuffersFn atomic.Pointer[func() int64]

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: "camnode",
	Subsystem: "frame",
	Name:      "live_buffers",
	Help:      "Frame buffers acquired and not yet released",
}, func() float64 {
	if fn := liveBuffersFn.Load(); fn != nil {
		return float64((*fn)())
	}
	return 0
})

// SetLiveBuffersFunc sets the source for the live buffer gauge, typically
// (*frame.Allocator).Live.
func SetLiveBuffersFunc(fn func() int64) {
	if fn == nil {
		liveBuffersFn.Store(nil)
		return
	}
	liveBuffersFn.Store(&fn)
}
