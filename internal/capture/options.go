package capture

import (
	"log/slog"
	"time"

	"github.com/smazurov/camnode/internal/frame"
)

// Option configures a Stream.
type Option func(*Stream)

// WithID sets the stream identifier. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(s *Stream) { s.id = id }
}

// WithURI records the owning device uri for logs and metrics.
func WithURI(uri string) Option {
	return func(s *Stream) { s.uri = uri }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// WithPushPolicy selects continuous or burst delivery.
func WithPushPolicy(p PushPolicy) Option {
	return func(s *Stream) { s.policy = p }
}

// WithTimestampSource replaces the synthetic timestamp.
func WithTimestampSource(ts TimestampSource) Option {
	return func(s *Stream) {
		if ts != nil {
			s.timestamp = ts
		}
	}
}

// WithMetrics attaches a metrics recorder. If it also has a Close method, it
// is called from Destroy.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Stream) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAllocator sets where frame buffers come from.
func WithAllocator(a *frame.Allocator) Option {
	return func(s *Stream) {
		if a != nil {
			s.alloc = a
		}
	}
}

// WithReadBackoff sets the pause after a failed pull.
func WithReadBackoff(d time.Duration) Option {
	return func(s *Stream) { s.backoff = d }
}
