package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes per-stream capture stats as StreamMetricsEvent.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	last   map[string]sample
	lastMu sync.Mutex
}

type sample struct {
	delivered uint64
	at        time.Time
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
		now:      time.Now,
		last:     make(map[string]sample),
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	now := s.now()
	all := metrics.GetAllStreamStats()

	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	for streamID := range s.last {
		if _, ok := all[streamID]; !ok {
			delete(s.last, streamID)
		}
	}

	for streamID, st := range all {
		fps := 0.0
		if prev, ok := s.last[streamID]; ok && st.Delivered >= prev.delivered {
			if dt := now.Sub(prev.at).Seconds(); dt > 0 {
				fps = float64(st.Delivered-prev.delivered) / dt
			}
		}
		s.last[streamID] = sample{delivered: st.Delivered, at: now}

		s.eventBus.Publish(events.StreamMetricsEvent{
			EventType: "stream_metrics",
			URI:       st.URI,
			StreamID:  streamID,
			FPS:       strconv.FormatFloat(fps, 'f', 2, 64),
			Delivered: strconv.FormatUint(st.Delivered, 10),
			Dropped:   strconv.FormatUint(st.Dropped, 10),
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"stream-metrics": events.StreamMetricsEvent{},
	}
}
