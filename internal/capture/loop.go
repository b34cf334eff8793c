package capture

import (
	"context"
	"time"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/types"
)

func (s *Stream) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("Capture started", "mode", s.VideoMode().String(), "policy", s.policy.String())
	defer s.logger.Info("Capture stopped", "frames", s.index.Load())

	for !s.stop.Load() {
		if s.policy == PushBurst && !s.awaitTrigger(ctx) {
			return
		}
		if err := s.produce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.policy == PushBurst {
				s.pending.Add(1)
			}
			s.logger.Warn("Frame pull failed", "error", err)
			s.dropped.Add(1)
			s.metrics.ReadFailed()
			s.metrics.FrameDropped()
			s.sleep(ctx, s.backoff)
		}
	}
}

// awaitTrigger consumes one pending trigger, blocking until one arrives or the
// stream stops.
func (s *Stream) awaitTrigger(ctx context.Context) bool {
	for {
		if p := s.pending.Load(); p > 0 {
			if s.pending.CompareAndSwap(p, p-1) {
				return true
			}
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.wake:
		}
	}
}

func (s *Stream) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// produce pulls, converts and delivers one frame. Only pull failures are
// returned; allocation failures drop the frame.
func (s *Stream) produce(ctx context.Context) error {
	mirror := s.mirroring.Load()

	s.camMu.Lock()
	mode := s.mode
	if s.cam == nil {
		s.camMu.Unlock()
		return types.Errorf(types.CodeDeviceUnavailable, "capture", "camera closed")
	}
	err := s.cam.Read(ctx, &s.raw)
	if err == nil {
		err = backend.ToRGB(s.scratchFor(mode), &s.raw, mirror)
	}
	s.camMu.Unlock()
	if err != nil {
		return err
	}

	buf, err := s.alloc.Acquire(len(s.scratch))
	if err != nil {
		s.logger.Warn("Frame dropped", "error", err)
		s.dropped.Add(1)
		s.metrics.FrameDropped()
		return nil
	}
	copy(buf.Pixels(), s.scratch)

	idx := s.index.Add(1)
	buf.Width = int(mode.Width)
	buf.Height = int(mode.Height)
	buf.Stride = mode.Stride()
	buf.Mode = mode
	buf.SensorType = types.SensorColor
	buf.FrameIndex = idx
	buf.Timestamp = s.timestamp(idx)

	s.sink.DeliverFrame(buf)
	buf.Release()

	s.delivered.Add(1)
	s.metrics.FrameDelivered()
	return nil
}

func (s *Stream) scratchFor(mode types.VideoMode) []byte {
	n := mode.FrameSize()
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	s.scratch = s.scratch[:n]
	return s.scratch
}
