package capture

import (
	"fmt"
	"strings"
	"time"
)

// PushPolicy decides when the capture loop produces frames.
type PushPolicy int

const (
	// PushContinuous produces frames as fast as the camera delivers them.
	PushContinuous PushPolicy = iota
	// PushBurst produces one frame per pending trigger.
	PushBurst
)

func (p PushPolicy) String() string {
	switch p {
	case PushContinuous:
		return "continuous"
	case PushBurst:
		return "burst"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePushPolicy maps "continuous" or "burst" to a policy. Empty means
// continuous.
func ParsePushPolicy(s string) (PushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous":
		return PushContinuous, nil
	case "burst":
		return PushBurst, nil
	default:
		return 0, fmt.Errorf("unknown push policy %q", s)
	}
}

// TimestampSource stamps a frame given its index.
type TimestampSource func(index uint64) uint64

// TimestampStep is the synthetic per-frame timestamp increment.
const TimestampStep = 3300

// SyntheticTimestamp returns index × TimestampStep. It is not a capture clock.
func SyntheticTimestamp(index uint64) uint64 {
	return index * TimestampStep
}

// MonotonicTimestamp returns a source yielding microseconds elapsed since
// start.
func MonotonicTimestamp(start time.Time) TimestampSource {
	return func(uint64) uint64 {
		return uint64(time.Since(start).Microseconds())
	}
}

// ParseTimestampSource maps "synthetic" or "monotonic" to a source.
func ParseTimestampSource(s string) (TimestampSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "synthetic":
		return SyntheticTimestamp, nil
	case "monotonic":
		return MonotonicTimestamp(time.Now()), nil
	default:
		return nil, fmt.Errorf("unknown timestamp source %q", s)
	}
}
