//go:build linux && integration

package hotplug

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestMonitorIntegration is a manual test that requires actual device events.
// Run with: go test -tags=integration -v -run TestMonitorIntegration -timeout 60s
// Then plug/unplug a USB camera within the timeout.
func TestMonitorIntegration(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error: %v", err)
	}
	defer func() { _ = m.Close() }()

	// Only camera nodes
	m.AddSubsystemFilter(SubsystemVideo4Linux)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events := make(chan Event, 10)
	go func() {
		if runErr := m.Run(ctx, events); runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) && !errors.Is(runErr, context.Canceled) {
			t.Logf("Run() error: %v", runErr)
		}
	}()

	t.Log("Waiting for device events... plug/unplug a USB camera")

	select {
	case event := <-events:
		index, ok := event.VideoIndex()
		t.Logf("Received event: Action=%s DevName=%s index=%d camera=%v",
			event.Action, event.DevName, index, ok)
	case <-ctx.Done():
		t.Log("No events received (this is expected if no devices were plugged/unplugged)")
	}
}
