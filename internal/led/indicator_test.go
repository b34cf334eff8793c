package led

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camnode/internal/events"
)

type setCall struct {
	name    string
	on      bool
	pattern Pattern
}

type mockController struct {
	mu    sync.Mutex
	calls []setCall
}

func (m *mockController) Set(name string, on bool, pattern Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, setCall{name, on, pattern})
	return nil
}

func (m *mockController) Available() []string {
	return []string{"user"}
}

func (m *mockController) last() (setCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return setCall{}, 0
	}
	return m.calls[len(m.calls)-1], len(m.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func waitLit(t *testing.T, ind *Indicator, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ind.Lit() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Lit() = %v, want %v", !want, want)
}

func TestIndicatorFollowsRunningStreams(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	defer bus.Close()

	ind := NewIndicator(ctrl, "user", bus, testLogger())
	ind.Start()
	defer ind.Stop()

	if call, n := ctrl.last(); n != 1 || call.on {
		t.Fatalf("Start should switch the LED off, got %+v (%d calls)", call, n)
	}

	bus.Publish(events.StreamStateChangedEvent{URI: "camnode://camera/0", StreamID: "a", Running: true})
	bus.Publish(events.StreamStateChangedEvent{URI: "camnode://camera/1", StreamID: "b", Running: true})
	waitLit(t, ind, true)

	call, _ := ctrl.last()
	if call.name != "user" || call.pattern != PatternSolid {
		t.Errorf("last call = %+v, want solid on user", call)
	}

	bus.Publish(events.StreamStateChangedEvent{URI: "camnode://camera/0", StreamID: "a", Running: false})
	time.Sleep(20 * time.Millisecond)
	if !ind.Lit() {
		t.Fatal("LED off while stream b still runs")
	}

	bus.Publish(events.StreamStateChangedEvent{URI: "camnode://camera/1", StreamID: "b", Running: false})
	waitLit(t, ind, false)
}

func TestIndicatorDisconnectClearsStreams(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	defer bus.Close()

	ind := NewIndicator(ctrl, "user", bus, testLogger())
	ind.Start()
	defer ind.Stop()

	bus.Publish(events.StreamStateChangedEvent{URI: "camnode://camera/0", StreamID: "a", Running: true})
	waitLit(t, ind, true)

	bus.Publish(events.DeviceDisconnectedEvent{URI: "camnode://camera/0"})
	waitLit(t, ind, false)
}

func TestIndicatorStopSwitchesOff(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	defer bus.Close()

	ind := NewIndicator(ctrl, "user", bus, testLogger())
	ind.Start()
	bus.Publish(events.StreamStateChangedEvent{StreamID: "a", Running: true})
	waitLit(t, ind, true)

	ind.Stop()
	if ind.Lit() {
		t.Error("Lit() after Stop")
	}
	if call, _ := ctrl.last(); call.on {
		t.Errorf("last call after Stop = %+v", call)
	}
}
