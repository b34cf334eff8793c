package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camnode/internal/devices"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceConnectedEvent, 1)

	unsub := bus.Subscribe(func(e DeviceConnectedEvent) {
		received <- e
	})
	defer unsub()

	event := DeviceConnectedEvent{
		URI:       "camnode://camera/0",
		Name:      "HD Webcam",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.URI != event.URI {
		t.Errorf("Expected uri %s, got %s", event.URI, got.URI)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan StreamStateChangedEvent, 1)
	received2 := make(chan StreamStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e StreamStateChangedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e StreamStateChangedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(StreamStateChangedEvent{URI: "camnode://camera/0", StreamID: "s1", Running: true})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceDisconnectedEvent, 1)

	unsub := bus.Subscribe(func(e DeviceDisconnectedEvent) {
		received <- e
	})

	bus.Publish(DeviceDisconnectedEvent{URI: "camnode://camera/0"})
	<-received

	unsub()

	bus.Publish(DeviceDisconnectedEvent{URI: "camnode://camera/1"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandlerIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	const n = 100

	var mu sync.Mutex
	seen := 0
	done := make(chan struct{})
	unsub := bus.Subscribe(func(LogEntryEvent) {
		mu.Lock()
		seen++
		if seen == n {
			close(done)
		}
		mu.Unlock()
	})
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(LogEntryEvent{Level: "info", Module: "test", Message: "hello"})
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("received %d of %d events", seen, n)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub := SubscribeToChannel[DeviceStateChangedEvent](bus, ch)
	defer unsub()

	bus.Publish(DeviceStateChangedEvent{URI: "camnode://camera/0", State: "opened"})

	select {
	case ev := <-ch:
		e, ok := ev.(DeviceStateChangedEvent)
		if !ok {
			t.Fatalf("got %T, want DeviceStateChangedEvent", ev)
		}
		if e.State != "opened" {
			t.Errorf("State = %q, want opened", e.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDeviceNotifier(t *testing.T) {
	bus := New()
	fixed := time.Date(2025, 1, 27, 10, 30, 0, 0, time.UTC)
	n := NewDeviceNotifier(bus)
	n.now = func() time.Time { return fixed }

	connected := make(chan DeviceConnectedEvent, 1)
	states := make(chan DeviceStateChangedEvent, 1)
	defer bus.Subscribe(func(e DeviceConnectedEvent) { connected <- e })()
	defer bus.Subscribe(func(e DeviceStateChangedEvent) { states <- e })()

	n.DeviceConnected(devices.Record{URI: "camnode://camera/2", Name: "Cam", Vendor: "camnode", Index: 2})
	n.DeviceStateChanged("camnode://camera/2", devices.StateOpened)

	got := <-connected
	if got.Index != 2 || got.Timestamp != "2025-01-27T10:30:00Z" {
		t.Errorf("connected event = %+v", got)
	}
	st := <-states
	if st.State != devices.StateOpened.String() {
		t.Errorf("state = %q, want %q", st.State, devices.StateOpened.String())
	}
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(StreamMetricsEvent{EventType: "stream_metrics", StreamID: "abc", FPS: "30.00"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"type", "stream_id", "fps", "delivered", "dropped"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}
