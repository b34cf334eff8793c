package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Delivery is asynchronous; each
// subscriber receives events in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case DeviceConnectedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamMetricsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a typed handler such as func(DeviceConnectedEvent) and
// returns its unsubscribe function. Unknown handler types get a no-op.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceDisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Close stops the dispatcher.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
