package events

import (
	"time"

	"github.com/smazurov/camnode/internal/devices"
)

// DeviceNotifier publishes registry changes on the bus.
type DeviceNotifier struct {
	bus *Bus
	now func() time.Time
}

// NewDeviceNotifier returns a devices.Notifier backed by bus.
func NewDeviceNotifier(bus *Bus) *DeviceNotifier {
	return &DeviceNotifier{bus: bus, now: time.Now}
}

func (n *DeviceNotifier) stamp() string {
	return n.now().UTC().Format(time.RFC3339)
}

// DeviceConnected implements devices.Notifier.
func (n *DeviceNotifier) DeviceConnected(rec devices.Record) {
	n.bus.Publish(DeviceConnectedEvent{
		URI:       rec.URI,
		Name:      rec.Name,
		Vendor:    rec.Vendor,
		Index:     rec.Index,
		Timestamp: n.stamp(),
	})
}

// DeviceDisconnected implements devices.Notifier.
func (n *DeviceNotifier) DeviceDisconnected(uri string) {
	n.bus.Publish(DeviceDisconnectedEvent{URI: uri, Timestamp: n.stamp()})
}

// DeviceStateChanged implements devices.Notifier.
func (n *DeviceNotifier) DeviceStateChanged(uri string, state devices.State) {
	n.bus.Publish(DeviceStateChangedEvent{URI: uri, State: state.String(), Timestamp: n.stamp()})
}

var _ devices.Notifier = (*DeviceNotifier)(nil)
