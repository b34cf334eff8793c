// Package devices keeps the catalog of cameras known to the node: which
// indices exist, which uri names them, and which are open.
package devices

import "fmt"

// State is the lifecycle state of a registered camera.
type State int

// Device states.
const (
	StateDisconnected State = iota
	StateConnected
	StateOpened
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateOpened:
		return "opened"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record describes one registered camera. The uri is its only lookup key.
type Record struct {
	URI    string `json:"uri"`
	Vendor string `json:"vendor"`
	Name   string `json:"name"`
	Bus    string `json:"bus,omitempty"`
	Index  int    `json:"index"`
	State  State  `json:"state"`
}

// Notifier is told about registry changes. Calls are made without registry
// locks held, so implementations may call back into the registry.
type Notifier interface {
	DeviceConnected(rec Record)
	DeviceDisconnected(uri string)
	DeviceStateChanged(uri string, state State)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) DeviceConnected(Record)           {}
func (NopNotifier) DeviceDisconnected(string)        {}
func (NopNotifier) DeviceStateChanged(string, State) {}

// MultiNotifier fans notifications out in order.
type MultiNotifier []Notifier

func (m MultiNotifier) DeviceConnected(rec Record) {
	for _, n := range m {
		n.DeviceConnected(rec)
	}
}

func (m MultiNotifier) DeviceDisconnected(uri string) {
	for _, n := range m {
		n.DeviceDisconnected(uri)
	}
}

func (m MultiNotifier) DeviceStateChanged(uri string, state State) {
	for _, n := range m {
		n.DeviceStateChanged(uri, state)
	}
}
