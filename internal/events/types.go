package events

// Event type constants for kelindar/event.
const (
	TypeDeviceConnected uint32 = iota + 1
	TypeDeviceDisconnected
	TypeDeviceStateChanged
	TypeStreamStateChanged
	TypeStreamMetrics
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceConnectedEvent is published when a camera is registered.
type DeviceConnectedEvent struct {
	URI       string `json:"uri" example:"camnode://camera/0" doc:"Device uri"`
	Name      string `json:"name" example:"HD Webcam" doc:"Device name"`
	Vendor    string `json:"vendor" example:"camnode" doc:"Device vendor"`
	Index     int    `json:"index" example:"0" doc:"Physical capture index"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceConnectedEvent.
func (e DeviceConnectedEvent) Type() uint32 { return TypeDeviceConnected }

// DeviceDisconnectedEvent is published when a camera leaves the registry.
type DeviceDisconnectedEvent struct {
	URI       string `json:"uri" example:"camnode://camera/0" doc:"Device uri"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDisconnectedEvent.
func (e DeviceDisconnectedEvent) Type() uint32 { return TypeDeviceDisconnected }

// DeviceStateChangedEvent is published on connected/opened/disconnected
// transitions.
type DeviceStateChangedEvent struct {
	URI       string `json:"uri" example:"camnode://camera/0" doc:"Device uri"`
	State     string `json:"state" example:"opened" enum:"disconnected,connected,opened" doc:"New device state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceStateChangedEvent.
func (e DeviceStateChangedEvent) Type() uint32 { return TypeDeviceStateChanged }

// StreamStateChangedEvent is published when a stream starts, stops or
// changes mode.
type StreamStateChangedEvent struct {
	URI       string `json:"uri" example:"camnode://camera/0" doc:"Device uri"`
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Running   bool   `json:"running" doc:"Whether the capture loop is running"`
	Mode      string `json:"mode" example:"640/480@30" doc:"Active video mode"`
	Mirroring bool   `json:"mirroring" doc:"Horizontal mirroring"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// StreamMetricsEvent carries periodic per-stream capture statistics.
type StreamMetricsEvent struct {
	EventType string `json:"type" example:"stream_metrics" doc:"Event type"`
	URI       string `json:"uri" doc:"Device uri"`
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	FPS       string `json:"fps" example:"29.97" doc:"Delivered frames per second"`
	Delivered string `json:"delivered" example:"1200" doc:"Frames delivered"`
	Dropped   string `json:"dropped" example:"3" doc:"Frames dropped"`
}

// Type returns the event type identifier for StreamMetricsEvent.
func (e StreamMetricsEvent) Type() uint32 { return TypeStreamMetrics }

// LogEntryEvent mirrors a buffered log line.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"registry" doc:"Logger module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
