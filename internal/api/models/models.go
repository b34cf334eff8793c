// Package models holds the request and response bodies of the camnode API.
package models

import (
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/types"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	Driver    string `json:"driver_version" example:"0.3.0.0" doc:"Driver version reported by cameras"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// URIInput addresses one device.
type URIInput struct {
	URI string `query:"uri" required:"true" example:"camnode://camera/0" doc:"Device uri"`
}

// Device models
type DeviceData struct {
	URI    string `json:"uri" example:"camnode://camera/0" doc:"Device uri"`
	Vendor string `json:"vendor" example:"camnode" doc:"Vendor name"`
	Name   string `json:"name" example:"USB Camera" doc:"Device name"`
	Bus    string `json:"bus,omitempty" example:"usb-0000:00:14.0-1" doc:"Bus location"`
	Index  int    `json:"index" example:"0" doc:"Physical camera index"`
	State  string `json:"state" enum:"disconnected,connected,opened" doc:"Registry state"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Known cameras ordered by index"`
	Count   int          `json:"count" example:"1" doc:"Number of cameras"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

type DeviceResponse struct {
	Body DeviceData
}

type SensorData struct {
	Type  string   `json:"type" example:"color" doc:"Sensor type"`
	Modes []string `json:"modes" example:"[\"320/240@30\",\"640/480@30\"]" doc:"Supported modes"`
}

type SensorListData struct {
	URI           string       `json:"uri" doc:"Device uri"`
	DriverVersion string       `json:"driver_version" example:"0.3.0.0" doc:"Driver version"`
	Sensors       []SensorData `json:"sensors" doc:"Sensors provided by the device"`
}

type SensorListResponse struct {
	Body SensorListData
}

// Stream models
type StreamData struct {
	URI        string `json:"uri" doc:"Device uri"`
	StreamID   string `json:"stream_id" doc:"Stream identifier"`
	Running    bool   `json:"running" doc:"Whether the capture loop is running"`
	Mode       string `json:"mode" example:"640/480@30" doc:"Active video mode"`
	Mirroring  bool   `json:"mirroring" doc:"Horizontal mirroring"`
	Policy     string `json:"policy" enum:"continuous,burst" doc:"Push policy"`
	FrameIndex uint64 `json:"frame_index" doc:"Index of the last produced frame"`
	Delivered  uint64 `json:"delivered" doc:"Frames delivered to the host"`
	Dropped    uint64 `json:"dropped" doc:"Frames dropped"`
	Pending    int64  `json:"pending" doc:"Outstanding burst triggers"`
}

type StreamResponse struct {
	Body StreamData
}

type StreamListData struct {
	Streams []StreamData `json:"streams" doc:"Streams of open devices"`
	Count   int          `json:"count" example:"1" doc:"Number of streams"`
}

type StreamListResponse struct {
	Body StreamListData
}

type ModeData struct {
	Mode string `json:"mode" example:"640/480@30" doc:"Video mode as WIDTH/HEIGHT@FPS"`
}

type ModeInput struct {
	URIInput
	Body ModeData
}

type MirroringData struct {
	Enabled bool `json:"enabled" doc:"Mirror frames horizontally"`
}

type MirroringInput struct {
	URIInput
	Body MirroringData
}

type TriggerData struct {
	Frames int `json:"frames" minimum:"1" maximum:"1000" default:"1" doc:"Frames to produce"`
}

type TriggerInput struct {
	URIInput
	Body TriggerData
}

type SnapshotResponse struct {
	ContentType string `header:"Content-Type"`
	FrameIndex  string `header:"X-Frame-Index"`
	Timestamp   string `header:"X-Frame-Timestamp"`
	Body        []byte
}

// Log models
type LogEntryData struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Logger module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Most recent entries to return"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries" doc:"Log entries, oldest first"`
	Count   int            `json:"count" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelsData struct {
	Levels map[string]string `json:"levels" doc:"Effective level per module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type LogLevelInput struct {
	Body struct {
		Module string `json:"module,omitempty" example:"capture" doc:"Module name, empty for the global level"`
		Level  string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}

// DeviceFromRecord converts a registry record.
func DeviceFromRecord(rec devices.Record) DeviceData {
	return DeviceData{
		URI:    rec.URI,
		Vendor: rec.Vendor,
		Name:   rec.Name,
		Bus:    rec.Bus,
		Index:  rec.Index,
		State:  rec.State.String(),
	}
}

// StreamFromStats converts capture statistics.
func StreamFromStats(uri string, st capture.Stats) StreamData {
	return StreamData{
		URI:        uri,
		StreamID:   st.ID,
		Running:    st.Running,
		Mode:       st.Mode.String(),
		Mirroring:  st.Mirroring,
		Policy:     st.Policy,
		FrameIndex: st.FrameIndex,
		Delivered:  st.Delivered,
		Dropped:    st.Dropped,
		Pending:    st.Pending,
	}
}

// SensorsFromInfo converts a device's sensor list.
func SensorsFromInfo(infos []types.SensorInfo) []SensorData {
	out := make([]SensorData, 0, len(infos))
	for _, info := range infos {
		out = append(out, SensorData{Type: info.Type.String(), Modes: info.Modes.Strings()})
	}
	return out
}
