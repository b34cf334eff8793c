package devices

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/types"
	"github.com/smazurov/camnode/internal/version"
)

// DeviceProperty identifies a device property at the raw boundary.
type DeviceProperty int

// Device properties.
const (
	PropDriverVersion DeviceProperty = 1
)

// DriverVersion is reported through PropDriverVersion.
var DriverVersion = version.Driver

// MetricsFactory builds a per-stream metrics recorder.
type MetricsFactory func(uri, streamID string) capture.MetricsRecorder

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithStreamOptions applies opts to every stream the device creates, before
// the options passed to CreateStream.
func WithStreamOptions(opts ...capture.Option) DeviceOption {
	return func(d *Device) { d.streamOpts = append(d.streamOpts, opts...) }
}

// WithMetricsFactory attaches a recorder to every created stream.
func WithMetricsFactory(f MetricsFactory) DeviceOption {
	return func(d *Device) { d.metrics = f }
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(logger *slog.Logger) DeviceOption {
	return func(d *Device) { d.logger = logger }
}

// Device is one physical camera and the streams created on it.
type Device struct {
	rec        Record
	driver     backend.Driver
	modes      types.ModeSet
	created    bool
	logger     *slog.Logger
	streamOpts []capture.Option
	metrics    MetricsFactory

	mu      sync.Mutex
	streams []*capture.Stream
}

// NewDevice probes the camera at rec.Index. The native mode is always
// supported; each test mode is added when the camera accepts it and reports
// it back unchanged. If the camera cannot be opened, Created reports false.
func NewDevice(driver backend.Driver, rec Record, testModes []types.VideoMode, opts ...DeviceOption) *Device {
	d := &Device{rec: rec, driver: driver}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.GetLogger("device")
	}
	d.logger = d.logger.With("uri", rec.URI, "index", rec.Index)

	cam, err := driver.Open(rec.Index)
	if err != nil {
		d.logger.Warn("Cannot open camera", "error", err)
		return d
	}
	defer cam.Close()

	native := backend.DefaultMode(cam)
	supported := []types.VideoMode{native}
	var rejected []string
	for _, m := range testModes {
		m.PixelFormat = types.PixelFormatRGB888
		if !m.FitsFrameSize(types.MaxFrameSize) {
			rejected = append(rejected, m.String())
			continue
		}
		if err := backend.Apply(cam, m); err != nil {
			rejected = append(rejected, m.String())
			continue
		}
		supported = append(supported, m)
	}
	if len(testModes) > 0 {
		if err := backend.Apply(cam, native); err != nil {
			d.logger.Debug("Native mode not restored after probe", "error", err)
		}
	}

	d.modes = types.NewModeSet(supported...)
	d.created = true
	d.logger.Info("Camera probed",
		"native", native.String(),
		"modes", strings.Join(d.modes.Strings(), ","),
		"rejected", len(rejected))
	if len(rejected) > 0 {
		d.logger.Debug("Test modes rejected", "modes", strings.Join(rejected, ","))
	}
	return d
}

// Created reports whether the probe open succeeded.
func (d *Device) Created() bool { return d.created }

// URI returns the device uri.
func (d *Device) URI() string { return d.rec.URI }

// Index returns the physical capture index.
func (d *Device) Index() int { return d.rec.Index }

// Modes returns the supported mode set.
func (d *Device) Modes() types.ModeSet { return d.modes }

// CreateStream opens a new handle on the device and wraps it in a stream.
// Only the color sensor exists.
func (d *Device) CreateStream(sensor types.SensorType, sink capture.FrameSink, opts ...capture.Option) (*capture.Stream, error) {
	if !sensor.Valid() {
		return nil, types.Errorf(types.CodeUnsupportedSensor, "create stream", "%s: only color is provided", sensor)
	}

	cam, err := d.driver.Open(d.rec.Index)
	if err != nil {
		return nil, types.NewError(types.CodeDeviceUnavailable, "create stream", d.rec.URI, err)
	}

	id := uuid.NewString()
	all := []capture.Option{
		capture.WithID(id),
		capture.WithURI(d.rec.URI),
	}
	if d.metrics != nil {
		all = append(all, capture.WithMetrics(d.metrics(d.rec.URI, id)))
	}
	all = append(all, d.streamOpts...)
	all = append(all, opts...)

	s := capture.NewStream(cam, sink, all...)

	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()

	d.logger.Info("Stream created", "stream_id", s.ID(), "mode", s.VideoMode().String())
	return s, nil
}

// DestroyStream destroys s and forgets it. Streams from other devices are
// ignored.
func (d *Device) DestroyStream(s *capture.Stream) {
	d.mu.Lock()
	i := slices.Index(d.streams, s)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	d.streams = slices.Delete(d.streams, i, i+1)
	d.mu.Unlock()

	s.Destroy()
	d.logger.Info("Stream destroyed", "stream_id", s.ID())
}

// Streams returns the live streams in creation order.
func (d *Device) Streams() []*capture.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.streams)
}

// Stream looks up a stream by id.
func (d *Device) Stream(id string) (*capture.Stream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// DriverVersion returns the fixed driver version.
func (d *Device) DriverVersion() types.DriverVersion { return DriverVersion }

// GetProperty writes a device property into data.
func (d *Device) GetProperty(id DeviceProperty, data []byte) (int, error) {
	switch id {
	case PropDriverVersion:
		if err := DriverVersion.PutBinary(data); err != nil {
			return 0, err
		}
		return types.DriverVersionSize, nil
	default:
		return 0, types.Errorf(types.CodeNotImplemented, "device property", "unknown property: %d", id)
	}
}

// SensorInfoList returns the single color sensor with its modes.
func (d *Device) SensorInfoList() []types.SensorInfo {
	return []types.SensorInfo{{Type: types.SensorColor, Modes: d.modes}}
}

// Destroy destroys every remaining stream.
func (d *Device) Destroy() {
	d.mu.Lock()
	streams := d.streams
	d.streams = nil
	d.mu.Unlock()

	for _, s := range streams {
		s.Destroy()
	}
	if len(streams) > 0 {
		d.logger.Info("Device destroyed", "streams", len(streams))
	}
}
