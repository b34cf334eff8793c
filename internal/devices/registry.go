package devices

import (
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/metrics"
	"github.com/smazurov/camnode/internal/types"
)

// Registry defaults.
const (
	DefaultPrefix     = "camnode://camera/"
	DefaultVendor     = "camnode"
	DefaultMaxDevices = 10
)

// RegistryConfig configures enumeration and uri naming.
type RegistryConfig struct {
	// Prefix is prepended to the numbered part of every uri.
	Prefix string
	// Vendor is reported in every record.
	Vendor string
	// ListDevices enables automatic enumeration in Initialize and Rescan.
	// When disabled, cameras are registered on demand by TryDevice.
	ListDevices bool
	// MaxDevices bounds enumeration to indices 0..MaxDevices-1.
	MaxDevices int
	// IndexBase is added to the physical index to form the uri number.
	IndexBase int
	// TestModes are probed on every device open.
	TestModes []types.VideoMode
	// DeviceOptions are passed to every constructed Device.
	DeviceOptions []DeviceOption
}

// DefaultRegistryConfig returns enumeration over ten indices with 0-based
// uris.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Prefix:      DefaultPrefix,
		Vendor:      DefaultVendor,
		ListDevices: true,
		MaxDevices:  DefaultMaxDevices,
		TestModes: []types.VideoMode{
			types.NewVideoMode(320, 240, 30),
			types.NewVideoMode(640, 480, 30),
		},
	}
}

type entry struct {
	rec Record
	dev *Device
}

// Registry maps uris to cameras and owns open Device instances.
type Registry struct {
	cfg      RegistryConfig
	driver   backend.Driver
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	testModes []types.VideoMode
}

// NewRegistry creates an empty registry. Call Initialize to enumerate.
func NewRegistry(cfg RegistryConfig, driver backend.Driver, notifier Notifier) *Registry {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Vendor == "" {
		cfg.Vendor = DefaultVendor
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = DefaultMaxDevices
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry{
		cfg:       cfg,
		driver:    driver,
		notifier:  notifier,
		logger:    logging.GetLogger("registry"),
		entries:   make(map[string]*entry),
		testModes: slices.Clone(cfg.TestModes),
	}
}

// notes collects notifications to send once the registry lock is released.
type notes []func(Notifier)

func (n *notes) connected(rec Record) {
	*n = append(*n,
		func(x Notifier) { x.DeviceConnected(rec) },
		func(x Notifier) { x.DeviceStateChanged(rec.URI, StateConnected) })
}

func (n *notes) state(uri string, s State) {
	*n = append(*n, func(x Notifier) { x.DeviceStateChanged(uri, s) })
}

func (n *notes) disconnected(uri string) {
	*n = append(*n,
		func(x Notifier) { x.DeviceStateChanged(uri, StateDisconnected) },
		func(x Notifier) { x.DeviceDisconnected(uri) })
}

func (r *Registry) flush(n notes) {
	for _, fn := range n {
		fn(r.notifier)
	}
}

// URI returns the uri for a physical index.
func (r *Registry) URI(index int) string {
	return r.cfg.Prefix + strconv.Itoa(index+r.cfg.IndexBase)
}

// Config returns the effective configuration.
func (r *Registry) Config() RegistryConfig {
	return r.cfg
}

// Driver returns the backend the registry opens cameras with.
func (r *Registry) Driver() backend.Driver {
	return r.driver
}

// Initialize enumerates cameras when ListDevices is set. Indices are probed
// from 0 and enumeration stops at the first index that does not open.
func (r *Registry) Initialize() error {
	if !r.cfg.ListDevices {
		r.logger.Info("Automatic enumeration disabled", "prefix", r.cfg.Prefix)
		return nil
	}

	var n notes
	r.mu.Lock()
	for i := 0; i < r.cfg.MaxDevices; i++ {
		if !r.probe(i) {
			r.logger.Debug("Enumeration stopped", "index", i)
			break
		}
		if _, ok := r.entries[r.URI(i)]; ok {
			continue
		}
		r.add(i, &n)
	}
	count := len(r.entries)
	r.updateMetrics()
	r.mu.Unlock()

	r.flush(n)
	r.logger.Info("Cameras enumerated", "count", count, "driver", r.driver.Name())
	return nil
}

func (r *Registry) probe(index int) bool {
	cam, err := r.driver.Open(index)
	if err != nil {
		return false
	}
	if err := cam.Close(); err != nil {
		r.logger.Debug("Probe close failed", "index", index, "error", err)
	}
	return true
}

func (r *Registry) add(index int, n *notes) Record {
	uri := r.URI(index)
	rec := Record{
		URI:    uri,
		Vendor: r.cfg.Vendor,
		Name:   uri,
		Index:  index,
		State:  StateConnected,
	}
	if d, ok := r.driver.(backend.Describer); ok {
		if desc, ok := d.Describe(index); ok {
			if desc.Name != "" {
				rec.Name = desc.Name
			}
			rec.Bus = desc.Bus
		}
	}
	r.entries[uri] = &entry{rec: rec}
	n.connected(rec)
	r.logger.Info("Camera registered", "uri", uri, "index", index, "name", rec.Name)
	return rec
}

// Open returns the Device for uri, constructing it on first use. Later calls
// return the same instance until Close.
func (r *Registry) Open(uri string) (*Device, error) {
	r.mu.Lock()
	e, ok := r.entries[uri]
	if !ok {
		r.mu.Unlock()
		return nil, types.Errorf(types.CodeDeviceNotFound, "open", "can't find device: %q", uri)
	}
	if e.dev != nil {
		dev := e.dev
		r.mu.Unlock()
		return dev, nil
	}

	dev := NewDevice(r.driver, e.rec, r.testModes, r.cfg.DeviceOptions...)
	if !dev.Created() {
		r.mu.Unlock()
		r.logger.Warn("Device create error", "uri", uri)
		return nil, types.Errorf(types.CodeDeviceUnavailable, "open", "device %q create error", uri)
	}
	e.dev = dev
	e.rec.State = StateOpened
	r.updateMetrics()
	r.mu.Unlock()

	var n notes
	n.state(uri, StateOpened)
	r.flush(n)
	r.logger.Info("Device opened", "uri", uri, "modes", dev.Modes().Len())
	return dev, nil
}

// Device returns the open instance for uri.
func (r *Registry) Device(uri string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	if !ok || e.dev == nil {
		return nil, false
	}
	return e.dev, true
}

// Close destroys dev and marks its record connected again.
func (r *Registry) Close(dev *Device) error {
	r.mu.Lock()
	var found *entry
	for _, e := range r.entries {
		if e.dev != nil && e.dev == dev {
			found = e
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return types.Errorf(types.CodeDeviceNotFound, "close", "device is not open")
	}
	found.dev = nil
	found.rec.State = StateConnected
	uri := found.rec.URI
	r.updateMetrics()
	r.mu.Unlock()

	dev.Destroy()

	var n notes
	n.state(uri, StateConnected)
	r.flush(n)
	r.logger.Info("Device closed", "uri", uri)
	return nil
}

// CloseURI closes the open device for uri.
func (r *Registry) CloseURI(uri string) error {
	dev, ok := r.Device(uri)
	if !ok {
		if _, known := r.Record(uri); !known {
			return types.Errorf(types.CodeDeviceNotFound, "close", "can't find device: %q", uri)
		}
		return types.Errorf(types.CodeDeviceUnavailable, "close", "device %q is not open", uri)
	}
	return r.Close(dev)
}

// TryDevice accepts a known uri, or, with enumeration disabled, registers
// the camera a well-formed uri names.
func (r *Registry) TryDevice(uri string) error {
	r.mu.Lock()
	if _, ok := r.entries[uri]; ok {
		r.mu.Unlock()
		return nil
	}
	if r.cfg.ListDevices {
		r.mu.Unlock()
		return types.Errorf(types.CodeDeviceNotFound, "try device", "unknown device %q", uri)
	}

	index, err := r.parseURI(uri)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("Given uri parsing error", "uri", uri, "error", err)
		return err
	}

	var n notes
	r.add(index, &n)
	r.updateMetrics()
	r.mu.Unlock()

	r.flush(n)
	return nil
}

// parseURI extracts the physical index from prefix + decimal number.
func (r *Registry) parseURI(uri string) (int, error) {
	suffix, ok := strings.CutPrefix(uri, r.cfg.Prefix)
	if !ok {
		return 0, types.Errorf(types.CodeInvalidURI, "parse uri", "%q does not start with %q", uri, r.cfg.Prefix)
	}
	num, err := strconv.Atoi(suffix)
	if err != nil || suffix == "" || strconv.Itoa(num) != suffix {
		return 0, types.Errorf(types.CodeInvalidURI, "parse uri", "%q has no device number", uri)
	}
	index := num - r.cfg.IndexBase
	if index < 0 {
		return 0, types.Errorf(types.CodeInvalidURI, "parse uri", "%q is below index base %d", uri, r.cfg.IndexBase)
	}
	return index, nil
}

// Rescan re-probes cameras after a hotplug event. Records whose index no
// longer opens and that are not open are removed. With enumeration enabled,
// newly openable indices below MaxDevices are registered.
func (r *Registry) Rescan() error {
	var n notes
	r.mu.Lock()

	for uri, e := range r.entries {
		if e.dev != nil || r.probe(e.rec.Index) {
			continue
		}
		delete(r.entries, uri)
		n.disconnected(uri)
		r.logger.Info("Camera removed", "uri", uri, "index", e.rec.Index)
	}

	if r.cfg.ListDevices {
		for i := 0; i < r.cfg.MaxDevices; i++ {
			if _, ok := r.entries[r.URI(i)]; ok {
				continue
			}
			if r.probe(i) {
				r.add(i, &n)
			}
		}
	}
	r.updateMetrics()
	r.mu.Unlock()

	metrics.IncRescans()
	r.flush(n)
	return nil
}

// SetTestModes replaces the candidate modes used by subsequent opens.
func (r *Registry) SetTestModes(modes []types.VideoMode) {
	r.mu.Lock()
	r.testModes = slices.Clone(modes)
	r.mu.Unlock()
	r.logger.Info("Test modes updated", "count", len(modes))
}

// TestModes returns the candidate modes probed on open.
func (r *Registry) TestModes() []types.VideoMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.testModes)
}

// Records returns every record ordered by index.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return strings.Compare(a.URI, b.URI)
	})
	return out
}

// Record returns the record for uri.
func (r *Registry) Record(uri string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Shutdown destroys every open device and forgets every record.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.updateMetrics()
	r.mu.Unlock()

	var n notes
	for uri, e := range entries {
		if e.dev != nil {
			e.dev.Destroy()
		}
		n.disconnected(uri)
	}
	r.flush(n)
	r.logger.Info("Registry shut down", "devices", len(entries))
}

func (r *Registry) updateMetrics() {
	counts := map[string]int{
		StateConnected.String(): 0,
		StateOpened.String():    0,
	}
	for _, e := range r.entries {
		counts[e.rec.State.String()]++
	}
	metrics.SetDeviceCounts(counts)
}
