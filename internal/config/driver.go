package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/types"
)

// DefaultBackend is used when neither [driver] nor --backend names one. The
// simulated driver is never picked while a hardware driver is built in.
func DefaultBackend() string {
	return backend.Preferred()
}

// driverFile mirrors the [driver] table.
type driverFile struct {
	Driver struct {
		Backend     string   `toml:"backend"`
		DeviceName  string   `toml:"device_name"`
		Vendor      string   `toml:"vendor"`
		ListDevice  *bool    `toml:"list_device"`
		MaxDevices  *int     `toml:"max_device_num"`
		IndexBase   *int     `toml:"index_base"`
		TestModes   []string `toml:"test_mode"`
		PushPolicy  string   `toml:"push_policy"`
		Timestamp   string   `toml:"timestamp"`
		ReadTimeout string   `toml:"read_timeout"`

		Sim struct {
			Cameras       *int     `toml:"cameras"`
			Default       string   `toml:"default"`
			Modes         []string `toml:"modes"`
			FrameInterval string   `toml:"frame_interval"`
			Indices       []int    `toml:"indices"`
		} `toml:"sim"`
	} `toml:"driver"`
}

// DriverSettings is everything the capture side reads from the config file.
type DriverSettings struct {
	Backend       string
	Registry      devices.RegistryConfig
	PushPolicy    capture.PushPolicy
	TimestampName string
	Timestamp     capture.TimestampSource
	Driver        backend.Settings
}

// DefaultDriverSettings returns the settings used when no file exists.
func DefaultDriverSettings() DriverSettings {
	return DriverSettings{
		Backend:       DefaultBackend(),
		Registry:      devices.DefaultRegistryConfig(),
		PushPolicy:    capture.PushContinuous,
		TimestampName: "synthetic",
		Timestamp:     capture.SyntheticTimestamp,
		Driver:        backend.Settings{Sim: backend.SimConfig{Cameras: 1}},
	}
}

// LoadDriverSettings reads the [driver] table of path. A missing file yields
// the defaults. Omitted keys keep their default values.
func LoadDriverSettings(path string) (DriverSettings, error) {
	s := DefaultDriverSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read %s: %w", path, err)
	}

	var raw driverFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	d := raw.Driver

	if d.Backend != "" {
		s.Backend = d.Backend
	}
	if d.DeviceName != "" {
		s.Registry.Prefix = d.DeviceName
	}
	if d.Vendor != "" {
		s.Registry.Vendor = d.Vendor
	}
	if d.ListDevice != nil {
		s.Registry.ListDevices = *d.ListDevice
	}
	if d.MaxDevices != nil {
		if *d.MaxDevices < 0 {
			return s, fmt.Errorf("driver.max_device_num: %d is negative", *d.MaxDevices)
		}
		s.Registry.MaxDevices = *d.MaxDevices
	}
	if d.IndexBase != nil {
		s.Registry.IndexBase = *d.IndexBase
	}
	if d.TestModes != nil {
		modes, err := types.ParseVideoModes(d.TestModes)
		if err != nil {
			return s, fmt.Errorf("driver.test_mode: %w", err)
		}
		s.Registry.TestModes = modes
	}
	if d.PushPolicy != "" {
		p, err := capture.ParsePushPolicy(d.PushPolicy)
		if err != nil {
			return s, fmt.Errorf("driver.push_policy: %w", err)
		}
		s.PushPolicy = p
	}
	if d.Timestamp != "" {
		ts, err := capture.ParseTimestampSource(d.Timestamp)
		if err != nil {
			return s, fmt.Errorf("driver.timestamp: %w", err)
		}
		s.TimestampName = d.Timestamp
		s.Timestamp = ts
	}
	if d.ReadTimeout != "" {
		dur, err := time.ParseDuration(d.ReadTimeout)
		if err != nil {
			return s, fmt.Errorf("driver.read_timeout: %w", err)
		}
		s.Driver.ReadTimeout = dur
	}

	sim := &s.Driver.Sim
	if d.Sim.Cameras != nil {
		sim.Cameras = *d.Sim.Cameras
	}
	if d.Sim.Default != "" {
		if _, err := types.ParseVideoMode(d.Sim.Default); err != nil {
			return s, fmt.Errorf("driver.sim.default: %w", err)
		}
		sim.Default = d.Sim.Default
	}
	if d.Sim.Modes != nil {
		if _, err := types.ParseVideoModes(d.Sim.Modes); err != nil {
			return s, fmt.Errorf("driver.sim.modes: %w", err)
		}
		sim.Modes = d.Sim.Modes
	}
	if d.Sim.Indices != nil {
		for _, i := range d.Sim.Indices {
			if i < 0 {
				return s, fmt.Errorf("driver.sim.indices: %d is negative", i)
			}
		}
		sim.Indices = d.Sim.Indices
	}
	if d.Sim.FrameInterval != "" {
		dur, err := time.ParseDuration(d.Sim.FrameInterval)
		if err != nil {
			return s, fmt.Errorf("driver.sim.frame_interval: %w", err)
		}
		sim.FrameInterval = dur
	}

	return s, nil
}
