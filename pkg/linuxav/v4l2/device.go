//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"unsafe"
)

const sysfsVideo4Linux = "/sys/class/video4linux"

// DevicePath returns the device node for a capture index.
func DevicePath(index int) string {
	return "/dev/video" + strconv.Itoa(index)
}

// FindDevices finds all V4L2 video capture devices on the system, ordered by
// device index.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsVideo4Linux)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, entry := range entries {
		index, ok := parseVideoIndex(entry.Name())
		if !ok {
			continue
		}

		info, err := QueryDevice(DevicePath(index))
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to query video device", "index", index, "error", err)
			continue
		}

		// Metadata and output nodes share the video4linux class
		if info.Caps&capVideoCapture == 0 {
			continue
		}

		devices = append(devices, info)
	}

	slices.SortFunc(devices, func(a, b DeviceInfo) int { return a.Index - b.Index })
	return devices, nil
}

// QueryDevice opens a device node and returns its capabilities.
func QueryDevice(devicePath string) (DeviceInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to open device: %w", err)
	}
	defer close(fd)

	capability := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&capability)); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to query capabilities: %w", err)
	}

	caps := capability.capabilities
	if caps&capDeviceCaps != 0 {
		caps = capability.deviceCaps
	}

	index, _ := parseVideoIndex(strings.TrimPrefix(devicePath, "/dev/"))

	return DeviceInfo{
		Index:      index,
		DevicePath: devicePath,
		DeviceName: cstr(capability.card[:]),
		Driver:     cstr(capability.driver[:]),
		BusInfo:    cstr(capability.busInfo[:]),
		Caps:       caps,
	}, nil
}

// parseVideoIndex extracts N from "videoN".
func parseVideoIndex(name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, "video")
	if !ok || suffix == "" {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
