//go:build linux

// Package hotplug provides pure Go camera hotplug monitoring using netlink.
//
// The monitor listens to kernel uevents on a NETLINK_KOBJECT_UEVENT socket
// without cgo and reports video4linux add/remove events.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// Subsystem names.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemUSB         = "usb"
)

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/pci0000:00/...
	Subsystem string            // "video4linux", "usb", ...
	DevType   string            // Device type if available
	DevName   string            // Device name (e.g., "video0")
	DevPath   string            // Sysfs device path
	Env       map[string]string // All environment variables from the event
}

// VideoIndex returns N for a video4linux "videoN" node.
func (e Event) VideoIndex() (int, bool) {
	if e.Subsystem != SubsystemVideo4Linux {
		return 0, false
	}
	name := strings.TrimPrefix(e.DevName, "/dev/")
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

// AffectsCameras reports whether the event can change the set of openable
// cameras.
func (e Event) AffectsCameras() bool {
	if _, ok := e.VideoIndex(); !ok {
		return false
	}
	return e.Action == ActionAdd || e.Action == ActionRemove
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = 15

// NewMonitor creates a new device event monitor.
func NewMonitor() (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Groups: 1, // Kernel broadcast group
	}

	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return &Monitor{
		fd:      fd,
		filters: make(map[string]struct{}),
	}, nil
}

// AddSubsystemFilter adds a subsystem filter. Only events from matching
// subsystems are returned. With no filters all events pass through.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[subsystem]
	return ok
}

// Close releases the monitor resources.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run sends events to the provided channel until the context is cancelled or
// the socket fails. The events channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)

	// Read timeout so the context is checked periodically
	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(m.fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}

		event := ParseUEvent(buf[:n])
		if event == nil || !m.accepts(event.Subsystem) {
			continue
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent parses a kernel uevent message.
// Format: "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0..."
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}

	// libudev prefixes a binary header; the uevent starts after a NUL
	// with a short action@path token.
	if bytes.HasPrefix(data, []byte("libudev")) {
		for i := 0; i < len(data)-1; i++ {
			if data[i] == 0 {
				rest := data[i+1:]
				if idx := bytes.IndexByte(rest, '@'); idx > 0 && idx < 20 {
					data = rest
					break
				}
			}
		}
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	atIdx := strings.Index(header, "@")
	if atIdx < 1 {
		return nil
	}

	event := &Event{
		Action: header[:atIdx],
		KObj:   header[atIdx+1:],
		Env:    make(map[string]string),
	}

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVTYPE":
			event.DevType = value
		case "DEVNAME":
			event.DevName = value
		case "DEVPATH":
			event.DevPath = value
		}
	}

	return event
}
