package led

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// SysfsRoot is where the kernel exposes LED class devices.
const SysfsRoot = "/sys/class/leds"

// sysfs drives LEDs through the Linux LED class interface.
type sysfs struct {
	root string
	leds map[string]string // name -> sysfs directory
}

func newSysfs(root string, leds map[string]string) *sysfs {
	if root == "" {
		root = SysfsRoot
	}
	return &sysfs{root: root, leds: leds}
}

func (s *sysfs) Set(name string, on bool, pattern Pattern) error {
	dir, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", name)
	}

	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", name, ledPath, err)
	}

	if pattern != "" {
		// Solid needs manual control, so the trigger is cleared.
		trigger := "none"
		if pattern == PatternBlink {
			trigger = "heartbeat"
		}
		if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
			return fmt.Errorf("failed to set LED trigger: %w", err)
		}
	}

	brightness := "0"
	if on {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	names := make([]string, 0, len(s.leds))
	for name := range s.leds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
