package led

import (
	"os"
	"path/filepath"
	"testing"
)

func makeLED(t *testing.T, root, dir string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsSet(t *testing.T) {
	tests := []struct {
		name        string
		on          bool
		pattern     Pattern
		wantTrigger string
		wantBright  string
	}{
		{"solid on", true, PatternSolid, "none", "1"},
		{"blink on", true, PatternBlink, "heartbeat", "1"},
		{"off keeps trigger", false, "", "", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := makeLED(t, root, "usr_led")
			ctrl := newSysfs(root, map[string]string{"user": "usr_led"})

			if err := ctrl.Set("user", tt.on, tt.pattern); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got := readFile(t, filepath.Join(dir, "brightness")); got != tt.wantBright {
				t.Errorf("brightness = %q, want %q", got, tt.wantBright)
			}
			trigger, err := os.ReadFile(filepath.Join(dir, "trigger"))
			if tt.wantTrigger == "" {
				if err == nil {
					t.Errorf("trigger written as %q", trigger)
				}
				return
			}
			if string(trigger) != tt.wantTrigger {
				t.Errorf("trigger = %q, want %q", trigger, tt.wantTrigger)
			}
		})
	}
}

func TestSysfsErrors(t *testing.T) {
	root := t.TempDir()
	ctrl := newSysfs(root, map[string]string{"user": "usr_led"})

	if err := ctrl.Set("system", true, PatternSolid); err == nil {
		t.Error("unknown LED accepted")
	}
	if err := ctrl.Set("user", true, PatternSolid); err == nil {
		t.Error("missing sysfs directory accepted")
	}
}

func TestSysfsAvailable(t *testing.T) {
	ctrl := newSysfs("", map[string]string{"user": "usr_led", "act": "ACT"})
	got := ctrl.Available()
	if len(got) != 2 || got[0] != "act" || got[1] != "user" {
		t.Errorf("Available() = %v", got)
	}
	if ctrl.root != SysfsRoot {
		t.Errorf("root = %q", ctrl.root)
	}
}

func TestNoopController(t *testing.T) {
	ctrl := newNoop(testLogger())
	if err := ctrl.Set("user", true, PatternSolid); err != nil {
		t.Errorf("Set() returned error: %v", err)
	}
	if got := ctrl.Available(); len(got) != 0 {
		t.Errorf("Available() = %v, want empty", got)
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model")
	if err := os.WriteFile(model, []byte("FriendlyElec NanoPC-T6\x00"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantNoop bool
	}{
		{"detected board", Config{ModelPath: model}, "user", false},
		{"unknown board", Config{ModelPath: filepath.Join(dir, "missing"), Name: "x"}, "x", true},
		{"configured sysfs", Config{Sysfs: "led0", ModelPath: model}, "indicator", false},
		{"configured sysfs and name", Config{Sysfs: "led0", Name: "rec"}, "rec", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, name := New(tt.cfg, testLogger())
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if _, isNoop := ctrl.(*noop); isNoop != tt.wantNoop {
				t.Errorf("controller %T, noop want %v", ctrl, tt.wantNoop)
			}
		})
	}
}

func TestDetectBoard(t *testing.T) {
	if got := detectBoard(filepath.Join(t.TempDir(), "none")); got != "unknown" {
		t.Errorf("detectBoard(missing) = %q", got)
	}
}
