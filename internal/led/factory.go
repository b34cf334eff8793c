package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// Config selects the indicator LED.
type Config struct {
	// Name is the indicator name used with Set. Defaults to the board's
	// first known LED.
	Name string
	// Sysfs is a sysfs directory name under Root. When set, board
	// detection is skipped.
	Sysfs string
	// Root overrides SysfsRoot.
	Root string
	// ModelPath overrides the device tree model file.
	ModelPath string
}

// board LED maps, first entry is the default indicator.
var boards = []struct {
	match string
	name  string
	sysfs string
}{
	{"NanoPC-T6", "user", "usr_led"},
	{"Orange Pi", "blue", "blue_led"},
	{"Raspberry Pi", "act", "ACT"},
}

// New returns a controller and the indicator name to drive. It falls back to
// a no-op controller when no LED is known for the board.
func New(cfg Config, logger *slog.Logger) (Controller, string) {
	if cfg.Sysfs != "" {
		name := cfg.Name
		if name == "" {
			name = "indicator"
		}
		logger.Info("Using configured indicator LED", "sysfs", cfg.Sysfs)
		return newSysfs(cfg.Root, map[string]string{name: cfg.Sysfs}), name
	}

	model := detectBoard(cfg.ModelPath)
	for _, b := range boards {
		if strings.Contains(model, b.match) {
			logger.Info("Detected board with indicator LED", "board_model", model, "led", b.sysfs)
			return newSysfs(cfg.Root, map[string]string{b.name: b.sysfs}), b.name
		}
	}

	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger), cfg.Name
}

// detectBoard reads the device tree model to identify the board.
func detectBoard(path string) string {
	if path == "" {
		path = deviceTreeModelPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
