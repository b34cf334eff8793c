package logging

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleHandlers  = make(map[string]*swapHandler)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	logBuffer       *RingBuffer
	logCallback     LogCallback
)

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the logging system. Loggers obtained earlier, and any
// logger derived from them with With, keep working: their level is updated
// and their handler chain is swapped atomically.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	logBuffer = NewRingBuffer(defaultBufferSize)

	globalLevelVar.Set(levelOr(config.Level, slog.LevelInfo))

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module))
		moduleHandlers[module].swap(createHandler(config.Format, levelVar))
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// GetBuffer returns the log ring buffer, nil before Initialize.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback sets a callback invoked for each buffered entry.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func currentCallback() LogCallback {
	mutex.RLock()
	defer mutex.RUnlock()
	return logCallback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(moduleLevel(module))

	handler := newModuleHandler(levelVar)
	logger := slog.New(handler).With("module", module)
	moduleLoggers[module] = logger
	moduleHandlers[module] = handler
	moduleLevelVars[module] = levelVar
	return logger
}

// SetModuleLevel changes a module's level at runtime. An empty module sets
// the global level and every module without an override.
func SetModuleLevel(module, level string) error {
	parsed := parseLevel(level)
	if parsed == nil {
		return fmt.Errorf("invalid log level %q", level)
	}

	mutex.Lock()
	defer mutex.Unlock()

	if module == "" {
		globalConfig.Level = level
		globalLevelVar.Set(*parsed)
		for name, levelVar := range moduleLevelVars {
			if _, override := globalConfig.Modules[name]; !override {
				levelVar.Set(*parsed)
			}
		}
		return nil
	}

	if globalConfig.Modules == nil {
		globalConfig.Modules = make(map[string]string)
	}
	globalConfig.Modules[module] = level
	if levelVar, ok := moduleLevelVars[module]; ok {
		levelVar.Set(*parsed)
	}
	return nil
}

// Levels returns the effective level of every known module.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()

	levels := make(map[string]string, len(moduleLevelVars))
	for name, levelVar := range moduleLevelVars {
		levels[name] = levelToString(levelVar.Level())
	}
	return levels
}

// Modules returns the names of all modules that have requested a logger.
func Modules() []string {
	mutex.RLock()
	defer mutex.RUnlock()
	names := make([]string, 0, len(moduleLoggers))
	for name := range moduleLoggers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// moduleLevel must be called with mutex held.
func moduleLevel(module string) slog.Level {
	if !isInitialized {
		return slog.LevelInfo
	}
	level := levelOr(globalConfig.Level, slog.LevelInfo)
	if levelStr, exists := globalConfig.Modules[module]; exists {
		level = levelOr(levelStr, level)
	}
	return level
}

// newModuleHandler must be called with mutex held.
func newModuleHandler(levelVar *slog.LevelVar) *swapHandler {
	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}
	return newSwapHandler(createHandler(format, levelVar))
}

// createHandler builds the handler chain: stdout (text or json), the systemd
// journal when available, and the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// /dev/null is a device, not a char device terminal
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func levelOr(level string, fallback slog.Level) slog.Level {
	if parsed := parseLevel(level); parsed != nil {
		return *parsed
	}
	return fallback
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
