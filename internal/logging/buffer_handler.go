package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// LogCallback is called when a new log entry is buffered.
type LogCallback func(entry LogEntry)

// BufferHandler is a slog.Handler that writes to the package ring buffer and
// the registered callback. Records are dropped until Initialize creates the
// buffer.
type BufferHandler struct {
	level  slog.Leveler
	module string
	attrs  map[string]any
	groups []string
}

// NewBufferHandler creates a buffer handler.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level, module: "app"}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer := GetBuffer()
	if buffer == nil {
		return nil
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	module := h.module
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "module" && len(h.groups) == 0 {
			module = a.Value.String()
		} else {
			flattenAttr(attrs, h.groups, a)
		}
		return true
	})

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelToString(r.Level),
		Module:     module,
		Message:    r.Message,
		Attributes: attrs,
	}
	buffer.Write(entry)

	if callback := currentCallback(); callback != nil {
		callback(entry)
	}
	return nil
}

// flattenAttr extracts a slog.Attr into a flat map with dot-notation keys for groups.
func flattenAttr(attrs map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	value := a.Value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		nested := append(slices.Clone(groups), a.Key)
		for _, ga := range value.Group() {
			flattenAttr(attrs, nested, ga)
		}
	case slog.KindTime:
		attrs[key] = value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = value.Duration().String()
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = value.Any()
		}
	default:
		attrs[key] = value.Any()
	}
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &BufferHandler{
		level:  h.level,
		module: h.module,
		attrs:  make(map[string]any, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	for k, v := range h.attrs {
		next.attrs[k] = v
	}
	for _, a := range attrs {
		if a.Key == "module" && len(h.groups) == 0 {
			next.module = a.Value.String()
			continue
		}
		flattenAttr(next.attrs, h.groups, a)
	}
	return next
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &BufferHandler{
		level:  h.level,
		module: h.module,
		attrs:  h.attrs,
		groups: append(slices.Clip(h.groups), name),
	}
}

// levelToString converts slog.Level to a lowercase string.
func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
