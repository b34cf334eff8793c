package logging

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
)

// swapHandler forwards to a root handler that Initialize can replace while
// other goroutines are logging. Attributes and groups added through
// WithAttrs and WithGroup are replayed on top of whichever root is current.
type swapHandler struct {
	root  *atomic.Pointer[slog.Handler]
	ops   []func(slog.Handler) slog.Handler
	cache atomic.Pointer[derivedHandler]
}

type derivedHandler struct {
	base *slog.Handler
	h    slog.Handler
}

func newSwapHandler(h slog.Handler) *swapHandler {
	root := &atomic.Pointer[slog.Handler]{}
	root.Store(&h)
	return &swapHandler{root: root}
}

// swap replaces the root for this handler and every handler derived from it.
func (s *swapHandler) swap(h slog.Handler) {
	s.root.Store(&h)
}

func (s *swapHandler) current() slog.Handler {
	base := s.root.Load()
	if d := s.cache.Load(); d != nil && d.base == base {
		return d.h
	}
	h := *base
	for _, op := range s.ops {
		h = op(h)
	}
	s.cache.Store(&derivedHandler{base: base, h: h})
	return h
}

// Enabled implements slog.Handler.
func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (s *swapHandler) WithGroup(name string) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *swapHandler) derive(op func(slog.Handler) slog.Handler) *swapHandler {
	ops := append(slices.Clone(s.ops), op)
	return &swapHandler{root: s.root, ops: ops}
}
