package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/camnode/internal/events"
)

// Indicator lights an LED while any stream is capturing and turns it off
// when the last one stops or its camera disappears.
type Indicator struct {
	controller Controller
	name       string
	bus        *events.Bus
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]string // stream id -> uri
	lit     bool
	unsubs  []func()
}

// NewIndicator creates an indicator driving the named LED.
func NewIndicator(controller Controller, name string, bus *events.Bus, logger *slog.Logger) *Indicator {
	return &Indicator{
		controller: controller,
		name:       name,
		bus:        bus,
		logger:     logger,
		running:    make(map[string]string),
	}
}

// Start subscribes to stream and device events and turns the LED off.
func (i *Indicator) Start() {
	i.mu.Lock()
	i.apply(false)
	i.unsubs = append(i.unsubs,
		i.bus.Subscribe(i.handleStream),
		i.bus.Subscribe(i.handleDisconnect),
	)
	i.mu.Unlock()
	i.logger.Info("Capture indicator started", "led", i.name)
}

// Stop unsubscribes and turns the LED off.
func (i *Indicator) Stop() {
	i.mu.Lock()
	unsubs := i.unsubs
	i.unsubs = nil
	i.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	clear(i.running)
	i.apply(false)
}

// Lit reports whether the LED was last switched on.
func (i *Indicator) Lit() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lit
}

func (i *Indicator) handleStream(e events.StreamStateChangedEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if e.Running {
		i.running[e.StreamID] = e.URI
	} else {
		delete(i.running, e.StreamID)
	}
	i.apply(len(i.running) > 0)
}

func (i *Indicator) handleDisconnect(e events.DeviceDisconnectedEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, uri := range i.running {
		if uri == e.URI {
			delete(i.running, id)
		}
	}
	i.apply(len(i.running) > 0)
}

// apply must be called with mu held. Outside of Start and Stop the LED is
// only written on a change.
func (i *Indicator) apply(on bool) {
	if on == i.lit && i.unsubs != nil {
		return
	}
	pattern := Pattern("")
	if on {
		pattern = PatternSolid
	}
	if err := i.controller.Set(i.name, on, pattern); err != nil {
		i.logger.Warn("Failed to set indicator LED", "led", i.name, "on", on, "error", err)
		return
	}
	i.lit = on
	i.logger.Debug("Indicator LED updated", "on", on, "streams", len(i.running))
}
