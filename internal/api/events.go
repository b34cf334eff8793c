package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camnode/internal/events"
)

// forward sends events from ch until the client goes away.
func forward(ctx context.Context, ch <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}

// registerSSERoutes registers the device and stream event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time device registry and stream state changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"device-connected":     events.DeviceConnectedEvent{},
		"device-disconnected":  events.DeviceDisconnectedEvent{},
		"device-state-changed": events.DeviceStateChangedEvent{},
		"stream-state-changed": events.StreamStateChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.DeviceConnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceDisconnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamStateChangedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Replay the current registry so a new client starts in sync.
		now := time.Now().UTC().Format(time.RFC3339)
		for _, rec := range s.host.Registry().Records() {
			if err := send.Data(events.DeviceStateChangedEvent{
				URI:       rec.URI,
				State:     rec.State.String(),
				Timestamp: now,
			}); err != nil {
				return
			}
		}

		forward(ctx, eventCh, send)
	})
}
