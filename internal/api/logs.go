package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/logging"
)

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes registers the log history, stream and level endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Most recent entries from the in-memory log buffer",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		var entries []logging.LogEntry
		if buffer := logging.GetBuffer(); buffer != nil {
			entries = buffer.Tail(input.Limit)
		}
		out := make([]models.LogEntryData, 0, len(entries))
		for _, e := range entries {
			ev := logEvent(e)
			out = append(out, models.LogEntryData{
				Timestamp:  ev.Timestamp,
				Level:      ev.Level,
				Module:     ev.Module,
				Message:    ev.Message,
				Attributes: ev.Attributes,
			})
		}
		return &models.LogsResponse{Body: models.LogsData{Entries: out, Count: len(out)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Effective log level of every module",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		return &models.LogLevelsResponse{Body: models.LogLevelsData{Levels: logging.Levels()}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels",
		Summary:     "Set Log Level",
		Description: "Change one module's level, or the global level when module is empty",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.LogLevelInput) (*models.LogLevelsResponse, error) {
		if err := logging.SetModuleLevel(input.Body.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		s.logger.Info("Log level changed", "module", input.Body.Module, "level", input.Body.Level)
		return &models.LogLevelsResponse{Body: models.LogLevelsData{Levels: logging.Levels()}}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new ones.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
			}
		}

		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		forward(ctx, eventCh, send)
	})
}
