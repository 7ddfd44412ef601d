package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/logging"
)

// registerLogRoutes registers log streaming and level endpoints.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if history := logging.History(); history != nil {
			for _, entry := range history.Snapshot() {
				event := events.LogEntryEvent{
					Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
					Level:      entry.Level,
					Module:     entry.Module,
					Message:    entry.Message,
					Attributes: entry.Attributes,
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Get the effective log level of every module",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		return &models.LogLevelsResponse{
			Body: models.LogLevelsData{Levels: logging.Levels()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Log Level",
		Description: "Change the log level of one module at runtime",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *models.LogLevelRequest) (*models.LogLevelsResponse, error) {
		if !logging.SetModuleLevel(input.Module, input.Body.Level) {
			return nil, huma.Error400BadRequest("invalid log level " + input.Body.Level)
		}
		return &models.LogLevelsResponse{
			Body: models.LogLevelsData{Levels: logging.Levels()},
		}, nil
	})
}
