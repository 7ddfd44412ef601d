package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/displaynode/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of hotplug, mode, power and layer changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"hotplug":       events.HotplugEvent{},
		"mode-changed":  events.ModeChangedEvent{},
		"power-state":   events.PowerStateEvent{},
		"layer-updated": events.LayerUpdatedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.HotplugEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ModeChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PowerStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LayerUpdatedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

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
}
