package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/metrics/exporters"
)

// connectedEvent opens every event stream. Subscriptions are in place by
// the time a client sees it.
type connectedEvent struct {
	Message   string `json:"message" example:"SSE connection established"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z"`
}

// registerSSERoutes registers the capture and post-processing event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of mode transitions, skipped frames, statistics, observer errors and post-processing session events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"connected":        connectedEvent{},
			"mode-changed":     events.ModeChangedEvent{},
			"frame-skipped":    events.FrameSkippedEvent{},
			"statistics-ready": events.StatisticsReadyEvent{},
			"observer-error":   events.ObserverErrorEvent{},
			"session-opened":   events.SessionOpenedEvent{},
			"session-closed":   events.SessionClosedEvent{},
			"flush-completed":  events.FlushCompletedEvent{},
			"frc-changed":      events.FrcChangedEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypes())
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.ModeChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameSkippedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StatisticsReadyEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ObserverErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionOpenedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionClosedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FlushCompletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrcChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.VPPMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(connectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
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
}
