package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/ispnode/internal/api/models"
	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
)

// bufferedLogs returns held entries of module, oldest first, trimmed to
// the newest limit.
func bufferedLogs(module string, limit int) []logging.LogEntry {
	buffer := logging.GetBuffer()
	if buffer == nil {
		return nil
	}
	return buffer.Read(module, limit)
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Recent log entries held in memory, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		entries := bufferedLogs(input.Module, input.Limit)
		resp := &models.LogsResponse{}
		resp.Body.Entries = make([]models.LogEntryData, 0, len(entries))
		for _, e := range entries {
			resp.Body.Entries = append(resp.Body.Entries, models.LogEntryData(e))
		}
		resp.Body.Count = len(resp.Body.Entries)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/level",
		Summary:     "Set Log Level",
		Description: "Change the level of one module logger at runtime",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.LogLevelRequest) (*models.StatusResponse, error) {
		if !logging.SetModuleLevel(input.Body.Module, input.Body.Level) {
			return nil, huma.Error400BadRequest("unknown log level " + input.Body.Level)
		}
		s.logger.Info("Log level changed", "target", input.Body.Module, "level", input.Body.Level)
		resp := &models.StatusResponse{}
		resp.Body.Status = "ok"
		return resp, nil
	})

	if s.eventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var replayed uint64
		for _, entry := range bufferedLogs("", 0) {
			replayed = entry.Seq
			if err := send.Data(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				// Entries written between subscribing and replaying arrive twice.
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq != 0 && e.Seq <= replayed {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
