package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes a VPPMetricsEvent per open window on a fixed
// interval for the /api/events stream.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates an exporter that publishes once per second.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// SetInterval changes the publish interval. Call it before Start.
func (s *SSEExporter) SetInterval(d time.Duration) {
	s.interval = d
}

// Start begins the export loop. It runs until ctx ends or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the export loop and waits for it.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	now := time.Now().Format(time.RFC3339)
	for window, m := range metrics.GetAllVPPMetrics() {
		s.eventBus.Publish(events.VPPMetricsEvent{
			Window:        window,
			TasksInFlight: m.TasksInFlight,
			FrcRate:       m.FrcRate,
			Flushes:       m.Flushes,
			Replaced:      m.Replaced,
			Inserted:      m.Inserted,
			Dropped:       m.Dropped,
			Timestamp:     now,
		})
	}
}

// GetEventTypes returns the SSE event names this exporter publishes.
func GetEventTypes() map[string]any {
	return map[string]any{
		"vpp-metrics": events.VPPMetricsEvent{},
	}
}
