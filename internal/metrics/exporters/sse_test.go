package exporters

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{published: make(chan struct{}, 100)}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Event, len(m.events))
	copy(out, m.events)
	return out
}

func findWindow(evts []events.Event, window string) (events.VPPMetricsEvent, bool) {
	for _, ev := range evts {
		if e, ok := ev.(events.VPPMetricsEvent); ok && e.Window == window {
			return e, true
		}
	}
	return events.VPPMetricsEvent{}, false
}

func TestSSEExporterPublishesWindowMetrics(t *testing.T) {
	window := "sse-test-window"
	metrics.DeleteVPPMetrics(window)
	defer metrics.DeleteVPPMetrics(window)

	metrics.SetVPPTasksInFlight(window, 2)
	metrics.SetVPPFrcRate(window, 2.5)
	metrics.IncVPPFlushes(window, "seek")
	metrics.IncVPPOutputFrames(window, metrics.OutcomeReplaced)
	metrics.IncVPPOutputFrames(window, metrics.OutcomeInserted)
	metrics.IncVPPOutputFrames(window, metrics.OutcomeInserted)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond
	exporter.Start(t.Context())

	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics publish")
	}
	exporter.Stop()

	e, ok := findWindow(mock.getEvents(), window)
	if !ok {
		t.Fatal("no VPPMetricsEvent for the window")
	}
	if e.TasksInFlight != 2 || e.FrcRate != 2.5 || e.Flushes != 1 || e.Replaced != 1 || e.Inserted != 2 || e.Dropped != 0 {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp == "" {
		t.Error("event has no timestamp")
	}
}

func TestSSEExporterSkipsClosedWindows(t *testing.T) {
	window := "sse-closed-window"
	metrics.SetVPPTasksInFlight(window, 1)
	metrics.DeleteVPPMetrics(window)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond
	exporter.Start(t.Context())
	time.Sleep(40 * time.Millisecond)
	exporter.Stop()

	if _, ok := findWindow(mock.getEvents(), window); ok {
		t.Error("published metrics for a deleted window")
	}
}

func TestSSEExporterStop(t *testing.T) {
	window := "sse-stop-window"
	metrics.SetVPPFrcRate(window, 1)
	defer metrics.DeleteVPPMetrics(window)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before Start is a no-op.
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	exporter.Stop()
	exporter.Stop()

	count := len(mock.getEvents())
	if count == 0 {
		t.Fatal("no events while running")
	}
	time.Sleep(30 * time.Millisecond)
	if got := len(mock.getEvents()); got != count {
		t.Errorf("events published after stop: %d, want %d", got, count)
	}
}

func TestGetEventTypes(t *testing.T) {
	if _, ok := GetEventTypes()["vpp-metrics"]; !ok {
		t.Error("vpp-metrics event type missing")
	}
}
