package events

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan ModeChangedEvent, 1)

	unsub := bus.Subscribe(func(e ModeChangedEvent) {
		received <- e
	})
	defer unsub()

	event := ModeChangedEvent{
		Previous:  "none",
		Mode:      "preview",
		Session:   1,
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Mode != event.Mode || got.Session != event.Session {
		t.Errorf("got %+v, want %+v", got, event)
	}
}

func TestBus_NilPublish(_ *testing.T) {
	var bus *Bus
	bus.Publish(ModeChangedEvent{Mode: "video"})
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SessionOpenedEvent, 1)
	received2 := make(chan SessionOpenedEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionOpenedEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e SessionOpenedEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(SessionOpenedEvent{SessionID: "abc", Window: "hdmi0"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan ObserverErrorEvent, 1)

	unsub := bus.Subscribe(func(e ObserverErrorEvent) {
		received <- e
	})

	bus.Publish(ObserverErrorEvent{Source: "preview"})
	<-received

	unsub()

	bus.Publish(ObserverErrorEvent{Source: "3a"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	skipped := make(chan bool, 1)
	stats := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameSkippedEvent) { skipped <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(_ StatisticsReadyEvent) { stats <- true })
	defer unsub2()

	bus.Publish(FrameSkippedEvent{Device: "preview", Reason: "initial"})
	<-skipped

	select {
	case <-stats:
		t.Fatal("statistics subscriber received a FrameSkippedEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(StatisticsReadyEvent{Sequence: 4})
	<-stats

	select {
	case <-skipped:
		t.Fatal("frame subscriber received a StatisticsReadyEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FlushCompletedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(FlushCompletedEvent{
					Reason:    "seek",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func relay[T Event](b *Bus, ch chan<- Event) func() {
	return b.Subscribe(func(e T) { ch <- e })
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
		sub   func(*Bus, chan<- Event) func()
	}{
		{"ModeChanged", ModeChangedEvent{Mode: "capture"}, relay[ModeChangedEvent]},
		{"FrameSkipped", FrameSkippedEvent{Device: "preview"}, relay[FrameSkippedEvent]},
		{"StatisticsReady", StatisticsReadyEvent{Sequence: 1}, relay[StatisticsReadyEvent]},
		{"ObserverError", ObserverErrorEvent{Source: "preview"}, relay[ObserverErrorEvent]},
		{"SessionOpened", SessionOpenedEvent{SessionID: "a"}, relay[SessionOpenedEvent]},
		{"SessionClosed", SessionClosedEvent{SessionID: "a"}, relay[SessionClosedEvent]},
		{"FlushCompleted", FlushCompletedEvent{Reason: "eos"}, relay[FlushCompletedEvent]},
		{"FrcChanged", FrcChangedEvent{Enabled: true, Rate: "2x"}, relay[FrcChangedEvent]},
		{"LogEntry", LogEntryEvent{Message: "hello"}, relay[LogEntryEvent]},
		{"VPPMetrics", VPPMetricsEvent{Window: "sim0", TasksInFlight: 2}, relay[VPPMetricsEvent]},
	}
	if len(tests) != len(bindings) {
		t.Fatalf("table covers %d event types, bus carries %d", len(tests), len(bindings))
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan Event, 1)
			unsub := tt.sub(bus, received)
			defer unsub()

			bus.Publish(tt.event)
			select {
			case got := <-received:
				if !reflect.DeepEqual(got, tt.event) {
					t.Errorf("received %+v, want %+v", got, tt.event)
				}
			case <-time.After(time.Second):
				t.Fatal("event not delivered")
			}
		})
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	data, err := json.Marshal(ModeChangedEvent{
		Previous:  "preview",
		Mode:      "none",
		Session:   2,
		Error:     "start failed",
		Timestamp: "2025-01-27T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if result["mode"] != "none" || result["error"] != "start failed" {
		t.Errorf("unexpected json: %s", data)
	}

	data, _ = json.Marshal(ModeChangedEvent{Mode: "preview"})
	result = map[string]any{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if _, ok := result["error"]; ok {
		t.Errorf("error field should be omitted when empty: %s", data)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[FrcChangedEvent](bus, ch)
	defer unsub()

	bus.Publish(FrcChangedEvent{Window: "hdmi0", Enabled: true, Rate: "2.5x"})

	received := <-ch
	ev, ok := received.(FrcChangedEvent)
	if !ok {
		t.Fatalf("Expected FrcChangedEvent, got %T", received)
	}
	if ev.Rate != "2.5x" {
		t.Errorf("Rate = %s, want 2.5x", ev.Rate)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any)

	unsub := SubscribeToChannel[LogEntryEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(LogEntryEvent{Message: "dropped"})
		done <- true
	}()

	<-done
}
