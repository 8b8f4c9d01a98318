package events

import (
	"github.com/kelindar/event"
)

// binding connects one concrete event type to the dispatcher.
// kelindar/event dispatches on the static type, so Publish needs the
// concrete value back out of the Event interface.
type binding struct {
	publish   func(*event.Dispatcher, Event)
	subscribe func(*event.Dispatcher, any) (func(), bool)
}

func bind[T Event]() binding {
	return binding{
		publish: func(d *event.Dispatcher, ev Event) {
			if e, ok := ev.(T); ok {
				event.Publish(d, e)
			}
		},
		subscribe: func(d *event.Dispatcher, handler any) (func(), bool) {
			fn, ok := handler.(func(T))
			if !ok {
				return nil, false
			}
			return event.Subscribe(d, fn), true
		},
	}
}

func key[T Event]() uint32 {
	var zero T
	return zero.Type()
}

// bindings lists every event the bus carries, keyed by Type().
var bindings = map[uint32]binding{
	key[ModeChangedEvent]():     bind[ModeChangedEvent](),
	key[FrameSkippedEvent]():    bind[FrameSkippedEvent](),
	key[StatisticsReadyEvent](): bind[StatisticsReadyEvent](),
	key[ObserverErrorEvent]():   bind[ObserverErrorEvent](),
	key[SessionOpenedEvent]():   bind[SessionOpenedEvent](),
	key[SessionClosedEvent]():   bind[SessionClosedEvent](),
	key[FlushCompletedEvent]():  bind[FlushCompletedEvent](),
	key[FrcChangedEvent]():      bind[FrcChangedEvent](),
	key[LogEntryEvent]():        bind[LogEntryEvent](),
	key[VPPMetricsEvent]():      bind[VPPMetricsEvent](),
}

// Bus broadcasts typed events through a kelindar/event dispatcher.
// Handlers run on the dispatcher's goroutines, not the publisher's.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish sends ev to its subscribers. A nil bus or an event type the bus
// does not carry is dropped.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	if bd, ok := bindings[ev.Type()]; ok {
		bd.publish(b.dispatcher, ev)
	}
}

// Subscribe registers handler, a func taking one event type by value, and
// returns its unsubscribe function. Other handler shapes get a no-op.
//
//	unsub := bus.Subscribe(func(e ModeChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	for _, bd := range bindings {
		if unsub, ok := bd.subscribe(b.dispatcher, handler); ok {
			return unsub
		}
	}
	return func() {}
}
