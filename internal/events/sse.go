package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges callback subscriptions to a channel for huma SSE handlers.
// Events are dropped when the channel is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
