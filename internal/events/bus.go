package events

import (
	"github.com/kelindar/event"
)

// Bus broadcasts display events to subscribers.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish sends ev to every subscriber of its concrete type. A nil bus drops
// the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case HotplugEvent:
		event.Publish(b.dispatcher, e)
	case ModeChangedEvent:
		event.Publish(b.dispatcher, e)
	case PowerStateEvent:
		event.Publish(b.dispatcher, e)
	case LayerUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case VblankEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type of its argument and returns
// the unsubscribe function. Unknown handler types get a no-op.
//
//	unsub := bus.Subscribe(func(e HotplugEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(HotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ModeChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PowerStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LayerUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(VblankEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T into ch, dropping them when ch
// is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
