package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Subscribers run asynchronously,
// so publishing from the interrupt path never blocks on a slow handler.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. A nil bus drops events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case FrameDeliveredEvent:
		event.Publish(b.dispatcher, e)
	case FrameErrorEvent:
		event.Publish(b.dispatcher, e)
	case GOPResetEvent:
		event.Publish(b.dispatcher, e)
	case DMAErrorEvent:
		event.Publish(b.dispatcher, e)
	case MotionEvent:
		event.Publish(b.dispatcher, e)
	case AdmissionEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type it accepts and returns an
// unsubscribe function
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(FrameDeliveredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(GOPResetEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DMAErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MotionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(AdmissionEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
