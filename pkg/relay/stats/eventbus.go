package stats

import (
	"context"

	"github.com/corallang/voicerelay/o11y"
)

// Handler receives events published on a topic.
type Handler func(topic string, payload any)

// EventBus is a best-effort, fire-and-forget publish mechanism. Publish
// never blocks on subscriber work and never returns a subscriber's error:
// handler panics and slow handlers are the subscriber's problem, not the
// publisher's.
type EventBus struct {
	logger   *o11y.Logger
	handlers []Handler
}

// NewEventBus creates an EventBus that logs delivery failures via logger.
func NewEventBus(logger *o11y.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// Subscribe registers h to receive every future Publish call. Subscribe is
// not safe to call concurrently with Publish; register all handlers during
// startup.
func (b *EventBus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Publish announces payload on topic to every subscriber. A handler that
// panics is recovered and logged; Publish itself never returns an error to
// its own caller's caller, it always succeeds from relaycore's point of
// view.
func (b *EventBus) Publish(topic string, payload any) error {
	for _, h := range b.handlers {
		b.deliver(h, topic, payload)
	}
	return nil
}

func (b *EventBus) deliver(h Handler, topic string, payload any) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error(context.Background(), "stats: event handler panicked", "topic", topic, "recover", r)
		}
	}()
	h(topic, payload)
}
