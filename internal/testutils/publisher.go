package testutils

import (
	"context"
	"sync"

	"telegram_studio_bot/internal/events"
)

// FakePublisher запоминает опубликованные события
type FakePublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
	Err    error
}

func (p *FakePublisher) Publish(_ context.Context, ev events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *FakePublisher) Close() error { return nil }

// Events возвращает копию опубликованных событий
func (p *FakePublisher) Events() []events.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.BookingEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Keys возвращает ключи маршрутизации опубликованных событий
func (p *FakePublisher) Keys() []string {
	var keys []string
	for _, ev := range p.Events() {
		keys = append(keys, events.RoutingKey(ev.To))
	}
	return keys
}
