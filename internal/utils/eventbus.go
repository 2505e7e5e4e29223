package utils

import (
	"sync"
)

// AllEvents subscribes a handler to every published event.
const AllEvents = "*"

type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type Handler func(event Event)

// EventBus delivers each published event to every subscriber synchronously, in
// subscription order. Handlers run on the publisher's goroutine and must not
// block; session registries enqueue and return.
type EventBus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]Handler),
	}
}

func (eb *EventBus) Publish(event string, data interface{}) int {
	e := Event{Event: event, Data: data}

	eb.mu.RLock()
	handlers := make([]Handler, 0, len(eb.subscribers[event])+len(eb.subscribers[AllEvents]))
	handlers = append(handlers, eb.subscribers[event]...)
	handlers = append(handlers, eb.subscribers[AllEvents]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return len(handlers)
}

func (eb *EventBus) Subscribe(event string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[event] = append(eb.subscribers[event], handler)
}
