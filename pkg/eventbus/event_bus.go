// Package eventbus provides the in-process event stream results are
// republished on for dispatcher bookkeeping, status recording and API consumers.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/events"
)

const (
	Topic             = "walkoff.events"
	MetadataKey       = "key"
	MetadataEventType = "event_type"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	HandleAll(handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Handlers is the handler table shared by the bus implementations.
type Handlers struct {
	mu     sync.RWMutex
	byType map[events.EventType][]EventHandler
	all    []EventHandler
}

func NewHandlers() *Handlers {
	return &Handlers{byType: make(map[events.EventType][]EventHandler)}
}

func (h *Handlers) Add(eventType events.EventType, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.byType[eventType] = append(h.byType[eventType], handler)
}

func (h *Handlers) AddAll(handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all = append(h.all, handler)
}

// Dispatch calls every handler registered for the event's type, then the
// catch-all handlers, and joins their errors.
func (h *Handlers) Dispatch(ctx context.Context, event events.Event) error {
	h.mu.RLock()
	handlers := make([]EventHandler, 0, len(h.byType[event.Type])+len(h.all))
	handlers = append(handlers, h.byType[event.Type]...)
	handlers = append(handlers, h.all...)
	h.mu.RUnlock()

	var errs []error

	for _, handler := range handlers {
		err := handler(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
