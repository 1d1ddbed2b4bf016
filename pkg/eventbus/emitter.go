package eventbus

import (
	"context"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/events"
)

// Emitter publishes events on a bus keyed by execution id. Publish failures
// are logged; emitting never blocks the caller on an error.
type Emitter struct {
	bus    EventPublisher
	logger *slog.Logger
}

func NewEmitter(bus EventPublisher, logger *slog.Logger) *Emitter {
	return &Emitter{bus: bus, logger: logger.With("module", "event_emitter")}
}

func (e *Emitter) Emit(ctx context.Context, event events.Event) {
	err := e.bus.Publish(ctx, event.ExecutionID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "error", err, "event_type", event.Type, "execution_id", event.ExecutionID)
	}
}
