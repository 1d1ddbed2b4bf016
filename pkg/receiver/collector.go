// Package receiver collects result events from workers, republishes them on
// the in-process event bus and records execution status.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	pollInterval = 100 * time.Millisecond

	// countedRetention bounds how long an execution id is remembered to avoid
	// counting both the Aborted and Shutdown events of one run.
	countedRetention = 5 * time.Minute
)

var ErrWaitTimeout = errors.New("timed out waiting for completions")

// ResultSource subscribes to the results topic.
type ResultSource interface {
	Results(ctx context.Context) (<-chan *message.Message, error)
}

type Collector struct {
	source ResultSource
	bus    eventbus.EventPublisher
	logger *slog.Logger

	mu        sync.Mutex
	completed int
	counted   map[string]time.Time
	done      chan struct{}
}

func NewCollector(source ResultSource, bus eventbus.EventPublisher, logger *slog.Logger) *Collector {
	return &Collector{
		source:  source,
		bus:     bus,
		logger:  logger.With("module", "results_collector"),
		counted: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the results topic and processes messages until the
// subscription closes.
func (c *Collector) Start(ctx context.Context) error {
	messages, err := c.source.Results(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	go func() {
		defer close(c.done)

		for msg := range messages {
			c.handle(ctx, msg)
			msg.Ack()
		}

		c.logger.InfoContext(ctx, "Results subscription closed")
	}()

	c.logger.InfoContext(ctx, "Results collector started")

	return nil
}

// Done is closed once the results subscription has ended.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) handle(ctx context.Context, msg *message.Message) {
	if messageType := wire.TypeOf(msg); messageType != wire.MessageResultEvent {
		c.logger.WarnContext(ctx, "Discarding unexpected message", "message_type", messageType, "message_id", msg.UUID)

		return
	}

	result, err := wire.DecodeResult(msg.Payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "Discarding malformed result", "error", err, "message_id", msg.UUID)

		return
	}

	event := result.ToEvent()

	err = c.bus.Publish(ctx, event.ExecutionID, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to republish event", "error", err, "event_type", event.Type, "execution_id", event.ExecutionID)
	}

	c.count(event)
}

func (c *Collector) count(event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if !event.Type.IsCompletion() {
		return
	}

	if _, seen := c.counted[event.ExecutionID]; seen {
		return
	}

	c.counted[event.ExecutionID] = now
	c.completed++

	for id, at := range c.counted {
		if now.Sub(at) > countedRetention {
			delete(c.counted, id)
		}
	}
}

// Completed returns the number of executions that completed or were aborted
// since the last reset.
func (c *Collector) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completed
}

// WaitForCompletions blocks until n executions have completed or been aborted,
// then resets the count.
func (c *Collector) WaitForCompletions(ctx context.Context, n int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if c.takeCompletions(n) {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %d of %d", ErrWaitTimeout, c.Completed(), n)
			}

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Collector) takeCompletions(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed < n {
		return false
	}

	c.completed = 0

	return true
}
