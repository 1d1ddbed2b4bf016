package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/99scratch/WALKOFF/pkg/channels/gochannel"
	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DispatchesByType(t *testing.T) {
	bus := newBus(t)

	var (
		mu       sync.Mutex
		shutdown []string
		all      []events.EventType
	)

	require.NoError(t, bus.Handle(events.WorkflowShutdown, func(_ context.Context, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()

		shutdown = append(shutdown, event.ExecutionID)

		return nil
	}))
	require.NoError(t, bus.HandleAll(func(_ context.Context, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()

		all = append(all, event.Type)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	sender := events.Sender{Type: events.SenderWorkflow, ID: "wf", WorkflowID: "wf"}
	require.NoError(t, bus.Publish(ctx, "exec-1", events.New(events.WorkflowExecutionStart, "exec-1", sender, nil)))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.New(events.WorkflowShutdown, "exec-1", sender, map[string]any{"status": "completed"})))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(all) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"exec-1"}, shutdown)
	assert.Equal(t, []events.EventType{events.WorkflowExecutionStart, events.WorkflowShutdown}, all)
}

func TestHandlers_JoinsErrors(t *testing.T) {
	handlers := eventbus.NewHandlers()
	calls := 0

	handlers.Add(events.WorkerReady, func(context.Context, events.Event) error {
		calls++

		return errors.New("first")
	})
	handlers.AddAll(func(context.Context, events.Event) error {
		calls++

		return errors.New("second")
	})

	err := handlers.Dispatch(context.Background(), events.Event{Type: events.WorkerReady})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, 2, calls)

	assert.NoError(t, handlers.Dispatch(context.Background(), events.Event{Type: events.WorkflowPaused}))
}

type publisherFunc func(ctx context.Context, key string, event events.Event) error

func (f publisherFunc) Publish(ctx context.Context, key string, event events.Event) error {
	return f(ctx, key, event)
}

func TestEmitter_KeysByExecution(t *testing.T) {
	var keys []string

	emitter := eventbus.NewEmitter(publisherFunc(func(_ context.Context, key string, _ events.Event) error {
		keys = append(keys, key)

		return errors.New("unavailable")
	}), slog.New(slog.NewTextHandler(os.Stdout, nil)))

	emitter.Emit(context.Background(), events.New(events.ActionStarted, "exec-9", events.Sender{}, nil))

	assert.Equal(t, []string{"exec-9"}, keys)
}
