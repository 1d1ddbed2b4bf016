package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence/file"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	workerID string
	execute  *wire.ExecuteWorkflow
	control  *wire.Control
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentMessage
	results []wire.ResultEvent
	failFor string
}

func (f *fakeTransport) SendExecute(_ context.Context, workerID string, request wire.ExecuteWorkflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if workerID == f.failFor {
		return errors.New("unreachable")
	}

	f.sent = append(f.sent, sentMessage{workerID: workerID, execute: &request})

	return nil
}

func (f *fakeTransport) SendControl(_ context.Context, workerID string, control wire.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentMessage{workerID: workerID, control: &control})

	return nil
}

func (f *fakeTransport) PublishResult(_ context.Context, result wire.ResultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results = append(f.results, result)

	return nil
}

func (f *fakeTransport) executes() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	assigned := map[string]string{}

	for _, message := range f.sent {
		if message.execute != nil {
			assigned[message.execute.ExecutionID] = message.workerID
		}
	}

	return assigned
}

func (f *fakeTransport) lastExecute() *wire.ExecuteWorkflow {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].execute != nil {
			return f.sent[i].execute
		}
	}

	return nil
}

func (f *fakeTransport) controls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var controls []sentMessage

	for _, message := range f.sent {
		if message.control != nil {
			controls = append(controls, message)
		}
	}

	return controls
}

func (f *fakeTransport) emitted(eventType events.EventType) []wire.ResultEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []wire.ResultEvent

	for _, result := range f.results {
		if result.EventKind == eventType {
			matched = append(matched, result)
		}
	}

	return matched
}

type recordingShutdowner struct {
	calls int
}

func (r *recordingShutdowner) Shutdown(context.Context) error {
	r.calls++

	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	transport  *fakeTransport
	store      *file.Persistence
	supervisor *recordingShutdowner
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		transport:  &fakeTransport{},
		store:      file.NewPersistence(t.TempDir()),
		supervisor: &recordingShutdowner{},
	}

	config := Config{
		Transport:  f.transport,
		Executions: f.store,
		Supervisor: f.supervisor,
	}
	for _, fn := range configure {
		fn(&config)
	}

	f.dispatcher = New(config, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = f.dispatcher.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return f
}

func (f *fixture) ready(t *testing.T, workerIDs ...string) {
	t.Helper()

	for _, id := range workerIDs {
		require.NoError(t, f.dispatcher.observe(t.Context(), events.Event{Type: events.WorkerReady, WorkerID: id}))
	}
}

func (f *fixture) finish(t *testing.T, eventType events.EventType, executionID, workerID string) {
	t.Helper()

	require.NoError(t, f.dispatcher.observe(t.Context(), events.Event{Type: eventType, ExecutionID: executionID, WorkerID: workerID}))
}

func (f *fixture) snapshot(t *testing.T) Snapshot {
	t.Helper()

	snapshot, err := f.dispatcher.Snapshot(t.Context())
	require.NoError(t, err)

	return snapshot
}

func (f *fixture) submit(t *testing.T, executionID string) {
	t.Helper()

	id, err := f.dispatcher.Submit(t.Context(), SubmitRequest{
		ExecutionID: executionID,
		Workflow:    &models.Workflow{ID: "wf", Name: "wf"},
	})
	require.NoError(t, err)
	require.Equal(t, executionID, id)
}

func (f *fixture) suspend(t *testing.T, executionID string, status models.ExecutionStatus) {
	t.Helper()

	require.NoError(t, f.store.SaveExecution(t.Context(), &models.Execution{
		ID:         executionID,
		WorkflowID: "wf",
		Status:     status,
		Checkpoint: &models.Checkpoint{WorkflowID: "wf", ActionID: "b", Accumulator: map[string]any{"a": "x"}},
	}))
}

func TestDispatcher_SubmitGeneratesIDAndEmitsPending(t *testing.T) {
	f := newFixture(t)

	id, err := f.dispatcher.Submit(t.Context(), SubmitRequest{Workflow: &models.Workflow{ID: "wf", Name: "wf"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending := f.transport.emitted(events.WorkflowExecutionPending)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ExecutionID)
	assert.Equal(t, "wf", pending[0].WorkflowID)
	assert.Equal(t, []string{id}, f.snapshot(t).Queued)
}

func TestDispatcher_SubmitNeedsWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Submit(t.Context(), SubmitRequest{})
	assert.ErrorIs(t, err, ErrNoWorkflow)
}

func TestDispatcher_SubmitRejectsInvalidWorkflow(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.Resolver = registry.NewRegistry(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	})

	_, err := f.dispatcher.Submit(t.Context(), SubmitRequest{Workflow: &models.Workflow{
		ID:      "wf",
		Name:    "wf",
		Start:   "a",
		Actions: []*models.Action{{ID: "a", AppName: "missing", ActionName: "x"}},
	}})
	require.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
	assert.Empty(t, f.transport.emitted(events.WorkflowExecutionPending))
}

func TestDispatcher_AssignsFIFORoundRobin(t *testing.T) {
	f := newFixture(t)

	f.submit(t, "e1")
	f.submit(t, "e2")
	f.submit(t, "e3")
	f.ready(t, "w1", "w2")

	snapshot := f.snapshot(t)
	assert.Equal(t, map[string]string{"e1": "w1", "e2": "w2"}, snapshot.Owners)
	assert.Equal(t, []string{"e3"}, snapshot.Queued)

	f.finish(t, events.WorkflowShutdown, "e1", "w1")

	snapshot = f.snapshot(t)
	assert.Equal(t, map[string]string{"e2": "w2", "e3": "w1"}, snapshot.Owners)
	assert.Empty(t, snapshot.Queued)
	assert.Equal(t, map[string]string{"e1": "w1", "e2": "w2", "e3": "w1"}, f.transport.executes())
}

func TestDispatcher_SuspensionReleasesWorker(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")

	f.submit(t, "e1")
	f.submit(t, "e2")
	f.finish(t, events.TriggerActionAwaitingData, "e1", "w1")

	assert.Equal(t, map[string]string{"e2": "w1"}, f.snapshot(t).Owners)
}

func TestDispatcher_OneOwnerPerExecution(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1", "w2")

	f.submit(t, "e1")
	f.submit(t, "e1")

	snapshot := f.snapshot(t)
	assert.Equal(t, map[string]string{"e1": "w1"}, snapshot.Owners)
	assert.Equal(t, []string{"e1"}, snapshot.Queued)

	f.finish(t, events.WorkflowPaused, "e1", "w1")

	snapshot = f.snapshot(t)
	assert.Equal(t, map[string]string{"e1": "w2"}, snapshot.Owners)
	assert.Empty(t, snapshot.Queued)
}

func TestDispatcher_FailedSendKeepsRequestQueued(t *testing.T) {
	f := newFixture(t)
	f.transport.failFor = "w1"

	f.ready(t, "w1")
	f.submit(t, "e1")

	snapshot := f.snapshot(t)
	assert.Empty(t, snapshot.Owners)
	assert.Equal(t, []string{"e1"}, snapshot.Queued)
}

func TestDispatcher_Pause(t *testing.T) {
	f := newFixture(t)

	ok, err := f.dispatcher.Pause(t.Context(), "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	f.ready(t, "w1")
	f.submit(t, "e1")

	ok, err = f.dispatcher.Pause(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	controls := f.transport.controls()
	require.Len(t, controls, 1)
	assert.Equal(t, "w1", controls[0].workerID)
	assert.Equal(t, wire.Control{Type: wire.ControlPause, ExecutionID: "e1"}, *controls[0].control)
}

func TestDispatcher_AbortRunning(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")
	f.submit(t, "e1")

	ok, err := f.dispatcher.Abort(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	controls := f.transport.controls()
	require.Len(t, controls, 1)
	assert.Equal(t, wire.ControlAbort, controls[0].control.Type)
	assert.Empty(t, f.transport.emitted(events.WorkflowAborted))
}

func TestDispatcher_AbortQueued(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "e1")

	ok, err := f.dispatcher.Abort(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, f.snapshot(t).Queued)
	require.Len(t, f.transport.emitted(events.WorkflowAborted), 1)

	f.ready(t, "w1")
	assert.Empty(t, f.transport.executes())
}

func TestDispatcher_AbortSuspended(t *testing.T) {
	f := newFixture(t)
	f.suspend(t, "e1", models.ExecutionStatusAwaitingData)

	ok, err := f.dispatcher.Abort(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	aborted := f.transport.emitted(events.WorkflowAborted)
	require.Len(t, aborted, 1)
	assert.Equal(t, "e1", aborted[0].ExecutionID)
	assert.Equal(t, events.SenderDispatcher, aborted[0].Sender.Type)
}

func TestDispatcher_AbortUnknownIsNoop(t *testing.T) {
	f := newFixture(t)

	ok, err := f.dispatcher.Abort(t.Context(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.transport.emitted(events.WorkflowAborted))
}

func TestDispatcher_ResumeFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")
	f.suspend(t, "e1", models.ExecutionStatusPaused)

	ok, err := f.dispatcher.Resume(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.transport.emitted(events.WorkflowResumed), 1)

	request := f.transport.lastExecute()
	require.NotNil(t, request)
	assert.Equal(t, "e1", request.ExecutionID)
	assert.Equal(t, "wf", request.WorkflowID)
	assert.Equal(t, "b", request.StartActionID)
	assert.True(t, request.Resume)
	assert.Equal(t, map[string]any{"a": "x"}, request.Accumulator)
	assert.Nil(t, request.TriggerData)
}

func TestDispatcher_ResumeRequiresPaused(t *testing.T) {
	f := newFixture(t)
	f.suspend(t, "e1", models.ExecutionStatusAwaitingData)

	ok, err := f.dispatcher.Resume(t.Context(), "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.dispatcher.Resume(t.Context(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f.transport.lastExecute())
}

func TestDispatcher_SendDataToTrigger(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1", "w2")
	f.submit(t, "running")
	f.suspend(t, "waiting", models.ExecutionStatusAwaitingData)

	arguments := []models.Argument{{Name: "value", Value: 46}}

	delivered, err := f.dispatcher.SendDataToTrigger(t.Context(), map[string]any{"k": "v"}, []string{"running", "waiting", "unknown"}, arguments)
	require.NoError(t, err)
	assert.Equal(t, []string{"running", "waiting"}, delivered)

	controls := f.transport.controls()
	require.Len(t, controls, 1)
	assert.Equal(t, wire.ControlSendData, controls[0].control.Type)
	assert.Equal(t, "running", controls[0].control.ExecutionID)
	require.Len(t, controls[0].control.Payload.Arguments, 1)
	assert.Equal(t, "46", *controls[0].control.Payload.Arguments[0].Value)

	request := f.transport.lastExecute()
	require.NotNil(t, request)
	assert.Equal(t, "waiting", request.ExecutionID)
	assert.True(t, request.Resume)
	require.NotNil(t, request.TriggerData)
	assert.Equal(t, map[string]any{"k": "v"}, request.TriggerData.Data)
}

func TestDispatcher_WaitingExecutions(t *testing.T) {
	f := newFixture(t)
	f.suspend(t, "waiting", models.ExecutionStatusAwaitingData)
	f.suspend(t, "paused", models.ExecutionStatusPaused)

	waiting, err := f.dispatcher.WaitingExecutions(t.Context())
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "waiting", waiting[0].ID)
}

func TestDispatcher_WorkerLostAbortsExecution(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1", "w2")
	f.submit(t, "e1")

	f.dispatcher.WorkerLost("w1")

	snapshot := f.snapshot(t)
	assert.Empty(t, snapshot.Owners)
	assert.Contains(t, snapshot.Workers, WorkerStatus{ID: "w1", Alive: false})

	aborted := f.transport.emitted(events.WorkflowAborted)
	require.Len(t, aborted, 1)
	assert.Equal(t, "e1", aborted[0].ExecutionID)

	f.submit(t, "e2")
	f.submit(t, "e3")
	assert.Equal(t, map[string]string{"e2": "w2"}, f.snapshot(t).Owners)
}

func TestDispatcher_Exit(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1", "w2")
	f.dispatcher.WorkerLost("w2")

	require.NoError(t, f.dispatcher.Exit(t.Context()))

	controls := f.transport.controls()
	require.Len(t, controls, 1)
	assert.Equal(t, "w1", controls[0].workerID)
	assert.Equal(t, wire.ControlExit, controls[0].control.Type)
	assert.Equal(t, 1, f.supervisor.calls)

	_, err := f.dispatcher.Submit(t.Context(), SubmitRequest{Workflow: &models.Workflow{ID: "wf", Name: "wf"}})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDispatcher_ResumeOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.suspend(t, "e1", models.ExecutionStatusPaused)

	ok, err := f.dispatcher.Resume(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.dispatcher.Resume(t.Context(), "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.dispatcher.Submit(t.Context(), SubmitRequest{WorkflowID: "wf", ExecutionID: "e1", Resume: true})
	require.ErrorIs(t, err, ErrScheduled)

	assert.Equal(t, []string{"e1"}, f.snapshot(t).Queued)
	assert.Len(t, f.transport.emitted(events.WorkflowResumed), 1)
	assert.Len(t, f.transport.emitted(events.WorkflowExecutionPending), 1)

	f.ready(t, "w1")

	ok, err = f.dispatcher.Resume(t.Context(), "e1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"e1": "w1"}, f.snapshot(t).Owners)
	assert.Empty(t, f.snapshot(t).Queued)
}

func TestDispatcher_SendDataResumesOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.suspend(t, "e2", models.ExecutionStatusAwaitingData)

	delivered, err := f.dispatcher.SendDataToTrigger(t.Context(), "first", []string{"e2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, delivered)

	delivered, err = f.dispatcher.SendDataToTrigger(t.Context(), "second", []string{"e2"}, nil)
	require.NoError(t, err)
	assert.Empty(t, delivered)

	assert.Equal(t, []string{"e2"}, f.snapshot(t).Queued)

	f.ready(t, "w1")

	request := f.transport.lastExecute()
	require.NotNil(t, request)
	require.NotNil(t, request.TriggerData)
	assert.Equal(t, "first", request.TriggerData.Data)
}

func rejected(control wire.Control) events.Event {
	event := events.New(events.ControlRejected, control.ExecutionID, events.Sender{Type: events.SenderWorker, ID: "w1"}, wire.RejectionPayload(control))
	event.WorkerID = "w1"

	return event
}

func (f *fixture) record(t *testing.T, executionID string, status models.ExecutionStatus) {
	t.Helper()

	require.NoError(t, f.store.SaveExecution(t.Context(), &models.Execution{ID: executionID, WorkflowID: "wf", Status: status}))
}

func TestDispatcher_RejectedSendDataResumesSuspended(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")
	f.submit(t, "e1")
	f.record(t, "e1", models.ExecutionStatusRunning)

	delivered, err := f.dispatcher.SendDataToTrigger(t.Context(), "late", []string{"e1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, delivered)

	controls := f.transport.controls()
	require.Len(t, controls, 1)

	// The run suspended before the data reached the worker; the rejection
	// arrives ahead of both the release and the recorded suspension.
	require.NoError(t, f.dispatcher.observe(t.Context(), rejected(*controls[0].control)))
	f.suspend(t, "e1", models.ExecutionStatusAwaitingData)
	f.finish(t, events.TriggerActionAwaitingData, "e1", "w1")

	require.Eventually(t, func() bool {
		request := f.transport.lastExecute()

		return request != nil && request.Resume
	}, 5*time.Second, 10*time.Millisecond)

	request := f.transport.lastExecute()
	assert.Equal(t, "e1", request.ExecutionID)
	assert.Equal(t, "b", request.StartActionID)
	require.NotNil(t, request.TriggerData)
	assert.Equal(t, "late", request.TriggerData.Data)
	assert.Equal(t, map[string]string{"e1": "w1"}, f.snapshot(t).Owners)
}

func TestDispatcher_RejectedAbortAbortsSuspended(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")
	f.submit(t, "e1")
	f.record(t, "e1", models.ExecutionStatusRunning)

	ok, err := f.dispatcher.Abort(t.Context(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	f.finish(t, events.WorkflowPaused, "e1", "w1")
	require.NoError(t, f.dispatcher.observe(t.Context(), rejected(wire.Control{Type: wire.ControlAbort, ExecutionID: "e1"})))
	f.suspend(t, "e1", models.ExecutionStatusPaused)

	require.Eventually(t, func() bool {
		return len(f.transport.emitted(events.WorkflowAborted)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	aborted := f.transport.emitted(events.WorkflowAborted)[0]
	assert.Equal(t, "e1", aborted.ExecutionID)
	assert.Equal(t, "aborted while paused", aborted.Payload["reason"])
}

func TestDispatcher_RejectedControlForFinishedExecution(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "w1")
	f.record(t, "done", models.ExecutionStatusCompleted)

	require.NoError(t, f.dispatcher.observe(t.Context(), rejected(wire.Control{Type: wire.ControlAbort, ExecutionID: "done"})))
	require.NoError(t, f.dispatcher.observe(t.Context(), rejected(wire.Control{
		Type:        wire.ControlSendData,
		ExecutionID: "done",
		Payload:     &wire.TriggerData{Data: "late"},
	})))
	require.NoError(t, f.dispatcher.observe(t.Context(), rejected(wire.Control{Type: wire.ControlPause, ExecutionID: "done"})))

	assert.Never(t, func() bool {
		return len(f.transport.emitted(events.WorkflowAborted)) > 0 || f.transport.lastExecute() != nil
	}, 300*time.Millisecond, 20*time.Millisecond)
}
