package dispatcher

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "WALKOFF_SUPERVISOR_HELPER"

// TestHelperWorker is the worker process started by the supervisor tests.
func TestHelperWorker(_ *testing.T) {
	switch os.Getenv(helperEnv) {
	case "graceful":
		interrupted := make(chan os.Signal, 1)
		signal.Notify(interrupted, os.Interrupt)
		<-interrupted
		os.Exit(0)
	case "stubborn":
		signal.Ignore(os.Interrupt, syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	case "crash":
		os.Exit(3)
	}
}

func newSupervisor(t *testing.T, mode string, count int) *Supervisor {
	t.Helper()

	supervisor := NewSupervisor(SupervisorConfig{
		Binary:      os.Args[0],
		Args:        []string{"-test.run=^TestHelperWorker$"},
		Env:         []string{helperEnv + "=" + mode},
		Count:       count,
		GracePeriod: 200 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	t.Cleanup(func() { _ = supervisor.Shutdown(t.Context()) })

	return supervisor
}

func TestSupervisor_GracefulShutdown(t *testing.T) {
	supervisor := newSupervisor(t, "graceful", 2)

	ids, err := supervisor.Start(t.Context())
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.ElementsMatch(t, ids, supervisor.Alive())

	// Give the helpers time to install their signal handler.
	time.Sleep(300 * time.Millisecond)

	started := time.Now()
	require.NoError(t, supervisor.Shutdown(t.Context()))

	assert.Empty(t, supervisor.Alive())
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestSupervisor_EscalatesToKill(t *testing.T) {
	supervisor := newSupervisor(t, "stubborn", 1)

	_, err := supervisor.Start(t.Context())
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	started := time.Now()
	require.NoError(t, supervisor.Shutdown(t.Context()))

	assert.Empty(t, supervisor.Alive())
	assert.GreaterOrEqual(t, time.Since(started), 400*time.Millisecond)
}

func TestSupervisor_ReportsUnexpectedExit(t *testing.T) {
	supervisor := newSupervisor(t, "crash", 1)

	exited := make(chan string, 1)
	supervisor.OnExit(func(workerID string, err error) {
		assert.Error(t, err)
		exited <- workerID
	})

	ids, err := supervisor.Start(t.Context())
	require.NoError(t, err)

	select {
	case id := <-exited:
		assert.Equal(t, ids[0], id)
	case <-time.After(10 * time.Second):
		t.Fatal("exit not reported")
	}

	assert.Empty(t, supervisor.Alive())
}

func TestSupervisor_StartTwice(t *testing.T) {
	supervisor := newSupervisor(t, "crash", 1)

	_, err := supervisor.Start(t.Context())
	require.NoError(t, err)

	_, err = supervisor.Start(t.Context())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSupervisor_StartFailure(t *testing.T) {
	supervisor := NewSupervisor(SupervisorConfig{
		Binary: "/nonexistent/walkoff-worker",
		Count:  1,
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	_, err := supervisor.Start(t.Context())
	assert.Error(t, err)
}
