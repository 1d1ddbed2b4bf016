package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultGracePeriod = 3 * time.Second

var ErrAlreadyStarted = errors.New("supervisor already started")

type SupervisorConfig struct {
	// Binary is the worker executable; Args are passed to every worker.
	Binary string
	Args   []string
	// Env is appended to the supervisor's own environment.
	Env   []string
	Count int
	// GracePeriod bounds each shutdown stage.
	GracePeriod time.Duration
}

type process struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor runs worker processes, watches them and shuts them down in
// stages: interrupt, then terminate, then kill.
type Supervisor struct {
	config SupervisorConfig
	logger *slog.Logger

	mu        sync.Mutex
	processes []*process
	onExit    func(workerID string, err error)
	stopping  bool
}

func NewSupervisor(config SupervisorConfig, logger *slog.Logger) *Supervisor {
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaultGracePeriod
	}

	return &Supervisor{
		config: config,
		logger: logger.With("module", "worker_supervisor"),
	}
}

// OnExit registers a callback for workers that exit while the supervisor is
// not shutting down.
func (s *Supervisor) OnExit(fn func(workerID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onExit = fn
}

// Start launches the configured number of workers and returns their ids.
func (s *Supervisor) Start(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.processes) > 0 {
		return nil, ErrAlreadyStarted
	}

	ids := make([]string, 0, s.config.Count)

	for range s.config.Count {
		p, err := s.spawn(ctx)
		if err != nil {
			return ids, err
		}

		s.processes = append(s.processes, p)
		ids = append(ids, p.id)
	}

	return ids, nil
}

func (s *Supervisor) spawn(ctx context.Context) (*process, error) {
	id := "worker-" + uuid.New().String()[:8]

	// #nosec G204 -- the worker binary comes from the operator's configuration
	cmd := exec.Command(s.config.Binary, s.config.Args...)
	cmd.Env = append(append(os.Environ(), s.config.Env...), "WORKER_ID="+id)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", id, err)
	}

	p := &process{id: id, cmd: cmd, done: make(chan struct{})}

	s.logger.InfoContext(ctx, "Worker process started", "worker_id", id, "pid", cmd.Process.Pid)

	go s.watch(context.WithoutCancel(ctx), p)

	return p, nil
}

func (s *Supervisor) watch(ctx context.Context, p *process) {
	p.err = p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	stopping := s.stopping
	onExit := s.onExit
	s.mu.Unlock()

	if stopping {
		s.logger.InfoContext(ctx, "Worker process exited", "worker_id", p.id, "error", p.err)

		return
	}

	s.logger.WarnContext(ctx, "Worker process exited unexpectedly", "worker_id", p.id, "error", p.err)

	if onExit != nil {
		onExit(p.id, p.err)
	}
}

// Alive returns the ids of the workers whose process is still running.
func (s *Supervisor) Alive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var alive []string

	for _, p := range s.processes {
		if !p.exited() {
			alive = append(alive, p.id)
		}
	}

	return alive
}

// Shutdown stops every running worker, escalating from SIGINT to SIGTERM to
// SIGKILL when a worker outlives the grace period.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	processes := append([]*process(nil), s.processes...)
	s.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)

	for _, p := range processes {
		group.Go(func() error {
			return s.stop(ctx, p)
		})
	}

	return group.Wait()
}

func (s *Supervisor) stop(ctx context.Context, p *process) error {
	logger := s.logger.With("worker_id", p.id)

	stages := []struct {
		name   string
		signal os.Signal
	}{
		{"interrupt", os.Interrupt},
		{"terminate", syscall.SIGTERM},
	}

	for _, stage := range stages {
		if p.exited() {
			return nil
		}

		err := p.cmd.Process.Signal(stage.signal)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.WarnContext(ctx, "Failed to signal worker", "stage", stage.name, "error", err)
		}

		if s.wait(ctx, p) {
			logger.InfoContext(ctx, "Worker stopped", "stage", stage.name)

			return nil
		}

		logger.WarnContext(ctx, "Worker still running after grace period", "stage", stage.name)
	}

	if p.exited() {
		return nil
	}

	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker %s: %w", p.id, err)
	}

	<-p.done
	logger.WarnContext(ctx, "Worker killed")

	return nil
}

func (s *Supervisor) wait(ctx context.Context, p *process) bool {
	timer := time.NewTimer(s.config.GracePeriod)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
