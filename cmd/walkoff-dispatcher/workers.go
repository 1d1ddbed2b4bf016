package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/dispatcher"
	"github.com/99scratch/WALKOFF/pkg/worker"
	"github.com/google/uuid"
)

// workerPool runs workers as goroutines of the dispatcher process. It stands
// in for the process supervisor when the transport is in-memory.
type workerPool struct {
	logger    *slog.Logger
	transport worker.Transport
	count     int
	configFor func(id string) worker.Config

	mu      sync.Mutex
	onExit  func(workerID string, err error)
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func newWorkerPool(logger *slog.Logger, transport worker.Transport, count int, configFor func(id string) worker.Config) *workerPool {
	return &workerPool{
		logger:    logger,
		transport: transport,
		count:     count,
		configFor: configFor,
	}
}

func (p *workerPool) OnExit(fn func(workerID string, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onExit = fn
}

func (p *workerPool) Start(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, dispatcher.ErrAlreadyStarted
	}

	p.started = true

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	ids := make([]string, 0, p.count)

	for range p.count {
		id := "worker-" + uuid.New().String()[:8]
		w := worker.New(p.configFor(id), p.transport, p.logger)

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			err := w.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}

			p.mu.Lock()
			onExit := p.onExit
			p.mu.Unlock()

			if onExit != nil {
				onExit(id, err)
			}
		}()

		ids = append(ids, id)
	}

	return ids, nil
}

// Shutdown cancels every worker and waits for them to return.
func (p *workerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
