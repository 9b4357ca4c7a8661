// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
)

var _ adapter.TaskRunner = (*Pool)(nil)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Pool is a small fixed-size worker pool. Uploads submit their transfer
// tasks here so that a large batch does not open unbounded connections.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan adapter.Task
	quit chan struct{}
	n    int

	mu       sync.Mutex // orders Submit against Stop
	stopped  bool
	stopOnce sync.Once
	log      *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		jobs: make(chan adapter.Task, workers*4),
		quit: make(chan struct{}),
		n:    workers,
		log:  logging.Component(logger, "worker_pool"),
	}
}

// Start launches the workers. Cancelling ctx stops the pool the same way
// Stop does.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.quit:
		}
	}()
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, task adapter.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Debug().Err(err).Int("worker", id).Msg("task error")
	}
}

// Stop ends the workers after their current task. Tasks still queued are
// run once with an already cancelled context so their cleanup executes.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.quit)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.drain()
}

func (p *Pool) drain() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case task := <-p.jobs:
			p.run(ctx, -1, task)
		default:
			return
		}
	}
}

// Submit queues task without blocking; a saturated queue returns
// ErrQueueFull and the caller decides how to run it.
func (p *Pool) Submit(task adapter.Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return ErrQueueFull
	}
}
