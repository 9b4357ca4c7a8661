//go:build !integration

package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mina-studio/internal/infra/worker"
)

func TestPool(t *testing.T) {
	log := zerolog.Nop()

	t.Run("should run submitted tasks", func(t *testing.T) {
		// --- Arrange ---
		p := worker.NewPool(2, &log)
		p.Start(context.Background())
		defer p.Stop()
		var n atomic.Int32
		var wg sync.WaitGroup

		// --- Act ---
		for i := 0; i < 5; i++ {
			wg.Add(1)
			if err := p.Submit(func(ctx context.Context) error {
				defer wg.Done()
				n.Add(1)
				return nil
			}); err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
		wg.Wait()

		// --- Assert ---
		if n.Load() != 5 {
			t.Errorf("expected 5 runs, got %d", n.Load())
		}
	})

	t.Run("should survive a panicking task", func(t *testing.T) {
		p := worker.NewPool(1, &log)
		p.Start(context.Background())
		defer p.Stop()
		done := make(chan struct{})

		_ = p.Submit(func(ctx context.Context) error { panic("boom") })
		_ = p.Submit(func(ctx context.Context) error { close(done); return nil })

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected the worker to keep running")
		}
	})

	t.Run("should report a full queue without blocking", func(t *testing.T) {
		p := worker.NewPool(1, &log) // not started: nothing drains the queue
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			err = p.Submit(func(ctx context.Context) error { return nil })
		}
		if !errors.Is(err, worker.ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	})

	t.Run("should run queued tasks with a cancelled context on stop", func(t *testing.T) {
		// --- Arrange ---
		p := worker.NewPool(1, &log) // not started: every task stays queued
		var ran, cancelled atomic.Int32
		for i := 0; i < 3; i++ {
			if err := p.Submit(func(ctx context.Context) error {
				ran.Add(1)
				if ctx.Err() != nil {
					cancelled.Add(1)
				}
				return ctx.Err()
			}); err != nil {
				t.Fatalf("submit: %v", err)
			}
		}

		// --- Act ---
		p.Stop()

		// --- Assert ---
		if ran.Load() != 3 || cancelled.Load() != 3 {
			t.Errorf("expected 3 queued tasks drained with a cancelled ctx, got ran=%d cancelled=%d", ran.Load(), cancelled.Load())
		}
	})

	t.Run("should not lose tasks queued behind a busy worker", func(t *testing.T) {
		// --- Arrange ---
		p := worker.NewPool(1, &log)
		p.Start(context.Background())
		block, running := make(chan struct{}), make(chan struct{})
		_ = p.Submit(func(ctx context.Context) error {
			close(running)
			<-block
			return nil
		})
		<-running
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			if err := p.Submit(func(ctx context.Context) error { wg.Done(); return nil }); err != nil {
				t.Fatalf("submit: %v", err)
			}
		}

		// --- Act ---
		stopped := make(chan struct{})
		go func() { p.Stop(); close(stopped) }()
		time.Sleep(10 * time.Millisecond)
		close(block)

		// --- Assert ---
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("stop did not return")
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("a queued task never ran")
		}
	})

	t.Run("should stop and drain when the start context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := worker.NewPool(1, &log)
		p.Start(ctx)
		block, running := make(chan struct{}), make(chan struct{})
		_ = p.Submit(func(ctx context.Context) error {
			close(running)
			<-block
			return nil
		})
		<-running
		drained := make(chan struct{})
		_ = p.Submit(func(ctx context.Context) error { close(drained); return nil })

		cancel()
		close(block)

		select {
		case <-drained:
		case <-time.After(time.Second):
			t.Fatal("queued task was never run")
		}
		deadline := time.Now().Add(time.Second)
		for !errors.Is(p.Submit(func(ctx context.Context) error { return nil }), worker.ErrStopped) {
			if time.Now().After(deadline) {
				t.Fatal("expected the pool to stop once its context ended")
			}
			time.Sleep(time.Millisecond)
		}
	})

	t.Run("should refuse tasks after stop", func(t *testing.T) {
		p := worker.NewPool(1, &log)
		p.Start(context.Background())
		p.Stop()
		p.Stop()
		if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, worker.ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	})
}
