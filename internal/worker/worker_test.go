package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorkerPool_StartStop(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool("test", 2, 10, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := pool.Submit(ctx, i); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// Stop drains the queue before returning.
	pool.Stop()

	if processed.Load() != 5 {
		t.Errorf("expected 5 jobs processed, got %d", processed.Load())
	}
	if got := pool.Stats().Processed; got != 5 {
		t.Errorf("Stats().Processed = %d, want 5", got)
	}
}

func TestWorkerPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool("test", 4, 100, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		go func(n int) {
			_ = pool.Submit(ctx, n)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	pool.Stop()

	if processed.Load() != 100 {
		t.Errorf("expected 100 jobs processed, got %d", processed.Load())
	}
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	processor := func(ctx context.Context, job Job) error {
		if job.(int)%2 == 0 {
			return errors.New("even")
		}
		return nil
	}

	pool := NewWorkerPool("test", 2, 10, processor)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 10; i++ {
		_ = pool.Submit(ctx, i)
	}
	pool.Stop()

	stats := pool.Stats()
	if stats.Processed != 5 || stats.Failed != 5 {
		t.Errorf("stats = %+v, want 5 processed and 5 failed", stats)
	}
}

func TestWorkerPool_GracefulShutdown(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		time.Sleep(10 * time.Millisecond)
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool("test", 2, 50, processor)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 20; i++ {
		_ = pool.Submit(ctx, i)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool.Stop() timed out")
	}

	t.Logf("processed %d jobs before shutdown", processed.Load())
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool("test", 1, 1, func(ctx context.Context, job Job) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Stop()
	pool.Stop()

	if err := pool.Submit(ctx, 1); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestWorkerPool_SubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	pool := NewWorkerPool("test", 1, 0, func(ctx context.Context, job Job) error {
		<-block
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// The single worker takes the first job and blocks; with no buffer the
	// second submit cannot be queued.
	if err := pool.Submit(ctx, 1); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	subCtx, subCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer subCancel()
	if err := pool.Submit(subCtx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit = %v, want deadline exceeded", err)
	}

	close(block)
	cancel()
	pool.Stop()
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	var started atomic.Int64
	var completed atomic.Int64

	processor := func(ctx context.Context, job Job) error {
		started.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			completed.Add(1)
			return nil
		}
	}

	pool := NewWorkerPool("test", 2, 10, processor)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		_ = pool.Submit(ctx, i)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	pool.Stop()

	if completed.Load() > started.Load() {
		t.Errorf("completed %d > started %d", completed.Load(), started.Load())
	}
}
