package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

type Stats struct {
	Processed int64
	Failed    int64
}

type WorkerPool struct {
	name       string
	numWorkers int
	jobs       chan Job
	processor  ProcessFunc
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu       sync.RWMutex
	quit     chan struct{}
	stopOnce sync.Once

	processed atomic.Int64
	failed    atomic.Int64
}

func NewWorkerPool(name string, numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		name:       name,
		numWorkers: numWorkers,
		jobs:       make(chan Job, bufferSize),
		processor:  processor,
		logger:     slog.Default().With("component", "worker", "pool", name),
		quit:       make(chan struct{}),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			if err := wp.processor(ctx, job); err != nil {
				wp.failed.Add(1)
				wp.logger.Debug("job failed", "worker", id, "error", err)
				continue
			}
			wp.processed.Add(1)
		}
	}
}

// Submit queues job, blocking while the buffer is full. It gives up when ctx
// ends or the pool is stopped.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	select {
	case <-wp.quit:
		return ErrStopped
	default:
	}

	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.quit:
		return ErrStopped
	}
}

func (wp *WorkerPool) Stats() Stats {
	return Stats{Processed: wp.processed.Load(), Failed: wp.failed.Load()}
}

// Stop rejects further submissions and waits for the workers to drain the
// queue, or to exit if their context has ended. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.quit)
		wp.mu.Lock()
		close(wp.jobs)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}
