package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when an invocation is submitted to a
// shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a point-in-time snapshot of the pool's counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds how many batch invocations run at once. ProcessMany
// submits one closure per request; a full pool applies backpressure to
// the submitter rather than queueing unbounded work. A panic escaping an
// invocation is recovered and counted so one poisoned request cannot
// take the pool down.
type WorkerPool struct {
	slots  chan struct{}
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool creates a pool running at most size invocations at once.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		slots:  make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit runs fn on a pool slot. It blocks while the pool is at capacity,
// honoring context cancellation, and returns ErrPoolShutdown once the
// pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// The read lock pairs with Shutdown's write lock: once closed is set,
	// no new invocation can register with the WaitGroup.
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.active.Add(1)
	go p.run(ctx, fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			p.logger.ErrorContext(ctx, "invocation panicked",
				slog.Any("panic", r))
		}
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Shutdown prevents new submissions and waits for in-flight invocations
// to finish. Safe to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
