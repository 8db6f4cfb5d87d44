package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Shutdown()

	var counter int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}))
	}

	assert.Eventually(t, func() bool {
		m := pool.Metrics()
		return m.Completed == 10 && m.Active == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Shutdown()

	var active, peak int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			n := atomic.AddInt64(&active, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(2))
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))

	assert.Eventually(t, func() bool {
		return pool.Metrics().Failed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1, nil)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("worker bug")
	}))

	assert.Eventually(t, func() bool {
		m := pool.Metrics()
		return m.Panics == 1 && m.Failed == 1
	}, time.Second, 5*time.Millisecond)

	// The pool still accepts work after a panic.
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	assert.Eventually(t, func() bool {
		return pool.Metrics().Completed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, nil)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1, nil)

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Shutdown()
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(1, nil)
	pool.Shutdown()
	pool.Shutdown()
}
