package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesAllJobs(t *testing.T) {
	w := NewWorkerManager[int](10, 3)

	var sum atomic.Int64
	var wg sync.WaitGroup
	w.SetWorker(func(ctx context.Context, idx int, job int) {
		sum.Add(int64(job))
		wg.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	for i := 1; i <= 20; i++ {
		wg.Add(1)
		require.True(t, w.Enqueue(ctx, i))
	}
	wg.Wait()
	assert.Equal(t, int64(210), sum.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_ExitStopsStartAndEnqueue(t *testing.T) {
	w := NewWorkerManager[string](0, 2)
	w.SetWorker(func(context.Context, int, string) {})

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	w.Exit()
	w.Exit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
	assert.False(t, w.Enqueue(context.Background(), "late"))
}

func TestWorkerManager_RecoversFromPanic(t *testing.T) {
	w := NewWorkerManager[int](1, 1)
	handled := make(chan int, 2)
	w.SetWorker(func(ctx context.Context, idx int, job int) {
		if job == 0 {
			panic("boom")
		}
		handled <- job
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.True(t, w.Enqueue(ctx, 0))
	require.True(t, w.Enqueue(ctx, 7))

	select {
	case v := <-handled:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}
