package worker

import (
	"context"
	"sync"

	"github.com/nimasrn/payment-reconciler/pkg/logger"
)

type WorkerHandler[T any] func(ctx context.Context, workerIndex int, job T)

// WorkerManager fans jobs from a buffered channel out to a fixed pool of goroutines.
// Start blocks until ctx is cancelled or Exit is called, then waits for in-flight jobs.
type WorkerManager[T any] struct {
	jobChannel     chan T
	numberOfWorker int
	do             WorkerHandler[T]
	quit           chan struct{}
	quitOnce       sync.Once
	waiter         sync.WaitGroup
}

func NewWorkerManager[T any](bufferSize, numberOfWorkers int) *WorkerManager[T] {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	return &WorkerManager[T]{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan T, bufferSize),
		quit:           make(chan struct{}),
	}
}

func (w *WorkerManager[T]) GetUnreadCount() int {
	return len(w.jobChannel)
}

func (w *WorkerManager[T]) SetWorker(worker WorkerHandler[T]) {
	w.do = worker
}

// Enqueue blocks until a worker slot frees up, ctx ends, or the manager exits.
func (w *WorkerManager[T]) Enqueue(ctx context.Context, job T) bool {
	select {
	case w.jobChannel <- job:
		return true
	case <-ctx.Done():
		return false
	case <-w.quit:
		return false
	}
}

func (w *WorkerManager[T]) Start(ctx context.Context) {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.run(ctx, index, job)
				case <-ctx.Done():
					return
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()
}

func (w *WorkerManager[T]) run(ctx context.Context, index int, job T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered", "worker", index, "panic", r)
		}
	}()
	w.do(ctx, index, job)
}

func (w *WorkerManager[T]) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager shutting down", "workers", w.numberOfWorker)
		close(w.quit)
	})
}
