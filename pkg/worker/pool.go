package worker

import (
	"errors"
	"sync"
)

// WorkerPool owns a set of workers and the goroutines they run inside.
// The pool bounds how much concurrent work can happen for a given
// concern (e.g. CPU-heavy image encoding) simply by how many workers
// are pushed in to it before Start.
type WorkerPool struct {
	mu      sync.Mutex
	workers []Worker
	Wg      sync.WaitGroup
	started bool
}

func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start spawns a goroutine for each worker currently inside the
// pool. Start does NOT block; consumers can wait on the pools
// WaitGroup if they wish.
func (pool *WorkerPool) Start() error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.Wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start()
		}(&pool.Wg, worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the pool; only legal
// before the pool is started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// WakeupWorkers signals the workers in the pool that work is available.
// Each workers wakeup channel carries a one-slot buffer, so a signal
// sent while a worker is transitioning to sleep is still delivered;
// signals beyond the buffered one are dropped for workers already awake.
func (pool *WorkerPool) WakeupWorkers() error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if !pool.started {
		return errors.New("cannot wakeup workers on worker pool that is not started")
	}

	for _, w := range pool.workers {
		select {
		case w.WakeupChan() <- 1:
		default:
		}
	}

	return nil
}

// Close closes every worker's wakeup channel and waits for the worker
// goroutines to finish.
func (pool *WorkerPool) Close() {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if !pool.started {
		return
	}

	for _, w := range pool.workers {
		w.Close()
	}
	pool.Wg.Wait()
	pool.started = false
}
