package worker

import (
	"sync/atomic"

	"github.com/lumenworks/lumen/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int

	// WorkerTask is the unit of work a worker repeatedly executes. The
	// boolean return indicates whether the task found any work to do; a
	// worker whose task reports no work goes back to sleep until woken.
	WorkerTask func(Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Close()
	}
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

type taskWorker struct {
	label      string
	task       WorkerTask
	wakeupChan WorkerWakeupChan

	// currentStatus is written by the worker goroutine and read from
	// the pools goroutines, so access goes through atomics.
	currentStatus atomic.Int32
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label: label,
		task:  task,
		// The buffer holds a wakeup sent while the worker is between
		// finishing its task and blocking in sleep, so no signal is lost.
		wakeupChan: make(WorkerWakeupChan, 1),
	}
}

// Start runs the workers task in a loop until the task reports that
// no work remains, at which point the worker sleeps until it's woken
// via it's wakeup channel. A closed wakeup channel stops the worker.
// This method blocks and so should typically be run inside a goroutine
// managed by a WorkerPool.
func (worker *taskWorker) Start() {
	for {
		worker.setStatus(WORKING)
		for {
			didWork, err := worker.task(worker)
			if err != nil {
				workerLogger.Emit(logger.ERROR, "Worker %s task reported an error: %v\n", worker.label, err)
				break
			}

			if !didWork {
				break
			}
		}

		if !worker.sleep() {
			return
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) setStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan { return worker.wakeupChan }

func (worker *taskWorker) Label() string { return worker.label }

// Close closes the worker by closing it's wakeup channel. Note that this
// does not interrupt an in-flight task execution.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// sleep blocks until the wakeup channel is signalled from another
// goroutine. Returns false if the channel was closed, indicating the
// worker should quit.
func (worker *taskWorker) sleep() (isAlive bool) {
	worker.setStatus(SLEEPING)

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.setStatus(WORKING)
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%s' has been closed - worker is exiting\n", worker.label)
		worker.setStatus(FINISHED)
	}

	return isAlive
}
