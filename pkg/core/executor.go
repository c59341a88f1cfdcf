package core

import (
	"sync"

	"github.com/socketd-go/socketd/pkg/stream"
)

// Executor runs listener hooks and reply callbacks off the read path.
// Execute must return without running the task on the calling goroutine.
type Executor = stream.Executor

// DefaultWorkers is the default number of WorkerPool goroutines.
const DefaultWorkers = 16

// DefaultQueueSize is the default WorkerPool queue length.
const DefaultQueueSize = 1024

// WorkerPool is a fixed set of goroutines fed from a bounded queue.
//
// Execute never blocks: when the queue is full, or after Close, the task
// runs on a goroutine of its own.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines with a queue of queueSize tasks.
// Non-positive arguments select the defaults.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &WorkerPool{tasks: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Execute implements Executor.
func (p *WorkerPool) Execute(task func()) {
	p.mu.RLock()
	if !p.closed {
		select {
		case p.tasks <- task:
			p.mu.RUnlock()
			return
		default:
		}
	}
	p.mu.RUnlock()

	go task()
}

// Close stops accepting queued work and waits for queued tasks to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
