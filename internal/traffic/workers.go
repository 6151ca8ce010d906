package traffic

import (
	"sync"

	"github.com/charmbracelet/log"
)

// WorkerPool runs fire-and-forget tasks on a fixed set of goroutines with a
// bounded queue, so a burst of observations cannot spawn unbounded work.
type WorkerPool struct {
	tasks  chan poolTask
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type poolTask struct {
	name string
	fn   func()
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{tasks: make(chan poolTask, queueSize)}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}
	return pool
}

// Submit enqueues a task without blocking. Returns false when the queue is
// full or the pool is closed; the task is dropped.
func (p *WorkerPool) Submit(name string, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- poolTask{name: name, fn: fn}:
		return true
	default:
		log.Warn("Worker queue full, dropping task", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) run(task poolTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker task panicked", "task", task.name, "panic", r)
		}
	}()
	task.fn()
}
