package executor

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bryanwahyu/transit-analyst/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// queue has no free slot.
	ErrQueueFull = errors.New("executor: queue full")
	ErrClosed    = errors.New("executor: pool closed")
)

// Pool runs background tasks on a fixed number of workers fed by a bounded
// queue. Submit never blocks; callers get ErrQueueFull instead.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    *slog.Logger
}

func NewPool(workers, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		tasks: make(chan func(), queueSize),
		log:   log,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues task for execution.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		metrics.IngestionQueueDepth.Set(float64(len(p.tasks)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
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

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.IngestionQueueDepth.Set(float64(len(p.tasks)))
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", "panic", r)
		}
	}()
	task()
}
