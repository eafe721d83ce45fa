package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"docify/internal/domain"
)

var errPoolClosed = errors.New("jobs: pool is shut down")

type task struct {
	jobID string
	run   func(ctx context.Context)
}

// Pool runs submitted tasks on a fixed number of workers. The queue is
// bounded and Submit never blocks.
type Pool struct {
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines draining a queue of queueSize tasks.
func NewPool(workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.queue:
			if p.ctx.Err() != nil {
				p.requeue(t)
				return
			}
			p.logger.Debug().Int("worker", id).Str("job_id", t.jobID).Msg("jobs: worker picked job")
			t.run(p.ctx)
		}
	}
}

// requeue puts back a task taken after shutdown began so Shutdown reports it.
func (p *Pool) requeue(t task) {
	select {
	case p.queue <- t:
	default:
	}
}

// Submit enqueues run for jobID, returning domain.ErrQueueFull when the
// queue has no room.
func (p *Pool) Submit(jobID string, run func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPoolClosed
	}
	select {
	case p.queue <- task{jobID: jobID, run: run}:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting work, cancels running tasks and waits for the
// workers or ctx. It returns the ids of tasks that never started.
func (p *Pool) Shutdown(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	var dropped []string
	for {
		select {
		case t := <-p.queue:
			dropped = append(dropped, t.jobID)
		default:
			return dropped, waitErr
		}
	}
}
