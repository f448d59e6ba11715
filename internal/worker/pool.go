// Package worker runs submitted jobs on a fixed-size pool. Admission
// is unbounded FIFO; concurrency is bounded by the pool size.
package worker

import (
	"context"
	"sync"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/media"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// Executor runs one job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string, desc media.Descriptor)
}

type task struct {
	jobID string
	desc  media.Descriptor
}

// Pool dispatches queued jobs to at most `capacity` concurrent executors.
type Pool struct {
	store    *job.Store
	executor Executor
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []task
	running map[string]context.CancelFunc
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(store *job.Store, executor Executor, capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		store:    store,
		executor: executor,
		capacity: capacity,
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.capacity; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("🚀 Worker pool started with %d workers", p.capacity)
}

// Stop cancels all running jobs and waits for workers to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	for _, cancel := range p.running {
		cancel()
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	logger.Info("Worker pool stopped")
}

// Submit enqueues a job for execution. The job must already exist in the
// store in the queued state.
func (p *Pool) Submit(jobID string, desc media.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = append(p.pending, task{jobID: jobID, desc: desc})
	p.cond.Signal()
}

// Cancel requests cancellation of a job. A still-queued job is removed
// from the pending list and moved to cancelled immediately; a running job
// gets its cancel flag set and its context cancelled, and reaches a
// terminal state when the pipeline observes the request. Returns the
// status the job had when the request was recorded.
func (p *Pool) Cancel(jobID string) (job.Status, error) {
	status, err := p.store.RequestCancel(jobID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch status {
	case job.StatusQueued:
		removed := false
		for i, t := range p.pending {
			if t.jobID == jobID {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
				removed = true
				break
			}
		}
		// Transition directly only when the job never left the queue; a
		// job already handed to a worker is cancelled by the pipeline's
		// own boundary check.
		if removed {
			if err := p.store.Transition(jobID, job.StatusCancelled, nil, ""); err != nil {
				return status, err
			}
		}
	case job.StatusRunning:
		if cancel, ok := p.running[jobID]; ok {
			cancel()
		}
	}
	return status, nil
}

// QueuePosition reports the 1-based position of a queued job, or 0 when
// the job is not waiting.
func (p *Pool) QueuePosition(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.pending {
		if t.jobID == jobID {
			return i + 1
		}
	}
	return 0
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(p.ctx)
		p.mu.Lock()
		p.running[t.jobID] = cancel
		p.mu.Unlock()

		logger.Infof("Worker %d picked up job %s", id, t.jobID)
		p.executor.Execute(ctx, t.jobID, t.desc)

		p.mu.Lock()
		delete(p.running, t.jobID)
		p.mu.Unlock()
		cancel()
	}
}

// next blocks until a task is available or the pool is closed.
func (p *Pool) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.pending) == 0 {
		return task{}, false
	}
	t := p.pending[0]
	p.pending = p.pending[1:]
	return t, true
}
