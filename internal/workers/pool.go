// Package workers runs scheduled jobs on a fixed set of goroutines.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/framejobs/internal/job"
)

var (
	// ErrQueueFull is returned by Schedule when every queue slot is taken.
	ErrQueueFull = errors.New("worker queue full")

	// ErrStopped is returned by Schedule after Stop, and reported for jobs
	// still queued when the pool stopped.
	ErrStopped = errors.New("worker pool stopped")
)

// Pool is a bounded job scheduler. Schedule never blocks: a full queue
// refuses the job, which ends the planning stream that produced it.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	size  int
	queue chan *job.Job
	log   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	busy     atomic.Int64
	finished atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New creates a pool of size workers with queueSize waiting slots.
func New(size, queueSize int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		size:  size,
		queue: make(chan *job.Job, queueSize),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schedule queues j for the next free worker.
func (p *Pool) Schedule(j *job.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start spawns the workers. done is called with every job's result, from
// the worker goroutine that ran it.
func (p *Pool) Start(ctx context.Context, done func(*job.Job, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	if p.stopped {
		return ErrStopped
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i, done)
	}
	p.log.Info("worker pool started", "workers", p.size, "queue", cap(p.queue))
	return nil
}

func (p *Pool) work(ctx context.Context, id int, done func(*job.Job, error)) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.busy.Add(1)
			err := j.Invoke(ctx)
			p.busy.Add(-1)
			p.finished.Add(1)
			if err != nil {
				p.log.Debug("job failed", "worker", id, "job", j.String(), "error", err)
			}
			done(j, err)
		}
	}
}

// Stop cancels running jobs, waits for the workers and drops every job left
// in the queue: its functor is signalled and done receives ErrStopped.
// Idempotent.
func (p *Pool) Stop(done func(*job.Job, error)) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	close(p.queue)

	dropped := 0
	for j := range p.queue {
		dropped++
		j.SignalFailure(ErrStopped)
		if done != nil {
			done(j, ErrStopped)
		}
	}
	p.log.Info("worker pool stopped", "dropped", dropped)
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Busy returns the number of jobs being invoked right now.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Finished returns how many jobs the workers ran.
func (p *Pool) Finished() int64 {
	return p.finished.Load()
}
