package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/framejobs/internal/job"
)

// RecordingScheduler collects scheduled jobs without running them. Tests
// decide when and in which order jobs are invoked.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingScheduler struct {
	mu     sync.Mutex
	jobs   []*job.Job
	reject error
}

// NewRecordingScheduler creates an empty scheduler.
func NewRecordingScheduler() *RecordingScheduler {
	return &RecordingScheduler{}
}

// Schedule records the job, or fails with the configured rejection.
func (s *RecordingScheduler) Schedule(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return s.reject
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// RejectWith makes subsequent Schedule calls fail with err. Nil accepts again.
func (s *RecordingScheduler) RejectWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = err
}

// Jobs returns the scheduled jobs in scheduling order.
func (s *RecordingScheduler) Jobs() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Count returns the number of scheduled jobs.
func (s *RecordingScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Drain removes and returns all scheduled jobs.
func (s *RecordingScheduler) Drain() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.jobs
	s.jobs = nil
	return out
}

// RunAll drains the scheduler and invokes the jobs concurrently, like a
// worker pool would. done, if set, is called after each job.
func (s *RecordingScheduler) RunAll(ctx context.Context, done func(*job.Job, error)) error {
	jobs := s.Drain()
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = j.Invoke(ctx)
			if done != nil {
				done(j, errs[i])
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
