// Package worker runs bounded batches of independent jobs in parallel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of work identified by Key.
type Job[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Result carries the outcome of a Job.
type Result[T any] struct {
	Key      string
	Value    T
	Err      error
	Duration time.Duration
}

// Pool manages a fixed set of goroutines draining a job channel.
type Pool[T any] struct {
	size       int
	jobChan    chan Job[T]
	resultChan chan Result[T]
	logger     *slog.Logger

	activeCount atomic.Int32
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// NewPool creates a pool with size workers.
func NewPool[T any](size int, logger *slog.Logger) *Pool[T] {
	if size < 1 {
		size = 1
	}
	return &Pool[T]{
		size:       size,
		jobChan:    make(chan Job[T], size*2),
		resultChan: make(chan Result[T], size*2),
		logger:     logger,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Debug("starting worker pool", "num_workers", p.size)

	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.activeCount.Add(1)
			defer p.activeCount.Add(-1)
			p.work(ctx, id)
		}(i)
	}
}

func (p *Pool[T]) work(ctx context.Context, id int) {
	for job := range p.jobChan {
		start := time.Now()
		value, err := p.run(ctx, id, job)
		res := Result[T]{Key: job.Key, Value: value, Err: err, Duration: time.Since(start)}
		if err != nil && ctx.Err() == nil {
			p.logger.Debug("job failed", "worker_id", id, "key", job.Key, "error", err)
		}
		select {
		case p.resultChan <- res:
		case <-ctx.Done():
			return
		}
	}
}

// run executes job, turning a panic into the job's error.
func (p *Pool[T]) run(ctx context.Context, id int, job Job[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "worker_id", id, "key", job.Key, "panic", r)
			var zero T
			value, err = zero, fmt.Errorf("job %s panicked: %v", job.Key, r)
		}
	}()
	return job.Run(ctx)
}

// Stop closes the job channel, waits for the workers and closes Results.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.jobChan)
	p.wg.Wait()
	close(p.resultChan)

	p.logger.Debug("worker pool stopped")
}

// Submit queues a job without blocking. It returns false when the queue is full.
func (p *Pool[T]) Submit(job Job[T]) bool {
	select {
	case p.jobChan <- job:
		return true
	default:
		p.logger.Debug("job channel full, job not submitted", "key", job.Key)
		return false
	}
}

// SubmitBlocking queues a job, blocking until accepted or ctx ends.
func (p *Pool[T]) SubmitBlocking(ctx context.Context, job Job[T]) error {
	select {
	case p.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel of finished jobs.
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.resultChan
}

// ActiveWorkers returns the number of running workers.
func (p *Pool[T]) ActiveWorkers() int {
	return int(p.activeCount.Load())
}

// PendingJobs returns the number of queued jobs.
func (p *Pool[T]) PendingJobs() int {
	return len(p.jobChan)
}

// IsFull reports whether the job queue is at capacity.
func (p *Pool[T]) IsFull() bool {
	return len(p.jobChan) >= cap(p.jobChan)
}

// RunAll executes jobs on a temporary pool of size workers and returns the
// results in job order. Jobs not finished before ctx ends report ctx.Err().
func RunAll[T any](ctx context.Context, size int, logger *slog.Logger, jobs []Job[T]) []Result[T] {
	results := make([]Result[T], len(jobs))
	if len(jobs) == 0 {
		return results
	}
	index := make(map[string]int, len(jobs))
	for i, j := range jobs {
		index[j.Key] = i
		results[i] = Result[T]{Key: j.Key}
	}
	if size > len(jobs) {
		size = len(jobs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewPool[T](size, logger)
	pool.Start(runCtx)

	go func() {
		for _, j := range jobs {
			if pool.IsFull() {
				logger.Debug("worker queue saturated", "pending", pool.PendingJobs(), "active_workers", pool.ActiveWorkers())
			}
			if pool.Submit(j) {
				continue
			}
			if err := pool.SubmitBlocking(runCtx, j); err != nil {
				break
			}
		}
		pool.Stop()
	}()

	done := make(map[string]bool, len(jobs))
	for res := range pool.Results() {
		results[index[res.Key]] = res
		done[res.Key] = true
		if len(done) == len(jobs) {
			break
		}
	}
	if len(done) < len(jobs) {
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		for i, j := range jobs {
			if !done[j.Key] {
				results[i].Err = err
			}
		}
	}
	return results
}
