// Package tasks runs long operations off the request path and keeps their
// outcome queryable.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is a snapshot of one background job.
type Job struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	// Result is whatever the job function returned, typically a stats
	// struct. Nil while running or failed.
	Result any `json:"result,omitempty"`
}

// Runner dispatches jobs to their own goroutines and retains their
// outcomes in memory. Outcomes do not survive a restart.
type Runner struct {
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewRunner creates an empty runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger: logger.Named("tasks"),
		jobs:   make(map[string]*Job),
	}
}

// Submit starts fn in its own goroutine and returns the job snapshot
// immediately. The context passed to fn is detached from the submitting
// request so the job outlives it.
func (r *Runner) Submit(name string, fn func(ctx context.Context) (any, error)) *Job {
	job := &Job{
		ID:      uuid.NewString(),
		Name:    name,
		Status:  StatusRunning,
		Started: time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.logger.Info("job started", zap.String("id", job.ID), zap.String("name", name))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		result, err := fn(context.Background())

		r.mu.Lock()
		job.Duration = time.Since(job.Started)
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
		} else {
			job.Status = StatusDone
			job.Result = result
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Error("job failed",
				zap.String("id", job.ID),
				zap.String("name", name),
				zap.Duration("duration", job.Duration),
				zap.Error(err),
			)
			return
		}
		r.logger.Info("job finished",
			zap.String("id", job.ID),
			zap.String("name", name),
			zap.Duration("duration", job.Duration),
		)
	}()

	return r.snapshot(job.ID)
}

// Get returns a snapshot of the job with the given id.
func (r *Runner) Get(id string) (*Job, error) {
	job := r.snapshot(id)
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// Wait blocks until every submitted job has finished. Used during
// shutdown and in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// snapshot copies the job under the read lock so callers never see a
// half-updated state.
func (r *Runner) snapshot(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}
