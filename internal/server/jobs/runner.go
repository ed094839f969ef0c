// Package jobs runs fire-and-forget background work detached from the
// request that started it.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/google/uuid"
)

// Func is the body of a job. ctx carries the job deadline and the correlation
// id of the originating request.
type Func func(ctx context.Context) error

// Runner starts jobs on their own goroutines. A job outlives the request
// context, is bounded by its timeout, and reports failure only to the log.
type Runner struct {
	logger logging.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRunner(l logging.Logger) *Runner {
	return &Runner{logger: l.With("module", "jobs")}
}

// Go starts fn and returns its job id. Cancellation of parent does not stop
// the job; only timeout does. After Shutdown, Go refuses new jobs.
func (r *Runner) Go(parent context.Context, name string, timeout time.Duration, fn Func) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", fmt.Errorf("job runner stopped")
	}
	r.wg.Add(1)
	r.mu.Unlock()

	id := uuid.NewString()
	ctx := context.WithoutCancel(parent)

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		log := r.logger.With("job", name, "job_id", id)
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				log.Error(ctx, "job panicked", "panic", fmt.Sprint(p))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Error(ctx, "job failed", "error", err, "elapsed", time.Since(start).String())
			return
		}
		log.Info(ctx, "job finished", "elapsed", time.Since(start).String())
	}()

	return id, nil
}

// Wait blocks until every started job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones until ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
