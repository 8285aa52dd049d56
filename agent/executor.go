package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/tollgate/domain"
)

// Executor runs a job's payload. Exec blocks until the payload is done or
// ctx is canceled (the job was vacated).
type Executor interface {
	Exec(ctx context.Context, job domain.Job) error
}

// SleepExecutor simulates a payload by sleeping for the job's Duration.
type SleepExecutor struct{}

func NewSleepExecutor() *SleepExecutor {
	return &SleepExecutor{}
}

func (e *SleepExecutor) Exec(ctx context.Context, job domain.Job) error {
	timer := time.NewTimer(job.Def.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PausingExecutor blocks every payload until it is resumed or canceled.
type PausingExecutor struct {
	mu      sync.Mutex
	waiting map[string]chan error
}

func NewPausingExecutor() *PausingExecutor {
	return &PausingExecutor{waiting: map[string]chan error{}}
}

func (e *PausingExecutor) Exec(ctx context.Context, job domain.Job) error {
	ch := make(chan error, 1)
	e.mu.Lock()
	e.waiting[job.Id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiting, job.Id)
		e.mu.Unlock()
	}()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume lets jobID's payload finish with err.
func (e *PausingExecutor) Resume(jobID string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.waiting[jobID]
	if !ok {
		return errors.Errorf("job %s is not paused", jobID)
	}
	delete(e.waiting, jobID)
	ch <- err
	return nil
}

// ResumeAll finishes every paused payload successfully and returns how many there were.
func (e *PausingExecutor) ResumeAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.waiting)
	for id, ch := range e.waiting {
		delete(e.waiting, id)
		ch <- nil
	}
	return n
}

// Paused lists the job ids currently blocked, sorted.
func (e *PausingExecutor) Paused() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.waiting))
	for id := range e.waiting {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
