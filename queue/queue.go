// Package queue holds submitted jobs until they reach a terminal status and
// their retention runs out.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/slots"
)

var ErrUnknownJob = errors.New("unknown job")

type InvalidStatusError struct {
	JobID string
	From  domain.Status
	To    domain.Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("job %s cannot go from %s to %s", e.JobID, e.From, e.To)
}

// Queue is safe for concurrent use. Subscribers are called with the queue
// locked, in event order, and must not call back into it.
type Queue struct {
	retention time.Duration
	stat      stats.StatsReceiver
	now       func() time.Time

	mu          sync.Mutex
	jobs        map[string]*domain.Job
	order       []string
	nextCluster int
	subscribers []func(domain.JobEvent)
}

// NewQueue keeps terminal jobs for retention before Reap drops them.
func NewQueue(retention time.Duration, stat stats.StatsReceiver) *Queue {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Queue{
		retention:   retention,
		stat:        stat,
		now:         time.Now,
		jobs:        map[string]*domain.Job{},
		nextCluster: 1,
	}
}

func (q *Queue) Subscribe(fn func(domain.JobEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, fn)
}

// Submit queues count copies of def as one cluster and returns their ids in
// submission order.
func (q *Queue) Submit(def domain.JobDefinition, count int) ([]string, error) {
	if count < 1 {
		return nil, errors.Errorf("job count must be positive, got %d", count)
	}
	reqs, err := limits.ParseRequests(def.ConcurrencyLimits)
	if err != nil {
		return nil, errors.Wrap(err, "parsing concurrency_limits")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	cluster := q.nextCluster
	q.nextCluster++
	now := q.now()
	ids := make([]string, 0, count)
	for proc := 0; proc < count; proc++ {
		job := &domain.Job{
			Id:        domain.JobId(cluster, proc),
			Def:       def,
			Limits:    reqs,
			Status:    domain.Idle,
			Submitted: now,
		}
		q.jobs[job.Id] = job
		q.order = append(q.order, job.Id)
		ids = append(ids, job.Id)
		q.emit(domain.JobEvent{JobID: job.Id, From: domain.Idle, To: domain.Idle, Time: now})
	}
	q.stat.Counter(stats.QueueSubmittedCounter).Inc(int64(count))
	q.updateGauges()
	log.WithFields(log.Fields{
		"cluster": cluster,
		"count":   count,
		"limits":  limits.FormatRequests(reqs),
		"def":     def.String(),
	}).Info("Submitted jobs")
	return ids, nil
}

// Idle returns the queued jobs in submission order.
func (q *Queue) Idle() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []domain.Job{}
	for _, id := range q.order {
		if j := q.jobs[id]; j.Status == domain.Idle {
			out = append(out, *j)
		}
	}
	return out
}

func (q *Queue) Get(id string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return domain.Job{}, errors.Wrap(ErrUnknownJob, id)
	}
	return *j, nil
}

// Remove marks a queued or running job Removed and returns its prior status.
func (q *Queue) Remove(id string) (domain.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.transition(id, domain.Removed, "")
	if err != nil {
		return 0, err
	}
	prev := j.Status
	q.set(j, domain.Removed)
	j.Finished = q.now()
	return prev, nil
}

// JobStarted marks a queued job Running on slot.
func (q *Queue) JobStarted(id string, slot slots.SlotId) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.transition(id, domain.Running, slot)
	if err != nil {
		return err
	}
	j.Slot = slot
	j.Started = q.now()
	q.set(j, domain.Running)
	return nil
}

// JobFinished marks a running job Completed. A job removed while it ran stays
// Removed and this is a no-op.
func (q *Queue) JobFinished(id string, runErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok && j.Status == domain.Removed {
		log.WithField("jobID", id).Debug("Removed job finished running")
		return nil
	}
	j, err := q.transition(id, domain.Completed, "")
	if err != nil {
		return err
	}
	if runErr != nil {
		j.Err = runErr.Error()
	}
	j.Finished = q.now()
	q.set(j, domain.Completed)
	return nil
}

func (q *Queue) transition(id string, to domain.Status, slot slots.SlotId) (*domain.Job, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownJob, id)
	}
	if !domain.CanTransition(j.Status, to) {
		log.WithFields(log.Fields{
			"jobID": id,
			"from":  j.Status.String(),
			"to":    to.String(),
			"slot":  slot,
		}).Error("Refusing job status change")
		return nil, &InvalidStatusError{id, j.Status, to}
	}
	return j, nil
}

func (q *Queue) set(j *domain.Job, to domain.Status) {
	ev := domain.JobEvent{JobID: j.Id, From: j.Status, To: to, Slot: j.Slot, Time: q.now()}
	j.Status = to
	log.WithFields(log.Fields{
		"jobID": j.Id,
		"from":  ev.From.String(),
		"to":    ev.To.String(),
		"slot":  j.Slot,
	}).Info("Job status changed")
	q.emit(ev)
	q.updateGauges()
}

func (q *Queue) emit(ev domain.JobEvent) {
	for _, fn := range q.subscribers {
		fn(ev)
	}
}

func (q *Queue) counts() map[domain.Status]int {
	c := map[domain.Status]int{}
	for _, j := range q.jobs {
		c[j.Status]++
	}
	return c
}

func (q *Queue) Counts() map[domain.Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts()
}

func (q *Queue) updateGauges() {
	c := q.counts()
	q.stat.Gauge(stats.QueueIdleJobsGauge).Update(int64(c[domain.Idle]))
	q.stat.Gauge(stats.QueueRunningJobsGauge).Update(int64(c[domain.Running]))
	q.stat.Gauge(stats.QueueCompletedJobsGauge).Update(int64(c[domain.Completed]))
	q.stat.Gauge(stats.QueueRemovedJobsGauge).Update(int64(c[domain.Removed]))
}

// Reap drops terminal jobs that finished more than the retention ago and
// returns how many it dropped.
func (q *Queue) Reap(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	reaped := 0
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Status.Terminal() && now.Sub(j.Finished) >= q.retention {
			delete(q.jobs, id)
			reaped++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	if reaped > 0 {
		q.stat.Counter(stats.QueueReapedCounter).Inc(int64(reaped))
		q.updateGauges()
		log.WithFields(log.Fields{"reaped": reaped, "retention": q.retention}).Info("Reaped finished jobs")
	}
	return reaped
}
