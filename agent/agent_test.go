package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/tollgate/collector"
	clog "github.com/twitter/tollgate/common/log"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/queue"
	"github.com/twitter/tollgate/slots"
)

func init() {
	clog.ConfigureForTest()
}

type fixture struct {
	agent    *Agent
	exec     *PausingExecutor
	coll     *collector.Collector
	queue    *queue.Queue
	stat     stats.StatsReceiver
	mu       sync.Mutex
	released []string
}

func (f *fixture) releasedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func newFixture(t *testing.T, layout slots.Layout) *fixture {
	f := &fixture{
		exec:  NewPausingExecutor(),
		coll:  collector.NewCollector(0, nil),
		queue: queue.NewQueue(time.Hour, nil),
		stat:  stats.DefaultStatsReceiver(),
	}
	f.coll.OnRelease(func(agent string, released []slots.Claim) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range released {
			f.released = append(f.released, c.JobID)
		}
	})
	f.agent = NewAgent(Config{Name: "agent1", Layout: layout, UpdateInterval: time.Second}, f.exec, f.coll, f.queue, f.stat)
	t.Cleanup(f.agent.Stop)
	return f
}

func (f *fixture) submit(t *testing.T, n int) []domain.Job {
	ids, err := f.queue.Submit(domain.JobDefinition{RequestCpus: 1, ConcurrencyLimits: "xsw"}, n)
	require.NoError(t, err)
	jobs := []domain.Job{}
	for _, id := range ids {
		j, err := f.queue.Get(id)
		require.NoError(t, err)
		jobs = append(jobs, j)
	}
	return jobs
}

func (f *fixture) lastAd(t *testing.T) collector.MachineAd {
	ads := f.coll.Ads(time.Now())
	require.Len(t, ads, 1)
	return ads[0]
}

var fourSlots = slots.Layout{NumSlots: 4, Total: slots.Resources{Cpus: 4, MemoryMB: 4096, DiskMB: 4096}}

func TestActivateAndFinish(t *testing.T) {
	f := newFixture(t, fourSlots)
	job := f.submit(t, 1)[0]

	busy, err := f.agent.ActivateClaim("slot2@agent1", job)
	require.NoError(t, err)
	assert.Equal(t, slots.SlotId("slot2@agent1"), busy)

	j, _ := f.queue.Get(job.Id)
	assert.Equal(t, domain.Running, j.Status)
	ad := f.lastAd(t)
	assert.Equal(t, 1, ad.CountBusy())
	assert.Equal(t, map[string]float64{"xsw": 1}, f.coll.LimitUsage(time.Now()))

	require.Eventually(t, func() bool { return len(f.exec.Paused()) == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, f.exec.Resume(job.Id, nil))
	require.Eventually(t, func() bool {
		j, _ := f.queue.Get(job.Id)
		return j.Status == domain.Completed && len(f.releasedJobs()) == 1
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, []string{job.Id}, f.releasedJobs())
	assert.Equal(t, 0, f.lastAd(t).CountBusy())
	assert.Empty(t, f.coll.LimitUsage(time.Now()))
	assert.Empty(t, f.agent.Running())
}

func TestActivateBusySlot(t *testing.T) {
	f := newFixture(t, fourSlots)
	jobs := f.submit(t, 2)
	_, err := f.agent.ActivateClaim("slot1@agent1", jobs[0])
	require.NoError(t, err)
	_, err = f.agent.ActivateClaim("slot1@agent1", jobs[1])
	assert.True(t, slots.IsInvalidTransition(err), "%v", err)

	j, _ := f.queue.Get(jobs[1].Id)
	assert.Equal(t, domain.Idle, j.Status)
}

func TestActivateRemovedJob(t *testing.T) {
	f := newFixture(t, fourSlots)
	job := f.submit(t, 1)[0]
	_, err := f.queue.Remove(job.Id)
	require.NoError(t, err)

	_, err = f.agent.ActivateClaim("slot1@agent1", job)
	require.Error(t, err)
	assert.Equal(t, 0, f.agent.Registry().CountBusy())
	assert.Equal(t, 0, f.lastAd(t).CountBusy())
	assert.Empty(t, f.releasedJobs(), "an undone claim never held limits")
	assert.Empty(t, f.agent.Running())
}

func TestVacate(t *testing.T) {
	f := newFixture(t, fourSlots)
	job := f.submit(t, 1)[0]
	_, err := f.agent.ActivateClaim("slot1@agent1", job)
	require.NoError(t, err)

	_, err = f.queue.Remove(job.Id)
	require.NoError(t, err)
	require.NoError(t, f.agent.Vacate(job.Id))

	// released now, not when the payload notices
	assert.Equal(t, 0, f.agent.Registry().CountBusy())
	assert.Equal(t, []string{job.Id}, f.releasedJobs())
	assert.Equal(t, 0, f.lastAd(t).CountBusy())

	require.Eventually(t, func() bool { return len(f.exec.Paused()) == 0 }, 5*time.Second, time.Millisecond)
	j, _ := f.queue.Get(job.Id)
	assert.Equal(t, domain.Removed, j.Status)

	assert.Error(t, f.agent.Vacate(job.Id))
	stats.StatsOk("", f.stat, t, map[string]stats.Rule{
		stats.AgentVacatedCounter: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestPartitionableActivate(t *testing.T) {
	f := newFixture(t, slots.Layout{Total: slots.Resources{Cpus: 2, MemoryMB: 2048, DiskMB: 2048}, Partitionable: true})
	jobs := f.submit(t, 3)

	a, err := f.agent.ActivateClaim("slot1@agent1", jobs[0])
	require.NoError(t, err)
	assert.Equal(t, slots.SlotId("slot1_1@agent1"), a)
	b, err := f.agent.ActivateClaim("slot1@agent1", jobs[1])
	require.NoError(t, err)
	assert.Equal(t, slots.SlotId("slot1_2@agent1"), b)
	_, err = f.agent.ActivateClaim("slot1@agent1", jobs[2])
	assert.Error(t, err)

	j, _ := f.queue.Get(jobs[1].Id)
	assert.Equal(t, b, j.Slot)
}

type flakyReporter struct {
	mu       sync.Mutex
	failures int
	ads      []collector.MachineAd
}

func (r *flakyReporter) Update(ad collector.MachineAd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("collector unavailable")
	}
	r.ads = append(r.ads, ad)
	return nil
}

func (r *flakyReporter) setFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

func (r *flakyReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ads)
}

func TestReportRetries(t *testing.T) {
	r := &flakyReporter{failures: 2}
	stat := stats.DefaultStatsReceiver()
	a := NewAgent(Config{Name: "agent1", Layout: fourSlots, UpdateInterval: 5 * time.Second}, NewSleepExecutor(), r, queue.NewQueue(time.Hour, nil), stat)

	require.NoError(t, a.Report())
	require.Len(t, r.ads, 1)
	assert.Equal(t, int64(1), r.ads[0].Sequence)
	assert.Len(t, r.ads[0].Slots, 4)

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.AgentReportCounter:    {Checker: stats.Int64EqTest, Value: 1},
		stats.AgentReportErrCounter: {Checker: stats.DoesNotExistTest, Value: nil},
	})
}

func TestFailedReportKeepsReleases(t *testing.T) {
	r := &flakyReporter{}
	q := queue.NewQueue(time.Hour, nil)
	a := NewAgent(Config{Name: "agent1", Layout: fourSlots, UpdateInterval: 50 * time.Millisecond}, NewPausingExecutor(), r, q, nil)
	defer a.Stop()
	ids, _ := q.Submit(domain.JobDefinition{ConcurrencyLimits: "xsw"}, 1)
	job, _ := q.Get(ids[0])
	_, err := a.ActivateClaim("slot1@agent1", job)
	require.NoError(t, err)

	r.setFailures(1000)
	q.Remove(job.Id)
	require.NoError(t, a.Vacate(job.Id))
	before := r.count()

	r.setFailures(0)
	require.NoError(t, a.Report())
	require.Equal(t, before+1, r.count())
	last := r.ads[len(r.ads)-1]
	require.Len(t, last.Released, 1)
	assert.Equal(t, job.Id, last.Released[0].JobID)

	require.NoError(t, a.Report())
	assert.Empty(t, r.ads[len(r.ads)-1].Released, "releases are sent once")
}

func TestRunReportsPeriodically(t *testing.T) {
	r := &flakyReporter{}
	a := NewAgent(Config{Name: "agent1", Layout: fourSlots, UpdateInterval: 5 * time.Millisecond}, NewSleepExecutor(), r, queue.NewQueue(time.Hour, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return r.count() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestSleepExecutor(t *testing.T) {
	e := NewSleepExecutor()
	job := domain.Job{Id: "1.0", Def: domain.JobDefinition{Duration: time.Millisecond}}
	assert.NoError(t, e.Exec(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job.Def.Duration = time.Hour
	assert.Equal(t, context.Canceled, e.Exec(ctx, job))
}

func TestPausingExecutor(t *testing.T) {
	e := NewPausingExecutor()
	assert.Error(t, e.Resume("1.0", nil))

	errCh := make(chan error)
	go func() { errCh <- e.Exec(context.Background(), domain.Job{Id: "1.0"}) }()
	require.Eventually(t, func() bool { return len(e.Paused()) == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, e.Resume("1.0", errors.New("exit 3")))
	assert.EqualError(t, <-errCh, "exit 3")
	assert.Equal(t, 0, e.ResumeAll())
}
