// Package agent is the execution side of the pool: it owns an agent's slots,
// runs the jobs the negotiator places there, and reports machine ads.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/collector"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/slots"
)

// Where machine ads go.
type Reporter interface {
	Update(collector.MachineAd) error
}

// Told about job starts and finishes.
type JobListener interface {
	JobStarted(id string, slot slots.SlotId) error
	JobFinished(id string, err error) error
}

type Config struct {
	Name   string
	Layout slots.Layout
	// Period of the reporting loop, also the bound on retrying one report.
	UpdateInterval time.Duration
}

type Agent struct {
	name           string
	registry       *slots.Registry
	exec           Executor
	reporter       Reporter
	jobs           JobListener
	updateInterval time.Duration
	stat           stats.StatsReceiver
	now            func() time.Time

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup

	// Serializes reports so sequence numbers reach the collector in order.
	reportMu sync.Mutex
	seq      int64
	pending  []slots.Claim
}

type run struct {
	slot   slots.SlotId
	cancel context.CancelFunc
}

func NewAgent(cfg Config, exec Executor, reporter Reporter, jobs JobListener, stat stats.StatsReceiver) *Agent {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Agent{
		name:           cfg.Name,
		registry:       slots.NewRegistry(cfg.Name, cfg.Layout, stat),
		exec:           exec,
		reporter:       reporter,
		jobs:           jobs,
		updateInterval: cfg.UpdateInterval,
		stat:           stat,
		now:            time.Now,
		running:        map[string]*run{},
	}
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) Registry() *slots.Registry {
	return a.registry
}

// ActivateClaim grants job a claim on slotID, reports, and starts the payload.
// Returns the slot that went Busy (a dynamic slot when slotID is partitionable).
func (a *Agent) ActivateClaim(slotID slots.SlotId, job domain.Job) (slots.SlotId, error) {
	claim, err := slots.NewClaim(job.Id, job.Limits, job.Def.Resources())
	if err != nil {
		return "", err
	}
	busy, err := a.registry.Grant(slotID, claim)
	if err != nil {
		return "", err
	}

	// Tracked before the queue hears about it, so a removal that sees the job
	// Running can always vacate it.
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.running[job.Id] = &run{slot: busy, cancel: cancel}
	a.mu.Unlock()

	if err := a.jobs.JobStarted(job.Id, busy); err != nil {
		// The job went away (removed) between the cycle's snapshot and now.
		a.mu.Lock()
		delete(a.running, job.Id)
		a.mu.Unlock()
		cancel()
		if _, relErr := a.registry.Release(busy); relErr != nil {
			log.WithFields(log.Fields{"jobID": job.Id, "slot": busy, "err": relErr}).Error("Failed to undo claim")
		}
		a.report()
		return "", errors.Wrapf(err, "starting job %s on %s", job.Id, busy)
	}

	a.wg.Add(1)
	a.report()
	go a.execute(ctx, job, busy)
	return busy, nil
}

func (a *Agent) execute(ctx context.Context, job domain.Job, slotID slots.SlotId) {
	defer a.wg.Done()
	sw := a.stat.Latency(stats.AgentJobRunLatency_ms).Time()
	err := a.exec.Exec(ctx, job)
	sw.Stop()

	a.mu.Lock()
	r, ok := a.running[job.Id]
	delete(a.running, job.Id)
	a.mu.Unlock()
	if !ok {
		// vacated, already released
		return
	}
	r.cancel()

	log.WithFields(log.Fields{
		"jobID": job.Id,
		"slot":  slotID,
		"agent": a.name,
		"err":   err,
	}).Info("Job finished")
	if jerr := a.jobs.JobFinished(job.Id, err); jerr != nil {
		log.WithFields(log.Fields{"jobID": job.Id, "err": jerr}).Error("Failed to record job completion")
	}
	a.release(slotID)
}

// Vacate stops a running job now, releasing its slot and reporting the
// released claim without waiting for the payload to notice.
func (a *Agent) Vacate(jobID string) error {
	a.mu.Lock()
	r, ok := a.running[jobID]
	delete(a.running, jobID)
	a.mu.Unlock()
	if !ok {
		return errors.Errorf("job %s is not running on %s", jobID, a.name)
	}
	r.cancel()
	a.stat.Counter(stats.AgentVacatedCounter).Inc(1)
	log.WithFields(log.Fields{"jobID": jobID, "slot": r.slot, "agent": a.name}).Info("Vacating job")
	a.release(r.slot)
	return nil
}

func (a *Agent) release(slotID slots.SlotId) {
	claim, err := a.registry.Release(slotID)
	if err != nil {
		return
	}
	a.reportMu.Lock()
	a.pending = append(a.pending, *claim)
	a.reportMu.Unlock()
	a.report()
}

func (a *Agent) report() {
	if err := a.Report(); err != nil {
		log.WithFields(log.Fields{"agent": a.name, "err": err}).Error("Failed to report machine ad")
	}
}

// Report pushes a machine ad carrying every claim released since the last
// successful report. Failed pushes are retried with backoff for at most one
// update interval; unsent releases ride along with the next report.
func (a *Agent) Report() error {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()

	a.seq++
	ad := collector.MachineAd{
		Agent:    a.name,
		Sequence: a.seq,
		Slots:    a.registry.Snapshot(),
		Released: append([]slots.Claim(nil), a.pending...),
		Reported: a.now(),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = a.updateInterval
	try := 0
	var err error
	backoff.Retry(func() error {
		try++
		err = a.reporter.Update(ad)
		if _, stale := err.(*collector.StaleAdError); stale {
			return nil
		}
		if err != nil {
			log.WithFields(log.Fields{"agent": a.name, "try": try, "err": err}).Debug("Retrying machine ad")
		}
		return err
	}, b)

	if err != nil {
		a.stat.Counter(stats.AgentReportErrCounter).Inc(1)
		return errors.Wrapf(err, "reporting %s after %d tries", a.name, try)
	}
	a.pending = nil
	a.stat.Counter(stats.AgentReportCounter).Inc(1)
	return nil
}

// Run reports every update interval until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	log.WithFields(log.Fields{"agent": a.name, "interval": a.updateInterval}).Info("Starting report loop")
	a.report()
	ticker := time.NewTicker(a.updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.report()
		}
	}
}

// Running returns the ids of jobs with a live payload.
func (a *Agent) Running() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.running))
	for id := range a.running {
		ids = append(ids, id)
	}
	return ids
}

// Stop vacates every running job and waits for the payloads to return.
func (a *Agent) Stop() {
	for _, id := range a.Running() {
		a.Vacate(id)
	}
	a.wg.Wait()
}
