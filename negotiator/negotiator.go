package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/collector"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/slots"
)

// Config variables read at initialization
// Interval -
//	 how often a cycle starts.
// CycleDelay -
//	 minimum time between the end of one cycle and the start of the next.
// DebugMode -
//	 Run does nothing, cycles must be driven by calling Negotiate().
type Config struct {
	Interval   time.Duration
	CycleDelay time.Duration
	DebugMode  bool
}

type Negotiator struct {
	config Config
	ledger *limits.Ledger
	ads    AdSource
	queue  JobQueue
	stat   stats.StatsReceiver
	now    func() time.Time

	agentsMu sync.RWMutex
	agents   map[string]ClaimActivator

	// Held for a whole cycle, cycles never overlap.
	mu    sync.Mutex
	cycle int64
}

func NewNegotiator(config Config, ledger *limits.Ledger, ads AdSource, queue JobQueue, stat stats.StatsReceiver) *Negotiator {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	n := &Negotiator{
		config: config,
		ledger: ledger,
		ads:    ads,
		queue:  queue,
		stat:   stat,
		now:    time.Now,
		agents: map[string]ClaimActivator{},
	}
	log.WithFields(log.Fields{
		"interval":   config.Interval,
		"cycleDelay": config.CycleDelay,
		"debugMode":  config.DebugMode,
	}).Info("Created negotiator")
	return n
}

// AddAgent makes claims on slots named <slot>@name go to a.
func (n *Negotiator) AddAgent(name string, a ClaimActivator) {
	n.agentsMu.Lock()
	defer n.agentsMu.Unlock()
	n.agents[name] = a
}

func (n *Negotiator) agent(name string) (ClaimActivator, bool) {
	n.agentsMu.RLock()
	defer n.agentsMu.RUnlock()
	a, ok := n.agents[name]
	return a, ok
}

// An idle slot as seen in the ads, updated locally as the cycle grants.
type candidate struct {
	slot          slots.SlotId
	agent         string
	resources     slots.Resources
	partitionable bool
	taken         bool
}

func candidates(ads []collector.MachineAd) []*candidate {
	return lo.FlatMap(ads, func(ad collector.MachineAd, _ int) []*candidate {
		idle := lo.Filter(ad.Slots, func(s slots.SlotState, _ int) bool { return s.Activity == slots.Idle })
		return lo.Map(idle, func(s slots.SlotState, _ int) *candidate {
			return &candidate{slot: s.Id, agent: ad.Agent, resources: s.Resources, partitionable: s.Partitionable}
		})
	})
}

// Negotiate runs one cycle.
func (n *Negotiator) Negotiate() CycleResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.stat.Latency(stats.NegotiatorCycleLatency_ms).Time().Stop()

	n.cycle++
	start := n.now()
	result := CycleResult{Cycle: n.cycle, Started: start, Granted: map[string]slots.SlotId{}}

	ads := n.ads.Ads(start)
	result.Overcommitted = n.ledger.Reconcile(collector.Usage(ads))
	cands := candidates(ads)
	jobs := n.queue.Idle()
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("cycle %d candidates:\n%s", n.cycle, spew.Sdump(cands))
	}

	for _, job := range jobs {
		if slot, ok := n.match(job, cands, &result); ok {
			result.Granted[job.Id] = slot
		} else {
			result.Unmatched = append(result.Unmatched, job.Id)
		}
	}

	result.Duration = n.now().Sub(start)
	n.stat.Counter(stats.NegotiatorCycleCounter).Inc(1)
	n.stat.Gauge(stats.NegotiatorUnmatchedGauge).Update(int64(len(result.Unmatched)))
	log.WithFields(log.Fields{
		"cycle":            result.Cycle,
		"ads":              len(ads),
		"candidates":       len(cands),
		"idleJobs":         len(jobs),
		"granted":          len(result.Granted),
		"unmatched":        len(result.Unmatched),
		"overcommitted":    result.Overcommitted,
		"activationErrors": result.ActivationErrors,
		"duration":         result.Duration,
	}).Info("Negotiation cycle done")
	return result
}

// match places job on the first candidate that fits it and has limit headroom.
func (n *Negotiator) match(job domain.Job, cands []*candidate, result *CycleResult) (slots.SlotId, bool) {
	need := job.Def.Resources()
	for _, c := range cands {
		if c.taken {
			continue
		}
		if !c.resources.Fits(need) {
			result.Attempts = append(result.Attempts, MatchAttempt{JobID: job.Id, Slot: c.slot, Outcome: RejectedOtherResource})
			n.stat.Counter(stats.NegotiatorRejectedResourceCounter).Inc(1)
			continue
		}

		if failed, ok := n.ledger.ReserveAll(job.Id, job.Limits); !ok {
			result.Attempts = append(result.Attempts, MatchAttempt{JobID: job.Id, Slot: c.slot, Outcome: RejectedConcurrencyLimit, Limit: failed})
			n.stat.Counter(stats.NegotiatorRejectedLimitCounter).Inc(1)
			return "", false
		}

		a, ok := n.agent(c.agent)
		if !ok {
			log.WithFields(log.Fields{"agent": c.agent, "slot": c.slot}).Error("Ad from an unknown agent, skipping slot")
			n.ledger.ReleaseAll(job.Limits)
			c.taken = true
			continue
		}
		busy, err := a.ActivateClaim(c.slot, job)
		if err != nil {
			n.ledger.ReleaseAll(job.Limits)
			if !slots.IsInvalidTransition(err) {
				// The job itself can't start (e.g. removed since the snapshot).
				log.WithFields(log.Fields{"jobID": job.Id, "slot": c.slot, "err": err}).Info("Job could not start, skipping")
				return "", false
			}
			result.ActivationErrors++
			n.stat.Counter(stats.NegotiatorActivationErrCounter).Inc(1)
			log.WithFields(log.Fields{
				"jobID": job.Id,
				"slot":  c.slot,
				"err":   err,
			}).Error("Agent refused claim, ad was out of date")
			c.taken = true
			continue
		}

		if c.partitionable {
			c.resources = c.resources.Sub(need)
		} else {
			c.taken = true
		}
		result.Attempts = append(result.Attempts, MatchAttempt{JobID: job.Id, Slot: busy, Outcome: Granted})
		n.stat.Counter(stats.NegotiatorGrantedCounter).Inc(1)
		log.WithFields(log.Fields{
			"jobID":  job.Id,
			"slot":   busy,
			"limits": limits.FormatRequests(job.Limits),
		}).Info("Matched job")
		return busy, true
	}
	return "", false
}

// Run negotiates every Interval, waiting at least CycleDelay after a cycle
// ends before starting the next, until ctx is done. Does nothing in DebugMode.
func (n *Negotiator) Run(ctx context.Context) {
	if n.config.DebugMode {
		log.Info("Negotiator in debug mode, not starting the cycle loop")
		return
	}
	log.Info("Starting negotiator loop")
	for {
		started := n.now()
		n.Negotiate()
		ended := n.now()

		wait := n.config.Interval - ended.Sub(started)
		if wait < n.config.CycleDelay {
			wait = n.config.CycleDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RemoveJob removes a job. A queued job is never matched again; a running
// job is vacated right away, freeing its slot and limits without waiting for
// a cycle.
func (n *Negotiator) RemoveJob(id string) error {
	prev, err := n.queue.Remove(id)
	if err != nil {
		return err
	}
	n.stat.Counter(stats.NegotiatorRemovedCounter).Inc(1)
	if prev != domain.Running {
		log.WithField("jobID", id).Info("Removed queued job")
		return nil
	}

	job, err := n.queue.Get(id)
	if err != nil {
		return err
	}
	a, ok := n.agent(job.Slot.Agent())
	if !ok {
		return errors.Errorf("job %s runs on %s, which has no known agent", id, job.Slot)
	}
	log.WithFields(log.Fields{"jobID": id, "slot": job.Slot}).Info("Removing running job")
	if err := a.Vacate(id); err != nil {
		// It finished on its own in the meantime, which released everything.
		log.WithFields(log.Fields{"jobID": id, "err": err}).Debug("Vacate found nothing to do")
	}
	return nil
}
