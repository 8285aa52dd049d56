// Package pool stands up a whole local pool in one process: the limit ledger,
// the collector, the job queue, the negotiator and a set of agents, wired the
// way they talk to each other.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/agent"
	"github.com/twitter/tollgate/cloud/cluster"
	"github.com/twitter/tollgate/collector"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/config"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/journal"
	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/negotiator"
	"github.com/twitter/tollgate/queue"
	"github.com/twitter/tollgate/slots"
)

// How often Wait looks at the queue.
const waitPollInterval = 10 * time.Millisecond

type options struct {
	exec  agent.Executor
	stat  stats.StatsReceiver
	store limits.Store
	debug bool
}

type Option func(*options)

// WithExecutor runs every agent's payloads on exec instead of sleeping.
func WithExecutor(exec agent.Executor) Option {
	return func(o *options) { o.exec = exec }
}

func WithStats(stat stats.StatsReceiver) Option {
	return func(o *options) { o.stat = stat }
}

// WithStore overrides the ledger store chosen by the config.
func WithStore(store limits.Store) Option {
	return func(o *options) { o.store = store }
}

// WithDebugMode keeps the negotiator loop from starting; cycles are driven with Step.
func WithDebugMode() Option {
	return func(o *options) { o.debug = true }
}

type Pool struct {
	config config.Config
	stat   stats.StatsReceiver

	Ledger     *limits.Ledger
	Collector  *collector.Collector
	Queue      *queue.Queue
	Negotiator *negotiator.Negotiator
	Agents     []*agent.Agent
	// nil unless the config names a journal
	Journal *journal.Journal

	running *Quantity
	busy    *Quantity

	rejMu      sync.Mutex
	rejections map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Summary taken by Stop before closing the ledger.
	finalMu sync.Mutex
	final   *Summary
}

func New(cfg config.Config, opts ...Option) (*Pool, error) {
	o := options{stat: stats.NilStatsReceiver()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.exec == nil {
		o.exec = agent.NewSleepExecutor()
	}

	store := o.store
	if store == nil {
		switch cfg.LedgerStore {
		case config.StoreRedis:
			rs, err := limits.DialRedisStore(cfg.RedisAddr, "")
			if err != nil {
				return nil, err
			}
			store = rs
		default:
			store = limits.NewMemoryStore()
		}
	}

	p := &Pool{
		config:     cfg,
		stat:       o.stat,
		running:    NewQuantity(),
		busy:       NewQuantity(),
		rejections: map[string]int{},
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			store.Close()
			return nil, err
		}
		p.Journal = j
	}

	p.Ledger = limits.NewLedger(cfg.Limits, limits.WithStore(store), limits.WithStats(o.stat))
	p.Ledger.OnRejection(p.recordRejection)

	p.Collector = collector.NewCollector(cfg.ClassAdLifetime, o.stat)
	p.Collector.OnRelease(func(agentName string, released []slots.Claim) {
		for _, c := range released {
			p.Ledger.ReleaseAll(c.Limits)
		}
	})

	p.Queue = queue.NewQueue(cfg.JobRetention, o.stat)
	p.Queue.Subscribe(p.trackJob)

	p.Negotiator = negotiator.NewNegotiator(negotiator.Config{
		Interval:   cfg.NegotiatorInterval,
		CycleDelay: cfg.NegotiatorCycleDelay,
		DebugMode:  o.debug,
	}, p.Ledger, p.Collector, p.Queue, o.stat)

	for _, name := range cluster.AgentNames(cfg.NumAgents) {
		a := agent.NewAgent(agent.Config{
			Name:           name,
			Layout:         cfg.Layout,
			UpdateInterval: cfg.UpdateInterval,
		}, o.exec, p.Collector, p.Queue, o.stat.Scope(name))
		a.Registry().OnTransition(p.trackSlot)
		p.Negotiator.AddAgent(name, a)
		p.Agents = append(p.Agents, a)
	}

	if p.Journal != nil {
		p.Ledger.OnRejection(p.Journal.ObserveRejection)
		p.Queue.Subscribe(p.Journal.ObserveJobEvent)
		for _, a := range p.Agents {
			a.Registry().OnTransition(p.Journal.ObserveTransition)
		}
	}

	log.WithFields(log.Fields{"config": cfg.String()}).Info("Created pool")
	return p, nil
}

func (p *Pool) recordRejection(r limits.Rejection) {
	p.rejMu.Lock()
	defer p.rejMu.Unlock()
	p.rejections[r.Limit]++
}

func (p *Pool) trackJob(ev domain.JobEvent) {
	switch {
	case ev.To == domain.Running:
		p.running.Increment()
	case ev.From == domain.Running:
		p.running.Decrement()
	}
}

func (p *Pool) trackSlot(t slots.Transition) {
	switch t.To {
	case slots.Busy:
		p.busy.Increment()
	case slots.Idle:
		p.busy.Decrement()
	}
}

// Start runs the agents' report loops, the negotiator loop and the queue
// reaper until Stop is called or ctx is done.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, a := range p.Agents {
		a := a
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			a.Run(ctx)
		}()
	}
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.Negotiator.Run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.reap(ctx)
	}()
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.config.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Queue.Reap(now)
		}
	}
}

// Stop ends the loops, vacates whatever still runs and closes the ledger
// store and the journal. Summary keeps working afterwards.
func (p *Pool) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	for _, a := range p.Agents {
		a.Stop()
	}
	s := p.summary()
	p.finalMu.Lock()
	p.final = &s
	p.finalMu.Unlock()

	var first error
	if err := p.Ledger.Close(); err != nil {
		first = errors.Wrap(err, "closing ledger")
	}
	if p.Journal != nil {
		if err := p.Journal.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "closing journal")
		}
	}
	log.Info("Stopped pool")
	return first
}

// Step has every agent report, then runs one negotiation cycle.
func (p *Pool) Step() negotiator.CycleResult {
	for _, a := range p.Agents {
		if err := a.Report(); err != nil {
			log.WithFields(log.Fields{"agent": a.Name(), "err": err}).Error("Report failed before cycle")
		}
	}
	return p.Negotiator.Negotiate()
}

func (p *Pool) Submit(def domain.JobDefinition, count int) ([]string, error) {
	return p.Queue.Submit(def, count)
}

func (p *Pool) Remove(id string) error {
	return p.Negotiator.RemoveJob(id)
}

// Wait blocks until every job in ids is Completed or Removed, or ctx is done.
// A job the queue no longer knows was reaped, so it finished.
func (p *Pool) Wait(ctx context.Context, ids []string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		pending := lo.Filter(ids, func(id string, _ int) bool {
			j, err := p.Queue.Get(id)
			return err == nil && !j.Status.Terminal()
		})
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %d jobs, first %s", len(pending), pending[0])
		case <-ticker.C:
		}
	}
}

// BusySlots counts Busy slots across all agents over time.
func (p *Pool) BusySlots() *Quantity {
	return p.busy
}

// RunningJobs counts Running jobs over time.
func (p *Pool) RunningJobs() *Quantity {
	return p.running
}

// Rejections counts refused reservations by limit name.
func (p *Pool) Rejections() map[string]int {
	p.rejMu.Lock()
	defer p.rejMu.Unlock()
	out := make(map[string]int, len(p.rejections))
	for k, v := range p.rejections {
		out[k] = v
	}
	return out
}

// Summary of a pool's run so far.
type Summary struct {
	PeakRunning int
	PeakBusy    int
	Counts      map[domain.Status]int
	Rejections  map[string]int
	Limits      []limits.Limit
}

// RejectedLimits returns the names of limits that refused at least one
// reservation, sorted.
func (s Summary) RejectedLimits() []string {
	names := lo.Keys(s.Rejections)
	sort.Strings(names)
	return names
}

func (p *Pool) Summary() Summary {
	p.finalMu.Lock()
	defer p.finalMu.Unlock()
	if p.final != nil {
		return *p.final
	}
	return p.summary()
}

func (p *Pool) summary() Summary {
	return Summary{
		PeakRunning: p.running.Max(),
		PeakBusy:    p.busy.Max(),
		Counts:      p.Queue.Counts(),
		Rejections:  p.Rejections(),
		Limits:      p.Ledger.Snapshot(),
	}
}
