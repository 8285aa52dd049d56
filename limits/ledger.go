package limits

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/tollgate/common/stats"
)

// Emitted on every failed reservation.
type Rejection struct {
	JobID    string
	Limit    string
	Weight   float64
	Usage    float64
	Capacity float64
	Time     time.Time
}

func (r Rejection) String() string {
	return fmt.Sprintf("Rejected %s: concurrency limit %s reached", r.JobID, r.Limit)
}

// One row of a ledger snapshot.
type Limit struct {
	Name     string
	Capacity float64
	Usage    float64
	Source   Source
}

func (l Limit) Headroom() float64 {
	return l.Capacity - l.Usage
}

// Ledger tracks, per limit name, how much of the configured capacity is held
// by running jobs. It is the only thing that mutates usage: reservations come
// from the negotiator on grant, releases from agent reports.
//
// Reservations never block; a reservation that does not fit (or that the
// backing store fails to serve) is simply refused.
type Ledger struct {
	config Config
	store  Store
	stat   stats.StatsReceiver
	now    func() time.Time

	mu        sync.RWMutex
	observers []func(Rejection)

	// Dotted names already warned about, see Resolution.Ambiguous().
	ambiguous sync.Map
	// Overcommit warnings, at most one every 30s after the first.
	overcommitLog rate.Sometimes
}

type Option func(*Ledger)

func WithStore(store Store) Option {
	return func(l *Ledger) { l.store = store }
}

func WithStats(stat stats.StatsReceiver) Option {
	return func(l *Ledger) { l.stat = stat }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(config Config, opts ...Option) *Ledger {
	l := &Ledger{
		config:        config,
		store:         NewMemoryStore(),
		stat:          stats.NilStatsReceiver(),
		now:           time.Now,
		overcommitLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	log.WithFields(log.Fields{
		"named":   len(config.Named),
		"buckets": len(config.Buckets),
		"default": config.Default != nil,
	}).Info("Created limit ledger")
	return l
}

func (l *Ledger) Config() Config {
	return l.config
}

// Registers a function called synchronously with every Rejection.
func (l *Ledger) OnRejection(fn func(Rejection)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Capacity resolves name through the fallback chain. A dotted name whose bucket
// isn't configured is logged once as a warning.
func (l *Ledger) Capacity(name string) Resolution {
	name = strings.ToLower(name)
	res := l.config.Resolve(name)
	if res.Ambiguous() {
		if _, warned := l.ambiguous.LoadOrStore(name, true); !warned {
			log.WithFields(log.Fields{
				"limit":    name,
				"bucket":   res.Bucket,
				"source":   res.Source.String(),
				"capacity": res.Capacity,
			}).Warn("No default configured for limit bucket, falling back")
		}
	}
	return res
}

// TryReserve adds weight to name's usage if it stays within capacity.
func (l *Ledger) TryReserve(jobID, name string, weight float64) bool {
	name = strings.ToLower(name)
	if !ValidWeight(weight) {
		l.stat.Counter(stats.LedgerInvalidWeightCounter).Inc(1)
		log.WithFields(log.Fields{
			"jobID":  jobID,
			"limit":  name,
			"weight": weight,
		}).Error("Refusing reservation with invalid weight")
		return false
	}
	res := l.Capacity(name)
	ok, usage, err := l.store.Reserve(name, weight, res.Capacity)
	if err != nil {
		l.stat.Counter(stats.LedgerStoreErrCounter).Inc(1)
		log.WithFields(log.Fields{
			"jobID": jobID,
			"limit": name,
			"err":   err,
		}).Error("Limit store failed to reserve, refusing")
		return false
	}
	if !ok {
		l.reject(Rejection{
			JobID:    jobID,
			Limit:    name,
			Weight:   weight,
			Usage:    usage,
			Capacity: res.Capacity,
			Time:     l.now(),
		})
		return false
	}
	l.stat.Counter(stats.LedgerReserveCounter).Inc(1)
	l.stat.Scope(name).GaugeFloat(stats.LedgerLimitUsageGauge).Update(usage)
	log.WithFields(log.Fields{
		"jobID":    jobID,
		"limit":    name,
		"weight":   weight,
		"usage":    usage,
		"capacity": res.Capacity,
	}).Debug("Reserved limit")
	return true
}

func (l *Ledger) reject(r Rejection) {
	l.stat.Counter(stats.LedgerRejectedCounter).Inc(1)
	log.WithFields(log.Fields{
		"jobID":    r.JobID,
		"limit":    r.Limit,
		"weight":   r.Weight,
		"usage":    r.Usage,
		"capacity": r.Capacity,
	}).Info(r.String())

	l.mu.RLock()
	observers := l.observers
	l.mu.RUnlock()
	for _, fn := range observers {
		fn(r)
	}
}

// Release subtracts weight from name's usage, clamped at zero. Never fails;
// store errors are logged and counted.
func (l *Ledger) Release(name string, weight float64) {
	name = strings.ToLower(name)
	// Nothing with such a weight was ever reserved.
	if !ValidWeight(weight) {
		l.stat.Counter(stats.LedgerInvalidWeightCounter).Inc(1)
		return
	}
	usage, err := l.store.Release(name, weight)
	if err != nil {
		l.stat.Counter(stats.LedgerStoreErrCounter).Inc(1)
		log.WithFields(log.Fields{
			"limit":  name,
			"weight": weight,
			"err":    err,
		}).Error("Limit store failed to release")
		return
	}
	l.stat.Counter(stats.LedgerReleaseCounter).Inc(1)
	l.stat.Scope(name).GaugeFloat(stats.LedgerLimitUsageGauge).Update(usage)
}

// ReserveAll reserves every request in order. On the first failure the ones
// already reserved are released and the failing limit's name is returned.
func (l *Ledger) ReserveAll(jobID string, reqs []Request) (failed string, ok bool) {
	for i, r := range reqs {
		if !l.TryReserve(jobID, r.Name, r.Weight) {
			l.ReleaseAll(reqs[:i])
			return r.Name, false
		}
	}
	return "", true
}

func (l *Ledger) ReleaseAll(reqs []Request) {
	for _, r := range reqs {
		l.Release(r.Name, r.Weight)
	}
}

// Reconcile replaces usage with the totals last reported by agents and returns
// how many limits those totals put above capacity. Reports lag the grants, so
// this can happen when the negotiator runs faster than agents report; it is
// counted and logged, not corrected.
func (l *Ledger) Reconcile(reported map[string]float64) int {
	usage := make(map[string]float64, len(reported))
	for name, u := range reported {
		usage[strings.ToLower(name)] += u
	}
	if err := l.store.Set(usage); err != nil {
		l.stat.Counter(stats.LedgerStoreErrCounter).Inc(1)
		log.WithField("err", err).Error("Limit store failed to reconcile, keeping current usage")
		return 0
	}

	over := []string{}
	for name, u := range usage {
		l.stat.Scope(name).GaugeFloat(stats.LedgerLimitUsageGauge).Update(u)
		if capacity := l.Capacity(name).Capacity; u > capacity+capacityEpsilon {
			over = append(over, name)
		}
	}
	if len(over) > 0 {
		sort.Strings(over)
		l.stat.Counter(stats.LedgerOvercommitCounter).Inc(int64(len(over)))
		l.overcommitLog.Do(func() {
			log.WithFields(log.Fields{
				"limits": over,
			}).Warn("Reported limit usage is above capacity, agents reported after the last grant")
		})
	}
	return len(over)
}

func (l *Ledger) Usage(name string) float64 {
	usage, err := l.store.Usage()
	if err != nil {
		log.WithField("err", err).Error("Limit store failed to read usage")
		return 0
	}
	return usage[strings.ToLower(name)]
}

// Snapshot lists every configured named limit and every limit with recorded
// usage, sorted by name.
func (l *Ledger) Snapshot() []Limit {
	usage, err := l.store.Usage()
	if err != nil {
		log.WithField("err", err).Error("Limit store failed to read usage")
		usage = map[string]float64{}
	}
	names := map[string]bool{}
	for name := range l.config.Named {
		names[name] = true
	}
	for name := range usage {
		names[name] = true
	}

	out := make([]Limit, 0, len(names))
	for name := range names {
		res := l.config.Resolve(name)
		out = append(out, Limit{Name: name, Capacity: res.Capacity, Usage: usage[name], Source: res.Source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *Ledger) Close() error {
	log.Info("Closing limit ledger")
	return l.store.Close()
}
