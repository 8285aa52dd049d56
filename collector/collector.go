// Package collector keeps the last machine ad each agent reported. The
// negotiator plans every cycle from these ads, never from live agent state.
package collector

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/cloud/cluster"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/slots"
)

// An agent's report: the state of every slot plus the claims released since
// the previous successful report.
type MachineAd struct {
	Agent    string
	Sequence int64
	Slots    []slots.SlotState
	Released []slots.Claim
	Reported time.Time
}

func (ad MachineAd) CountBusy() int {
	return lo.CountBy(ad.Slots, func(s slots.SlotState) bool { return s.Activity == slots.Busy })
}

func (ad MachineAd) Status() string {
	return cluster.NewAgentNode(ad.Agent, len(ad.Slots), ad.CountBusy()).Status()
}

// Ads older than what was already stored are refused.
type StaleAdError struct {
	Agent    string
	Sequence int64
	Current  int64
}

func (e *StaleAdError) Error() string {
	return fmt.Sprintf("stale ad from %s: sequence %d, have %d", e.Agent, e.Sequence, e.Current)
}

// Called with the claims an agent released. Runs with the collector locked.
type ReleaseHook func(agent string, released []slots.Claim)

type Collector struct {
	lifetime time.Duration
	stat     stats.StatsReceiver

	mu      sync.Mutex
	ads     map[string]MachineAd
	members *cluster.State
	hooks   []ReleaseHook
}

// NewCollector makes a collector whose ads expire lifetime after they were
// reported. A zero lifetime never expires ads.
func NewCollector(lifetime time.Duration, stat stats.StatsReceiver) *Collector {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Collector{
		lifetime: lifetime,
		stat:     stat,
		ads:      map[string]MachineAd{},
		members:  cluster.MakeState(nil),
	}
}

func (c *Collector) OnRelease(hook ReleaseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Update stores ad and hands its released claims to the release hooks.
// Storing and releasing happen under one lock so LimitUsage never sees the
// new ad without the releases having been applied.
func (c *Collector) Update(ad MachineAd) error {
	if ad.Agent == "" {
		return errors.New("machine ad has no agent")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.ads[ad.Agent]; ok && ad.Sequence <= cur.Sequence {
		c.stat.Counter(stats.CollectorStaleAdCounter).Inc(1)
		err := &StaleAdError{ad.Agent, ad.Sequence, cur.Sequence}
		log.WithFields(log.Fields{
			"agent":    ad.Agent,
			"sequence": ad.Sequence,
			"current":  cur.Sequence,
		}).Warn("Dropping stale machine ad")
		return err
	}

	stored := ad
	stored.Released = nil
	c.ads[ad.Agent] = stored

	log.WithFields(log.Fields{
		"agent":    ad.Agent,
		"sequence": ad.Sequence,
		"busy":     ad.CountBusy(),
		"released": len(ad.Released),
	}).Debug("Received machine ad")

	if len(ad.Released) > 0 {
		for _, hook := range c.hooks {
			hook(ad.Agent, ad.Released)
		}
	}
	return nil
}

// Ads returns the live ads ordered by agent. Expired ads are dropped and the
// membership change logged.
func (c *Collector) Ads(now time.Time) []MachineAd {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveAds(now)
}

func (c *Collector) liveAds(now time.Time) []MachineAd {
	live := lo.Filter(lo.Values(c.ads), func(ad MachineAd, _ int) bool {
		return c.lifetime <= 0 || now.Sub(ad.Reported) <= c.lifetime
	})
	sort.Slice(live, func(i, j int) bool { return live[i].Agent < live[j].Agent })

	updates := c.members.SetAndDiff(lo.Map(live, func(ad MachineAd, _ int) cluster.Node {
		return cluster.NewAgentNode(ad.Agent, len(ad.Slots), ad.CountBusy())
	}))
	for _, u := range updates {
		if u.UpdateType != cluster.NodeRemoved {
			continue
		}
		c.stat.Counter(stats.CollectorExpiredAdCounter).Inc(1)
		if ad, ok := c.ads[string(u.Id)]; ok {
			log.WithFields(log.Fields{
				"agent":    u.Id,
				"reported": ad.Reported,
				"lifetime": c.lifetime,
			}).Warn("Machine ad expired")
		}
	}
	c.stat.Gauge(stats.CollectorLiveAdsGauge).Update(int64(len(live)))
	return live
}

// LimitUsage is Usage over the live ads: limit usage as last reported.
func (c *Collector) LimitUsage(now time.Time) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Usage(c.liveAds(now))
}

// Usage sums, over the Busy slots of ads, the weight each claim holds on
// every limit.
func Usage(ads []MachineAd) map[string]float64 {
	usage := map[string]float64{}
	for _, ad := range ads {
		for _, s := range ad.Slots {
			if s.Activity != slots.Busy || s.Claim == nil {
				continue
			}
			for _, r := range s.Claim.Limits {
				usage[strings.ToLower(r.Name)] += r.Weight
			}
		}
	}
	return usage
}

// Members returns the agents with a live ad, as of the last Ads or LimitUsage call.
func (c *Collector) Members() []cluster.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members.Current()
}
