package slots

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/common/stats"
)

// How an agent's resources are split into slots.
type Layout struct {
	// Static slots; ignored when Partitionable.
	NumSlots      int
	Total         Resources
	Partitionable bool
}

type slot struct {
	id            SlotId
	activity      activityState
	resources     Resources
	partitionable bool
	dynamic       bool
	claim         *Claim
}

type activityState struct {
	activity Activity
	since    time.Time
}

// Registry owns the slots of one agent. Safe for concurrent use; observers
// are called with the registry locked and must not call back into it.
type Registry struct {
	agent string
	stat  stats.StatsReceiver
	now   func() time.Time

	mu        sync.Mutex
	slots     []*slot
	nextChild int
	observers []func(Transition)
}

func NewRegistry(agent string, layout Layout, stat stats.StatsReceiver) *Registry {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	r := &Registry{agent: agent, stat: stat, now: time.Now}
	now := r.now()
	if layout.Partitionable {
		r.slots = append(r.slots, &slot{
			id:            NewSlotId(1, agent),
			activity:      activityState{Idle, now},
			resources:     layout.Total,
			partitionable: true,
		})
	} else {
		n := layout.NumSlots
		if n < 1 {
			n = 1
		}
		per := Resources{layout.Total.Cpus / n, layout.Total.MemoryMB / n, layout.Total.DiskMB / n}
		for i := 1; i <= n; i++ {
			r.slots = append(r.slots, &slot{id: NewSlotId(i, agent), activity: activityState{Idle, now}, resources: per})
		}
	}
	log.WithFields(log.Fields{
		"agent":         agent,
		"slots":         len(r.slots),
		"partitionable": layout.Partitionable,
		"total":         layout.Total.String(),
	}).Info("Created slot registry")
	return r
}

func (r *Registry) Agent() string {
	return r.agent
}

func (r *Registry) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) find(id SlotId) (int, *slot) {
	for i, s := range r.slots {
		if s.id == id {
			return i, s
		}
	}
	return -1, nil
}

// Grant binds claim to an Idle slot, making it Busy, and returns the id of the
// slot that is now Busy: slotID itself or, for a partitionable parent, the
// dynamic slot carved for the claim.
func (r *Registry) Grant(slotID SlotId, claim Claim) (SlotId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, s := r.find(slotID)
	if s == nil {
		return "", r.invalid(&InvalidTransitionError{slotID, Idle, Busy, "no such slot"}, claim.JobID)
	}
	if s.activity.activity != Idle {
		return "", r.invalid(&InvalidTransitionError{slotID, s.activity.activity, Busy, "slot is not Idle"}, claim.JobID)
	}
	if !s.resources.Fits(claim.Resources) {
		return "", r.invalid(&InvalidTransitionError{slotID, Idle, Busy, "claim does not fit " + s.resources.String()}, claim.JobID)
	}

	now := r.now()
	if s.partitionable {
		r.nextChild++
		child := &slot{
			id:        NewDynamicSlotId(1, r.nextChild, r.agent),
			activity:  activityState{Idle, now},
			resources: claim.Resources,
			dynamic:   true,
		}
		s.resources = s.resources.Sub(claim.Resources)
		r.slots = append(r.slots, child)
		s = child
	}
	claim.Granted = now
	s.claim = &claim
	r.transition(s, Busy, claim.JobID, now)
	r.stat.Counter(stats.SlotsClaimedCounter).Inc(1)
	return s.id, nil
}

// Release ends the claim on a Busy slot and returns it.
func (r *Registry) Release(slotID SlotId) (*Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, s := r.find(slotID)
	if s == nil {
		return nil, r.invalid(&InvalidTransitionError{slotID, Busy, Idle, "no such slot"}, "")
	}
	if s.activity.activity != Busy {
		return nil, r.invalid(&InvalidTransitionError{slotID, s.activity.activity, Idle, "slot is not Busy"}, "")
	}

	claim := s.claim
	s.claim = nil
	r.transition(s, Idle, claim.JobID, r.now())
	r.stat.Counter(stats.SlotsReleasedCounter).Inc(1)

	if s.dynamic {
		r.slots[0].resources = r.slots[0].resources.Add(s.resources)
		r.slots = append(r.slots[:idx], r.slots[idx+1:]...)
	}
	return claim, nil
}

func (r *Registry) transition(s *slot, to Activity, jobID string, now time.Time) {
	t := Transition{Slot: s.id, From: s.activity.activity, To: to, JobID: jobID, Time: now}
	s.activity = activityState{to, now}
	r.stat.Gauge(stats.SlotsBusyGauge).Update(int64(r.countBusy()))
	log.WithFields(log.Fields{
		"slot":  s.id,
		"jobID": jobID,
		"agent": r.agent,
	}).Info(t.String())
	for _, fn := range r.observers {
		fn(t)
	}
}

func (r *Registry) invalid(err *InvalidTransitionError, jobID string) error {
	r.stat.Counter(stats.SlotsInvalidTransitionCounter).Inc(1)
	log.WithFields(log.Fields{
		"slot":   err.Slot,
		"jobID":  jobID,
		"agent":  r.agent,
		"from":   err.From.String(),
		"to":     err.To.String(),
		"reason": err.Reason,
	}).Error("Refusing slot transition, negotiator and agent disagree")
	return err
}

// Snapshot returns every slot in registry order: static slots by number,
// or the partitionable parent followed by its dynamic slots.
func (r *Registry) Snapshot() []SlotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SlotState, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.state())
	}
	return out
}

func (s *slot) state() SlotState {
	st := SlotState{
		Id:            s.id,
		Activity:      s.activity.activity,
		Resources:     s.resources,
		Partitionable: s.partitionable,
		Since:         s.activity.since,
	}
	if s.claim != nil {
		c := *s.claim
		st.Claim = &c
	}
	return st
}

func (r *Registry) CountBusy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countBusy()
}

func (r *Registry) countBusy() int {
	n := 0
	for _, s := range r.slots {
		if s.activity.activity == Busy {
			n++
		}
	}
	return n
}

// FindByJob returns the Busy slot whose claim belongs to jobID.
func (r *Registry) FindByJob(jobID string) (SlotState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.claim != nil && s.claim.JobID == jobID {
			return s.state(), true
		}
	}
	return SlotState{}, false
}
