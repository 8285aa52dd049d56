package negotiator

import (
	"fmt"
	"time"

	"github.com/twitter/tollgate/slots"
)

type Outcome int

const (
	Granted Outcome = iota
	RejectedConcurrencyLimit
	RejectedOtherResource
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "Granted"
	case RejectedConcurrencyLimit:
		return "RejectedConcurrencyLimit"
	case RejectedOtherResource:
		return "RejectedOtherResource"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// One decision for one job against one candidate slot.
type MatchAttempt struct {
	JobID   string
	Slot    slots.SlotId
	Outcome Outcome
	// Set for RejectedConcurrencyLimit: the first limit without headroom.
	Limit string
}

func (m MatchAttempt) String() string {
	if m.Outcome == RejectedConcurrencyLimit {
		return fmt.Sprintf("%s on %s: %s(%s)", m.JobID, m.Slot, m.Outcome, m.Limit)
	}
	return fmt.Sprintf("%s on %s: %s", m.JobID, m.Slot, m.Outcome)
}

// CycleResult summarizes one negotiation cycle.
type CycleResult struct {
	Cycle    int64
	Started  time.Time
	Duration time.Duration
	Attempts []MatchAttempt
	// Jobs granted a claim, by job id.
	Granted map[string]slots.SlotId
	// Idle jobs that found no slot.
	Unmatched []string
	// Limits the reported usage put above capacity.
	Overcommitted int
	// Claim activations refused by agents.
	ActivationErrors int
}

func (r CycleResult) String() string {
	return fmt.Sprintf("cycle %d: %d granted, %d unmatched, %d attempts, %d overcommitted, %d activation errors, took %s",
		r.Cycle, len(r.Granted), len(r.Unmatched), len(r.Attempts), r.Overcommitted, r.ActivationErrors, r.Duration)
}

// Rejections returns the concurrency limit rejections of the cycle.
func (r CycleResult) Rejections() []MatchAttempt {
	out := []MatchAttempt{}
	for _, a := range r.Attempts {
		if a.Outcome == RejectedConcurrencyLimit {
			out = append(out, a)
		}
	}
	return out
}
