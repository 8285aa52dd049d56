package slots

import (
	"fmt"
	"strings"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"

	"github.com/twitter/tollgate/limits"
)

type Activity int

const (
	Idle Activity = iota
	Busy
)

func (a Activity) String() string {
	switch a {
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	default:
		return fmt.Sprintf("Activity(%d)", int(a))
	}
}

// Cpu, memory and disk of a slot or requested by a job.
type Resources struct {
	Cpus     int
	MemoryMB int
	DiskMB   int
}

func (r Resources) Fits(req Resources) bool {
	return req.Cpus <= r.Cpus && req.MemoryMB <= r.MemoryMB && req.DiskMB <= r.DiskMB
}

func (r Resources) Add(o Resources) Resources {
	return Resources{r.Cpus + o.Cpus, r.MemoryMB + o.MemoryMB, r.DiskMB + o.DiskMB}
}

func (r Resources) Sub(o Resources) Resources {
	return Resources{r.Cpus - o.Cpus, r.MemoryMB - o.MemoryMB, r.DiskMB - o.DiskMB}
}

func (r Resources) String() string {
	return fmt.Sprintf("cpus=%d memory=%dMB disk=%dMB", r.Cpus, r.MemoryMB, r.DiskMB)
}

// slot<N>@<agent> or, for dynamic slots, slot<N>_<k>@<agent>.
type SlotId string

func NewSlotId(n int, agent string) SlotId {
	return SlotId(fmt.Sprintf("slot%d@%s", n, agent))
}

func NewDynamicSlotId(n, k int, agent string) SlotId {
	return SlotId(fmt.Sprintf("slot%d_%d@%s", n, k, agent))
}

func (id SlotId) Agent() string {
	s := string(id)
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		return s[idx+1:]
	}
	return ""
}

// The binding of a job to a slot for as long as the job runs.
type Claim struct {
	Id        string
	JobID     string
	Limits    []limits.Request
	Resources Resources
	Granted   time.Time
}

func NewClaim(jobID string, reqs []limits.Request, res Resources) (Claim, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Claim{}, errors.Wrap(err, "generating claim id")
	}
	return Claim{Id: id.String(), JobID: jobID, Limits: reqs, Resources: res}, nil
}

func (c Claim) String() string {
	return fmt.Sprintf("claim %s job=%s limits=%s %s", c.Id, c.JobID, limits.FormatRequests(c.Limits), c.Resources)
}

// A reported view of one slot.
type SlotState struct {
	Id       SlotId
	Activity Activity
	// For a partitionable parent: what is left to carve.
	Resources     Resources
	Partitionable bool
	Claim         *Claim
	Since         time.Time
}

func (s SlotState) String() string {
	job := ""
	if s.Claim != nil {
		job = " job=" + s.Claim.JobID
	}
	return fmt.Sprintf("%s %s %s%s", s.Id, s.Activity, s.Resources, job)
}

// Emitted on every activity change.
type Transition struct {
	Slot  SlotId
	From  Activity
	To    Activity
	JobID string
	Time  time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf("Changing activity: %s -> %s", t.From, t.To)
}

// Returned when asked for a transition the slot's state doesn't permit.
type InvalidTransitionError struct {
	Slot   SlotId
	From   Activity
	To     Activity
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s on %s: %s", e.From, e.To, e.Slot, e.Reason)
}

func IsInvalidTransition(err error) bool {
	_, ok := errors.Cause(err).(*InvalidTransitionError)
	return ok
}
