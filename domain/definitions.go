// Package domain provides definitions for tollgate jobs
package domain

import (
	"fmt"
	"time"

	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/slots"
)

// JobDefinition is what a submitter asks to run.
type JobDefinition struct {
	Executable      string
	Args            []string
	RequestCpus     int
	RequestMemoryMB int
	RequestDiskMB   int
	// concurrency_limits attribute, e.g. "XSW" or "small.license:2,large.license"
	ConcurrencyLimits string
	// How long the simulated payload runs.
	Duration time.Duration
}

func (jd JobDefinition) String() string {
	return fmt.Sprintf("exe:%s, cpus:%d, memory:%dMB, disk:%dMB, limits:%q, duration:%s",
		jd.Executable, jd.RequestCpus, jd.RequestMemoryMB, jd.RequestDiskMB, jd.ConcurrencyLimits, jd.Duration)
}

func (jd JobDefinition) Resources() slots.Resources {
	return slots.Resources{Cpus: jd.RequestCpus, MemoryMB: jd.RequestMemoryMB, DiskMB: jd.RequestDiskMB}
}

// Job is a queued or finished submission, identified as <cluster>.<proc>.
type Job struct {
	Id        string
	Def       JobDefinition
	Limits    []limits.Request
	Status    Status
	Slot      slots.SlotId
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
	Err       string
}

func JobId(cluster, proc int) string {
	return fmt.Sprintf("%d.%d", cluster, proc)
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s %s slot:%s limits:%s", j.Id, j.Status, j.Slot, limits.FormatRequests(j.Limits))
}

// Status of a Job
type Status int

const (
	// Queued, waiting for a slot
	Idle Status = iota

	// Holding a claim on a slot
	Running

	// Payload finished, claim released
	Completed

	// Removed by a user, while queued or running
	Removed
)

func (s Status) String() string {
	asString := [4]string{"Idle", "Running", "Completed", "Removed"}
	if s < 0 || int(s) >= len(asString) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return asString[s]
}

func (s Status) Terminal() bool {
	return s == Completed || s == Removed
}

// The only permitted status changes: Idle->Running->Completed, Idle->Removed, Running->Removed.
func CanTransition(from, to Status) bool {
	switch from {
	case Idle:
		return to == Running || to == Removed
	case Running:
		return to == Completed || to == Removed
	default:
		return false
	}
}

// JobEvent is emitted on submission (From == To == Idle) and on every status change.
type JobEvent struct {
	JobID string
	From  Status
	To    Status
	Slot  slots.SlotId
	Time  time.Time
}

func (e JobEvent) Submitted() bool {
	return e.From == Idle && e.To == Idle
}
