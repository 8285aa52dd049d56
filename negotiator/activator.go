package negotiator

//go:generate mockgen -source=activator.go -package=negotiator -destination=activator_mock.go

import (
	"time"

	"github.com/twitter/tollgate/collector"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/slots"
)

// ClaimActivator is the negotiator's handle on one agent.
type ClaimActivator interface {
	// Grants job a claim on slot and starts it, returning the slot that went Busy.
	ActivateClaim(slot slots.SlotId, job domain.Job) (slots.SlotId, error)

	// Stops a running job, releasing its slot and limits now.
	Vacate(jobID string) error
}

// JobQueue is where idle jobs come from.
type JobQueue interface {
	Idle() []domain.Job
	Remove(id string) (domain.Status, error)
	Get(id string) (domain.Job, error)
}

// AdSource provides the machine ads a cycle plans from.
type AdSource interface {
	Ads(now time.Time) []collector.MachineAd
}
