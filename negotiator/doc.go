/*
package negotiator provides the matchmaker: a periodic cycle that places idle
jobs on idle slots without exceeding any concurrency limit.

* Concepts *
Machine ad:
  What an agent last reported about its slots. The negotiator only ever plans
  from ads, never from live agent state.

Limit ledger:
  Usage per concurrency limit. Every cycle starts by resetting it to the usage
  the ads show, then reserves as it grants.

* Cycle *
  1. Snapshot the live ads and reconcile the ledger with their usage.
  2. For every idle job, in submission order, walk the idle slots first-fit
     in ad order (agents by name, slots in registry order):
       a. the slot must fit the job's cpus, memory and disk, else
          RejectedOtherResource and try the next slot;
       b. reserve every limit the job requests; on the first failure the
          reservations made so far are released and the job gets
          RejectedConcurrencyLimit(name). Headroom does not depend on the
          slot, so the job is not tried on other slots this cycle;
       c. activate the claim on the owning agent. A refusal means the ad was
          wrong about the slot: reservations are released and the next slot
          is tried.
  3. Jobs left unmatched stay queued for the next cycle.

Ads lag reality by up to one agent update interval. Running cycles more often
than agents report lets the ledger look freer than it is, which can overcommit
a limit until the next reports arrive. That window is counted (see
limits.Ledger.Reconcile), not closed.
*/
package negotiator
