package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Limit ledger metrics **************************/
	/*
		number of successful limit reservations
	*/
	LedgerReserveCounter = "ledgerReserveCounter"

	/*
		number of reservations refused because the limit had no headroom
	*/
	LedgerRejectedCounter = "ledgerRejectedCounter"

	/*
		number of limit releases (completed, vacated or rolled back claims)
	*/
	LedgerReleaseCounter = "ledgerReleaseCounter"

	/*
		number of limits found above capacity when reconciling with the last agent reports.
		This is the accepted stale snapshot overcommit, it is counted rather than corrected.
	*/
	LedgerOvercommitCounter = "ledgerOvercommitCounter"

	/*
		number of backing store errors (redis), each one counted as a failed reservation
	*/
	LedgerStoreErrCounter = "ledgerStoreErrCounter"

	/*
		number of reserve or release calls refused because the weight was not a positive finite number
	*/
	LedgerInvalidWeightCounter = "ledgerInvalidWeightCounter"

	/*
		current usage of a limit, scoped by limit name
	*/
	LedgerLimitUsageGauge = "limitUsageGauge"

	/************************* Slot registry metrics **************************/
	/*
		number of Busy slots on an agent
	*/
	SlotsBusyGauge = "slotsBusyGauge"

	/*
		number of Idle -> Busy transitions
	*/
	SlotsClaimedCounter = "slotsClaimedCounter"

	/*
		number of Busy -> Idle transitions
	*/
	SlotsReleasedCounter = "slotsReleasedCounter"

	/*
		number of refused slot transitions (a matchmaker/registry desync)
	*/
	SlotsInvalidTransitionCounter = "slotsInvalidTransitionCounter"

	/************************* Agent metrics **************************/
	/*
		number of machine ads pushed to the collector
	*/
	AgentReportCounter = "agentReportCounter"

	/*
		number of machine ad pushes that failed after retries
	*/
	AgentReportErrCounter = "agentReportErrCounter"

	/*
		number of jobs vacated because they were removed while running
	*/
	AgentVacatedCounter = "agentVacatedCounter"

	/*
		time spent executing a job payload
	*/
	AgentJobRunLatency_ms = "jobRunLatency_ms"

	/************************* Collector metrics **************************/
	/*
		number of live (unexpired) machine ads
	*/
	CollectorLiveAdsGauge = "collectorLiveAdsGauge"

	/*
		number of machine ads dropped because their sequence number was stale
	*/
	CollectorStaleAdCounter = "collectorStaleAdCounter"

	/*
		number of machine ads that expired without a fresh report
	*/
	CollectorExpiredAdCounter = "collectorExpiredAdCounter"

	/************************* Queue metrics **************************/
	/*
		number of submitted jobs
	*/
	QueueSubmittedCounter = "queueSubmittedCounter"

	/*
		number of jobs in each status
	*/
	QueueIdleJobsGauge      = "queueIdleJobsGauge"
	QueueRunningJobsGauge   = "queueRunningJobsGauge"
	QueueCompletedJobsGauge = "queueCompletedJobsGauge"
	QueueRemovedJobsGauge   = "queueRemovedJobsGauge"

	/*
		number of terminal jobs garbage collected after their retention
	*/
	QueueReapedCounter = "queueReapedCounter"

	/************************* Negotiator metrics **************************/
	/*
		number of negotiation cycles run
	*/
	NegotiatorCycleCounter = "negotiatorCycleCounter"

	/*
		the amount of time it takes to run one negotiation cycle
	*/
	NegotiatorCycleLatency_ms = "negotiatorCycleLatency_ms"

	/*
		number of claims granted
	*/
	NegotiatorGrantedCounter = "negotiatorGrantedCounter"

	/*
		number of match attempts rejected because a concurrency limit was reached
	*/
	NegotiatorRejectedLimitCounter = "negotiatorRejectedLimitCounter"

	/*
		number of match attempts rejected because the slot could not fit the job
	*/
	NegotiatorRejectedResourceCounter = "negotiatorRejectedResourceCounter"

	/*
		number of claim activations refused by an agent (the slot was not Idle)
	*/
	NegotiatorActivationErrCounter = "negotiatorActivationErrCounter"

	/*
		number of idle jobs that found no slot in a cycle
	*/
	NegotiatorUnmatchedGauge = "negotiatorUnmatchedGauge"

	/*
		number of jobs removed through the negotiator, running or not
	*/
	NegotiatorRemovedCounter = "negotiatorRemovedCounter"
)
