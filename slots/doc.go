// Package slots tracks the execution slots of one agent and the claims that
// occupy them.
//
// A slot is either Idle or Busy. The only permitted transitions are
//   Idle --(claim granted)--> Busy --(job terminal)--> Idle
// and anything else is refused with an *InvalidTransitionError, which means
// the negotiator and the agent disagree about the slot.
//
// Slots come in two layouts. Static slots split the agent's resources evenly
// into slot1@agent .. slotN@agent. A partitionable agent has a single parent
// slot1@agent that never goes Busy itself: every claim granted on it carves a
// dynamic slot1_<k>@agent sized to the claim, and the dynamic slot disappears
// (returning its resources to the parent) when the claim is released.
package slots
