package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clog "github.com/twitter/tollgate/common/log"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/limits"
)

func init() {
	clog.ConfigureForTest()
}

var twelveCpus = Resources{Cpus: 12, MemoryMB: 12 * 1024, DiskMB: 12 * 1024}

func newClaim(t *testing.T, jobID string, res Resources) Claim {
	c, err := NewClaim(jobID, []limits.Request{{Name: "xsw", Weight: 1}}, res)
	require.NoError(t, err)
	return c
}

func TestStaticLayout(t *testing.T) {
	r := NewRegistry("agent1", Layout{NumSlots: 12, Total: twelveCpus}, nil)
	snap := r.Snapshot()
	require.Len(t, snap, 12)
	assert.Equal(t, SlotId("slot1@agent1"), snap[0].Id)
	assert.Equal(t, SlotId("slot12@agent1"), snap[11].Id)
	assert.Equal(t, Resources{1, 1024, 1024}, snap[3].Resources)
	assert.Equal(t, "agent1", snap[3].Id.Agent())
	for _, s := range snap {
		assert.Equal(t, Idle, s.Activity)
	}
}

func TestGrantRelease(t *testing.T) {
	stat := stats.DefaultStatsReceiver()
	r := NewRegistry("agent1", Layout{NumSlots: 2, Total: twelveCpus}, stat)
	transitions := []Transition{}
	r.OnTransition(func(tr Transition) { transitions = append(transitions, tr) })

	claim := newClaim(t, "1.0", Resources{Cpus: 1})
	id, err := r.Grant("slot2@agent1", claim)
	require.NoError(t, err)
	assert.Equal(t, SlotId("slot2@agent1"), id)
	assert.Equal(t, 1, r.CountBusy())

	s, ok := r.FindByJob("1.0")
	require.True(t, ok)
	assert.Equal(t, Busy, s.Activity)
	assert.Equal(t, claim.Id, s.Claim.Id)
	assert.False(t, s.Claim.Granted.IsZero())

	released, err := r.Release(id)
	require.NoError(t, err)
	assert.Equal(t, "1.0", released.JobID)
	assert.Equal(t, 0, r.CountBusy())
	_, ok = r.FindByJob("1.0")
	assert.False(t, ok)

	require.Len(t, transitions, 2)
	assert.Equal(t, "Changing activity: Idle -> Busy", transitions[0].String())
	assert.Equal(t, "Changing activity: Busy -> Idle", transitions[1].String())
	assert.Equal(t, "1.0", transitions[1].JobID)

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.SlotsClaimedCounter:  {Checker: stats.Int64EqTest, Value: 1},
		stats.SlotsReleasedCounter: {Checker: stats.Int64EqTest, Value: 1},
		stats.SlotsBusyGauge:       {Checker: stats.Int64EqTest, Value: 0},
	})
}

func TestInvalidTransitions(t *testing.T) {
	stat := stats.DefaultStatsReceiver()
	r := NewRegistry("agent1", Layout{NumSlots: 1, Total: twelveCpus}, stat)

	_, err := r.Release("slot1@agent1")
	assert.True(t, IsInvalidTransition(err), "release of an Idle slot: %v", err)

	_, err = r.Grant("slot1@agent1", newClaim(t, "1.0", Resources{}))
	require.NoError(t, err)
	_, err = r.Grant("slot1@agent1", newClaim(t, "1.1", Resources{}))
	require.Error(t, err)
	ite, ok := err.(*InvalidTransitionError)
	require.True(t, ok)
	assert.Equal(t, Busy, ite.From)

	_, err = r.Grant("slot9@agent1", newClaim(t, "1.2", Resources{}))
	assert.True(t, IsInvalidTransition(err))

	_, err = r.Grant("slot1@agent1", newClaim(t, "1.3", Resources{Cpus: 13}))
	assert.True(t, IsInvalidTransition(err))

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.SlotsInvalidTransitionCounter: {Checker: stats.Int64EqTest, Value: 4},
	})
}

func TestPartitionable(t *testing.T) {
	r := NewRegistry("agent1", Layout{Total: Resources{Cpus: 3, MemoryMB: 300, DiskMB: 300}, Partitionable: true}, nil)
	parent := SlotId("slot1@agent1")

	a, err := r.Grant(parent, newClaim(t, "1.0", Resources{1, 100, 100}))
	require.NoError(t, err)
	assert.Equal(t, SlotId("slot1_1@agent1"), a)
	b, err := r.Grant(parent, newClaim(t, "1.1", Resources{2, 100, 100}))
	require.NoError(t, err)
	assert.Equal(t, SlotId("slot1_2@agent1"), b)

	_, err = r.Grant(parent, newClaim(t, "1.2", Resources{1, 100, 100}))
	assert.True(t, IsInvalidTransition(err), "parent is out of cpus")

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.True(t, snap[0].Partitionable)
	assert.Equal(t, Idle, snap[0].Activity)
	assert.Equal(t, Resources{0, 100, 100}, snap[0].Resources)
	assert.Equal(t, 2, r.CountBusy())

	_, err = r.Release(a)
	require.NoError(t, err)
	snap = r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Resources{1, 200, 200}, snap[0].Resources)
	assert.Equal(t, b, snap[1].Id)

	c, err := r.Grant(parent, newClaim(t, "1.2", Resources{1, 100, 100}))
	require.NoError(t, err)
	assert.Equal(t, SlotId("slot1_3@agent1"), c)
}
