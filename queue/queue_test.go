package queue

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clog "github.com/twitter/tollgate/common/log"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/limits"
)

func init() {
	clog.ConfigureForTest()
}

func xswDef() domain.JobDefinition {
	return domain.JobDefinition{Executable: "/bin/sleep", Args: []string{"1"}, RequestCpus: 1, ConcurrencyLimits: "XSW"}
}

func TestSubmit(t *testing.T) {
	q := NewQueue(time.Hour, nil)
	ids, err := q.Submit(xswDef(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "1.1", "1.2"}, ids)

	ids, err = q.Submit(domain.JobDefinition{ConcurrencyLimits: "UNDEFINED:2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0"}, ids)

	idle := q.Idle()
	require.Len(t, idle, 4)
	assert.Equal(t, "1.0", idle[0].Id)
	assert.Equal(t, "2.0", idle[3].Id)
	assert.Equal(t, []limits.Request{{Name: "undefined", Weight: 2}}, idle[3].Limits)

	_, err = q.Submit(domain.JobDefinition{ConcurrencyLimits: "a:0"}, 1)
	assert.Error(t, err)
	_, err = q.Submit(xswDef(), 0)
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	stat := stats.DefaultStatsReceiver()
	q := NewQueue(time.Hour, stat)
	events := []domain.JobEvent{}
	q.Subscribe(func(ev domain.JobEvent) { events = append(events, ev) })

	ids, _ := q.Submit(xswDef(), 1)
	id := ids[0]
	require.NoError(t, q.JobStarted(id, "slot1@agent1"))
	j, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Running, j.Status)
	assert.Equal(t, "slot1@agent1", string(j.Slot))
	assert.Empty(t, q.Idle())

	require.NoError(t, q.JobFinished(id, errors.New("exit 1")))
	j, _ = q.Get(id)
	assert.Equal(t, domain.Completed, j.Status)
	assert.Equal(t, "exit 1", j.Err)
	assert.False(t, j.Finished.Before(j.Started))

	require.Len(t, events, 3)
	assert.True(t, events[0].Submitted())
	assert.Equal(t, domain.Running, events[1].To)
	assert.Equal(t, domain.Completed, events[2].To)

	// terminal jobs go nowhere
	_, ok := q.JobStarted(id, "slot2@agent1").(*InvalidStatusError)
	assert.True(t, ok)
	_, err = q.Remove(id)
	assert.Error(t, err)

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.QueueSubmittedCounter:   {Checker: stats.Int64EqTest, Value: 1},
		stats.QueueCompletedJobsGauge: {Checker: stats.Int64EqTest, Value: 1},
		stats.QueueRunningJobsGauge:   {Checker: stats.Int64EqTest, Value: 0},
	})
}

func TestRemove(t *testing.T) {
	q := NewQueue(time.Hour, nil)
	ids, _ := q.Submit(xswDef(), 2)

	prev, err := q.Remove(ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.Idle, prev)
	assert.Len(t, q.Idle(), 1)
	assert.Error(t, q.JobStarted(ids[0], "slot1@agent1"), "removed jobs never start")

	require.NoError(t, q.JobStarted(ids[1], "slot1@agent1"))
	prev, err = q.Remove(ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.Running, prev)
	// the vacated payload reporting back is fine
	assert.NoError(t, q.JobFinished(ids[1], nil))
	j, _ := q.Get(ids[1])
	assert.Equal(t, domain.Removed, j.Status)

	_, err = q.Remove("9.9")
	assert.True(t, errors.Cause(err) == ErrUnknownJob)
	assert.Equal(t, map[domain.Status]int{domain.Removed: 2}, q.Counts())
}

func TestReap(t *testing.T) {
	q := NewQueue(time.Minute, nil)
	now := time.Now()
	q.now = func() time.Time { return now }
	ids, _ := q.Submit(xswDef(), 3)
	q.Remove(ids[0])
	q.JobStarted(ids[1], "slot1@agent1")
	q.JobFinished(ids[1], nil)

	assert.Equal(t, 0, q.Reap(now.Add(59*time.Second)))
	assert.Equal(t, 2, q.Reap(now.Add(time.Minute)))
	_, err := q.Get(ids[0])
	assert.Error(t, err)
	assert.Len(t, q.Idle(), 1)
	assert.Equal(t, map[domain.Status]int{domain.Idle: 1}, q.Counts())
}
