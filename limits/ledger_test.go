package limits

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clog "github.com/twitter/tollgate/common/log"
	"github.com/twitter/tollgate/common/stats"
)

func init() {
	clog.ConfigureForTest()
}

func newTestLedger(t *testing.T) (*Ledger, stats.StatsReceiver, *[]Rejection) {
	stat := stats.DefaultStatsReceiver()
	l := NewLedger(condorConfig(t), WithStats(stat))
	rejections := &[]Rejection{}
	mu := sync.Mutex{}
	l.OnRejection(func(r Rejection) {
		mu.Lock()
		defer mu.Unlock()
		*rejections = append(*rejections, r)
	})
	return l, stat, rejections
}

func TestTryReserveUpToCapacity(t *testing.T) {
	l, stat, rejections := newTestLedger(t)
	for i := 0; i < 4; i++ {
		if !l.TryReserve("1.0", "XSW", 1) {
			t.Fatalf("reservation %d should fit", i)
		}
	}
	if l.TryReserve("1.4", "xsw", 1) {
		t.Fatal("fifth reservation should have been refused")
	}
	assert.Equal(t, 4.0, l.Usage("xsw"))

	require.Len(t, *rejections, 1)
	r := (*rejections)[0]
	assert.Equal(t, "Rejected 1.4: concurrency limit xsw reached", r.String())
	assert.Equal(t, 4.0, r.Usage)
	assert.Equal(t, 4.0, r.Capacity)

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.LedgerReserveCounter:                 {Checker: stats.Int64EqTest, Value: 4},
		stats.LedgerRejectedCounter:                {Checker: stats.Int64EqTest, Value: 1},
		"xsw/" + stats.LedgerLimitUsageGauge:       {Checker: stats.FloatEqTest, Value: 4.0},
		"undefined/" + stats.LedgerLimitUsageGauge: {Checker: stats.DoesNotExistTest, Value: nil},
	})
}

func TestWeightedDefault(t *testing.T) {
	l, _, rejections := newTestLedger(t)
	assert.True(t, l.TryReserve("1.0", "UNDEFINED", 2))
	assert.False(t, l.TryReserve("1.1", "UNDEFINED", 2))
	assert.Equal(t, "undefined", (*rejections)[0].Limit)

	// A weight that does not fit never fits, even on an empty limit.
	l.Release("undefined", 2)
	assert.False(t, l.TryReserve("1.2", "undefined", 2.5))
	assert.Equal(t, 0.0, l.Usage("undefined"))
}

func TestNonFiniteWeightsRefused(t *testing.T) {
	l, stat, rejections := newTestLedger(t)
	for _, w := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -1} {
		assert.False(t, l.TryReserve("1.0", "xsw", w), "weight %v", w)
		_, ok := l.ReserveAll("1.0", []Request{{"xsw", w}})
		assert.False(t, ok, "weight %v", w)
	}
	assert.Equal(t, 0.0, l.Usage("xsw"))
	assert.Empty(t, *rejections)

	// a bad release leaves the counter usable
	require.True(t, l.TryReserve("1.1", "xsw", 1))
	l.Release("xsw", math.NaN())
	assert.Equal(t, 1.0, l.Usage("xsw"))
	granted := 0
	for i := 0; i < 10; i++ {
		if l.TryReserve("1.2", "xsw", 1) {
			granted++
		}
	}
	assert.Equal(t, 3, granted)

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.LedgerInvalidWeightCounter: {Checker: stats.Int64EqTest, Value: 11},
	})
}

func TestReleaseClampsAtZero(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.Release("xsw", 3)
	assert.Equal(t, 0.0, l.Usage("xsw"))
	assert.True(t, l.TryReserve("1.0", "xsw", 4))
}

func TestReleaseThenReserve(t *testing.T) {
	l, _, _ := newTestLedger(t)
	require.True(t, l.TryReserve("1.0", "small.license", 1.5))
	require.True(t, l.TryReserve("1.1", "small.license", 1.5))
	require.False(t, l.TryReserve("1.2", "small.license", 1.5))

	l.Release("small.license", 1.5)
	assert.True(t, l.TryReserve("1.2", "small.license", 1.5))
}

func TestReserveAllRollsBack(t *testing.T) {
	l, _, rejections := newTestLedger(t)
	require.True(t, l.TryReserve("1.0", "large.license", 1))

	reqs := []Request{{"xsw", 1}, {"small.license", 1}, {"large.license", 1}}
	failed, ok := l.ReserveAll("2.0", reqs)
	assert.False(t, ok)
	assert.Equal(t, "large.license", failed)
	assert.Equal(t, 0.0, l.Usage("xsw"))
	assert.Equal(t, 0.0, l.Usage("small.license"))
	assert.Equal(t, 1.0, l.Usage("large.license"))
	require.Len(t, *rejections, 1)
	assert.Equal(t, "Rejected 2.0: concurrency limit large.license reached", (*rejections)[0].String())

	l.ReleaseAll([]Request{{"large.license", 1}})
	failed, ok = l.ReserveAll("2.0", reqs)
	assert.True(t, ok)
	assert.Equal(t, "", failed)
	assert.Equal(t, 1.0, l.Usage("xsw"))
}

func TestUnlimited(t *testing.T) {
	l := NewLedger(Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, l.TryReserve("1.0", "anything", 1))
	}
	assert.Equal(t, 1000.0, l.Usage("anything"))
}

func TestReconcile(t *testing.T) {
	l, stat, _ := newTestLedger(t)
	l.TryReserve("1.0", "xsw", 1)

	over := l.Reconcile(map[string]float64{"XSW": 5, "small.license": 2})
	assert.Equal(t, 1, over)
	assert.Equal(t, 5.0, l.Usage("xsw"))
	assert.Equal(t, 2.0, l.Usage("small.license"))
	assert.False(t, l.TryReserve("1.1", "xsw", 1))

	assert.Equal(t, 0, l.Reconcile(map[string]float64{"small.license": 1}))
	assert.Equal(t, 0.0, l.Usage("xsw"))
	assert.Equal(t, 1.0, l.Usage("small.license"))

	stats.StatsOk("", stat, t, map[string]stats.Rule{
		stats.LedgerOvercommitCounter: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestSnapshot(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.TryReserve("1.0", "small.license", 2)
	l.TryReserve("1.1", "undefined", 1)

	snap := l.Snapshot()
	assert.Equal(t, []Limit{
		{Name: "small.license", Capacity: 3, Usage: 2, Source: SourceBucket},
		{Name: "undefined", Capacity: 2, Usage: 1, Source: SourceDefault},
		{Name: "xsw", Capacity: 4, Usage: 0, Source: SourceNamed},
	}, snap)
	assert.Equal(t, 1.0, snap[0].Headroom())
}

func TestConcurrentReserveRelease(t *testing.T) {
	l, _, _ := newTestLedger(t)

	var mu sync.Mutex
	held, peak := 0, 0
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !l.TryReserve("1.0", "xsw", 1) {
					continue
				}
				mu.Lock()
				held++
				if held > peak {
					peak = held
				}
				mu.Unlock()

				mu.Lock()
				held--
				mu.Unlock()
				l.Release("xsw", 1)
			}
		}()
	}
	wg.Wait()

	assert.True(t, peak <= 4, "peak %d above capacity", peak)
	assert.Equal(t, 0.0, l.Usage("xsw"))
}

func TestCloseClosesStore(t *testing.T) {
	l := NewLedger(Config{}, WithStore(NewMemoryStore()))
	assert.NoError(t, l.Close())
}
