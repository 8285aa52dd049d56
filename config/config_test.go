package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clog "github.com/twitter/tollgate/common/log"
	"github.com/twitter/tollgate/limits"
)

func init() {
	clog.ConfigureForTest()
}

func TestGettingPresets(t *testing.T) {
	for _, name := range PresetNames() {
		_, err := GetPreset(name)
		assert.Nil(t, err, "error getting config %s: %v", name, err)
	}

	selector := "invalid.selector"
	config, err := GetPreset(selector)
	assert.NotNil(t, err, "configuration returned for %s: %s", selector, config)
}

func TestDefaults(t *testing.T) {
	c, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, c.NegotiatorInterval)
	assert.Equal(t, time.Duration(0), c.NegotiatorCycleDelay)
	assert.Equal(t, 5*time.Second, c.UpdateInterval)
	assert.Equal(t, 1, c.NumAgents)
	assert.Equal(t, 12, c.Layout.NumSlots)
	assert.False(t, c.Layout.Partitionable)
	assert.Equal(t, StoreMemory, c.LedgerStore)
	assert.Equal(t, "", c.Journal)
	assert.Nil(t, c.Limits.Default)
	assert.Empty(t, c.Limits.Named)
}

func TestPartitionablePreset(t *testing.T) {
	c, err := GetPreset("partitionable_slot")
	require.NoError(t, err)
	assert.True(t, c.Layout.Partitionable)
	assert.Equal(t, 12, c.Layout.Total.Cpus)
	assert.Equal(t, 4*time.Second, c.NegotiatorInterval)
	assert.Equal(t, 4*time.Second, c.NegotiatorCycleDelay)

	assert.Equal(t, 4.0, c.Limits.Named["xsw"])
	assert.Equal(t, 3.0, c.Limits.Buckets["small"])
	assert.Equal(t, 1.0, c.Limits.Buckets["large"])
	require.NotNil(t, c.Limits.Default)
	assert.Equal(t, 2.0, *c.Limits.Default)
}

func TestDottedLimitNames(t *testing.T) {
	c, err := Parse(`
# comment
Small.License_LIMIT = 5
concurrency_limit_default_db = 7
`)
	require.NoError(t, err)
	assert.Equal(t, 5.0, c.Limits.Named["small.license"])
	assert.Equal(t, 7.0, c.Limits.Buckets["db"])

	r := c.Limits.Resolve("small.license")
	assert.Equal(t, limits.SourceNamed, r.Source)
	assert.Equal(t, 5.0, r.Capacity)
}

func TestDurations(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"20":    20 * time.Second,
		" 0.5 ": 500 * time.Millisecond,
		"150ms": 150 * time.Millisecond,
		"0":     0,
	} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"soon", "-1", "-2s", ""} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestInvalidValues(t *testing.T) {
	for _, text := range []string{
		"NUM_AGENTS = 0",
		"NUM_SLOTS = many",
		"UPDATE_INTERVAL = 0",
		"LEDGER_STORE = etcd",
		"SLOT_TYPE_1_PARTITIONABLE = maybe",
		"XSW_LIMIT = lots",
		"CONCURRENCY_LIMIT_DEFAULT = -1",
	} {
		_, err := Parse(text)
		assert.Error(t, err, text)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tollgate.config")
	require.NoError(t, os.WriteFile(path, []byte("NUM_AGENTS = 2\nJOURNAL = /tmp/a.db\n"), 0644))
	t.Setenv("TOLLGATE_NUM_AGENTS", "5")

	c, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, c.NumAgents)
	assert.Equal(t, "/tmp/a.db", c.Journal)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tollgate.config")
	require.NoError(t, os.WriteFile(path, []byte("NUM_AGENTS = 2\nNUM_SLOTS = 3\n"), 0644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--agents=4", "--update_interval=250ms"}))

	c, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 4, c.NumAgents)
	assert.Equal(t, 3, c.Layout.NumSlots)
	assert.Equal(t, 250*time.Millisecond, c.UpdateInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}
