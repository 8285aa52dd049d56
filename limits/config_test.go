package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func condorConfig(t *testing.T) Config {
	cfg, err := ParseConfig(map[string]string{
		"XSW_LIMIT":                       "4",
		"CONCURRENCY_LIMIT_DEFAULT":       "2",
		"CONCURRENCY_LIMIT_DEFAULT_SMALL": "3",
		"concurrency_limit_default_large": " 1 ",
		"NEGOTIATOR_INTERVAL":             "4",
		"NUM_CPUS":                        "12",
	})
	require.NoError(t, err)
	return cfg
}

func TestParseConfig(t *testing.T) {
	cfg := condorConfig(t)
	assert.Equal(t, map[string]float64{"xsw": 4}, cfg.Named)
	assert.Equal(t, map[string]float64{"small": 3, "large": 1}, cfg.Buckets)
	require.NotNil(t, cfg.Default)
	assert.Equal(t, 2.0, *cfg.Default)
}

func TestParseConfigErrors(t *testing.T) {
	for _, kv := range []map[string]string{
		{"XSW_LIMIT": "four"},
		{"XSW_LIMIT": "-1"},
		{"CONCURRENCY_LIMIT_DEFAULT": ""},
		{"CONCURRENCY_LIMIT_DEFAULT_SMALL": "NaN"},
	} {
		if _, err := ParseConfig(kv); err == nil {
			t.Errorf("%v: expected an error", kv)
		}
	}
}

func TestResolve(t *testing.T) {
	cfg := condorConfig(t)
	tests := []struct {
		name      string
		capacity  float64
		source    Source
		ambiguous bool
	}{
		{"XSW", 4, SourceNamed, false},
		{"small.license", 3, SourceBucket, false},
		{"LARGE.license", 1, SourceBucket, false},
		{"undefined", 2, SourceDefault, false},
		{"medium.license", 2, SourceDefault, true},
	}
	for _, test := range tests {
		res := cfg.Resolve(test.name)
		if res.Capacity != test.capacity || res.Source != test.source || res.Ambiguous() != test.ambiguous {
			t.Errorf("%s: got %+v (ambiguous=%v), expected capacity %v from %v (ambiguous=%v)",
				test.name, res, res.Ambiguous(), test.capacity, test.source, test.ambiguous)
		}
	}
}

func TestResolveNamedBeatsBucket(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		"small.license_LIMIT":             "7",
		"CONCURRENCY_LIMIT_DEFAULT_SMALL": "3",
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.Resolve("SMALL.LICENSE").Capacity)
	assert.Equal(t, 3.0, cfg.Resolve("small.other").Capacity)

	res := cfg.Resolve("other")
	assert.True(t, IsUnlimited(res.Capacity))
	assert.Equal(t, SourceUnlimited, res.Source)
	assert.False(t, res.Ambiguous())
}

func TestMaxConcurrent(t *testing.T) {
	cfg := condorConfig(t)
	tests := []struct {
		attr    string
		n       int
		bounded bool
	}{
		{"XSW", 4, true},
		{"UNDEFINED:2", 1, true},
		{"small.license", 3, true},
		{"large.license", 1, true},
		{"small.license:1.5", 2, true},
		{"xsw, large.license", 1, true},
		{"", 0, false},
		{"XSW:1e-300", 0, false},
		{"xsw:1e-300, large.license", 1, true},
	}
	for _, test := range tests {
		reqs, err := ParseRequests(test.attr)
		require.NoError(t, err)
		n, bounded := cfg.MaxConcurrent(reqs)
		assert.Equal(t, test.bounded, bounded, test.attr)
		assert.Equal(t, test.n, n, test.attr)
	}

	free, err := ParseConfig(nil)
	require.NoError(t, err)
	_, bounded := free.MaxConcurrent([]Request{{"anything", 1}})
	assert.False(t, bounded)
}
