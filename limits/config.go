package limits

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	defaultKey      = "CONCURRENCY_LIMIT_DEFAULT"
	bucketKeyPrefix = defaultKey + "_"
	namedKeySuffix  = "_LIMIT"
	capacityEpsilon = 1e-9
)

// Capacity of a limit that resolved to nothing.
var Unlimited = math.Inf(1)

func IsUnlimited(capacity float64) bool {
	return math.IsInf(capacity, 1)
}

// Where a limit's capacity came from.
type Source int

const (
	SourceNamed Source = iota
	SourceBucket
	SourceDefault
	SourceUnlimited
)

func (s Source) String() string {
	switch s {
	case SourceNamed:
		return "named"
	case SourceBucket:
		return "bucket default"
	case SourceDefault:
		return "default"
	case SourceUnlimited:
		return "unlimited"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Configured capacities. All keys are lower case.
//   Named:   <NAME>_LIMIT
//   Buckets: CONCURRENCY_LIMIT_DEFAULT_<BUCKET>, applies to names of the form <bucket>.<anything>
//   Default: CONCURRENCY_LIMIT_DEFAULT, nil when unset
type Config struct {
	Named   map[string]float64
	Buckets map[string]float64
	Default *float64
}

type Resolution struct {
	Capacity float64
	Source   Source
	// Set for dotted names, e.g. "small" for "small.license".
	Bucket string
}

// A dotted name whose bucket has no configured default fell through to the
// generic default (or to unlimited).
func (r Resolution) Ambiguous() bool {
	return r.Bucket != "" && (r.Source == SourceDefault || r.Source == SourceUnlimited)
}

// ParseConfig extracts limit capacities from configuration key/values.
// Keys are case-insensitive, keys unrelated to concurrency limits are ignored.
func ParseConfig(kv map[string]string) (Config, error) {
	cfg := Config{Named: map[string]float64{}, Buckets: map[string]float64{}}
	for k, v := range kv {
		key := strings.ToUpper(strings.TrimSpace(k))
		var set func(float64)
		switch {
		case key == defaultKey:
			set = func(c float64) { cfg.Default = &c }
		case strings.HasPrefix(key, bucketKeyPrefix) && len(key) > len(bucketKeyPrefix):
			bucket := strings.ToLower(strings.TrimPrefix(key, bucketKeyPrefix))
			set = func(c float64) { cfg.Buckets[bucket] = c }
		case strings.HasSuffix(key, namedKeySuffix) && len(key) > len(namedKeySuffix):
			name := strings.ToLower(strings.TrimSuffix(key, namedKeySuffix))
			set = func(c float64) { cfg.Named[name] = c }
		default:
			continue
		}
		capacity, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid capacity for %s", k)
		}
		if capacity < 0 || math.IsNaN(capacity) {
			return Config{}, errors.Errorf("capacity for %s must not be negative, got %v", k, capacity)
		}
		set(capacity)
	}
	return cfg, nil
}

// Resolve walks the fallback chain: named limit, bucket default, generic default, unlimited.
func (c Config) Resolve(name string) Resolution {
	name = strings.ToLower(name)
	bucket := ""
	if idx := strings.Index(name, "."); idx > 0 {
		bucket = name[:idx]
	}
	if capacity, ok := c.Named[name]; ok {
		return Resolution{capacity, SourceNamed, bucket}
	}
	if bucket != "" {
		if capacity, ok := c.Buckets[bucket]; ok {
			return Resolution{capacity, SourceBucket, bucket}
		}
	}
	if c.Default != nil {
		return Resolution{*c.Default, SourceDefault, bucket}
	}
	return Resolution{Unlimited, SourceUnlimited, bucket}
}

// MaxConcurrent is how many jobs requesting reqs can hold their limits at
// once. bounded is false when every request resolves to unlimited.
func (c Config) MaxConcurrent(reqs []Request) (n int, bounded bool) {
	for _, r := range reqs {
		res := c.Resolve(r.Name)
		if IsUnlimited(res.Capacity) {
			continue
		}
		fit := math.Floor(res.Capacity/r.Weight + capacityEpsilon)
		// Weights this small never bind in practice.
		if math.IsNaN(fit) || fit >= math.MaxInt32 {
			continue
		}
		if !bounded || int(fit) < n {
			n, bounded = int(fit), true
		}
	}
	return n, bounded
}

func (c Config) String() string {
	def := "unset"
	if c.Default != nil {
		def = strconv.FormatFloat(*c.Default, 'g', -1, 64)
	}
	return fmt.Sprintf("limits.Config: Named: %v, Buckets: %v, Default: %s", c.Named, c.Buckets, def)
}
