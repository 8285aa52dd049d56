package stats

import (
	"fmt"
	"sort"
	"strings"
	"testing"
)

// A named comparison of a recorded value (got) against an expected one (want).
// got is nil when the stat was never recorded.
type RuleChecker struct {
	name    string
	checker func(got, want interface{}) bool
}

// asFloat widens the numeric types Values() and test literals produce.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func numeric(name string, cmp func(got, want float64) bool) RuleChecker {
	return RuleChecker{name: name, checker: func(got, want interface{}) bool {
		if got == nil || want == nil {
			return got == want
		}
		g, ok1 := asFloat(got)
		w, ok2 := asFloat(want)
		return ok1 && ok2 && cmp(g, w)
	}}
}

var (
	Int64EqTest  = numeric("equal to", func(g, w float64) bool { return g == w })
	Int64GTETest = numeric("at least", func(g, w float64) bool { return g >= w })
	FloatGTTest  = numeric("greater than", func(g, w float64) bool { return g > w })
	// Gauge floats such as per-limit usage.
	FloatEqTest = numeric("within 1e-9 of", func(g, w float64) bool { return g-w < 1e-9 && w-g < 1e-9 })

	DoesNotExistTest = RuleChecker{name: "absent", checker: func(got, _ interface{}) bool { return got == nil }}
)

// Rule checks the value recorded under one key.
type Rule struct {
	Checker RuleChecker
	Value   interface{}
}

// StatsOk reports on t every key of contains whose recorded value fails its
// rule, followed by a dump of the registry, and returns whether all passed.
func StatsOk(tag string, stat StatsReceiver, t testing.TB, contains map[string]Rule) bool {
	t.Helper()
	values := stat.Values()

	keys := make([]string, 0, len(contains))
	for key := range contains {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var failures []string
	for _, key := range keys {
		rule := contains[key]
		got, recorded := values[key]
		if !recorded {
			got = nil
		}
		if rule.Checker.checker(got, rule.Value) {
			continue
		}
		if rule.Checker.name == DoesNotExistTest.name {
			failures = append(failures, fmt.Sprintf("%s: recorded %v, expected no entry", key, got))
		} else {
			failures = append(failures, fmt.Sprintf("%s: got %v, expected %s %v", key, got, rule.Checker.name, rule.Value))
		}
	}
	if len(failures) == 0 {
		return true
	}
	t.Errorf("%s stats mismatch:\n%s", tag, strings.Join(failures, "\n"))
	t.Logf("%s stats:\n%s", tag, stat.Render(true))
	return false
}
