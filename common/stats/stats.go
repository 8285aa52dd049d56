// This package provides a set of minimal instrument interfaces which are backed
// by go-metrics. We wrap go-metrics so that callers pass a StatsReceiver down
// the call tree, scoping it at each level, without depending on go-metrics
// themselves.
//
// Specifically, we provide:
// - A StatsReceiver object that can be passed down a call tree and scoped to each level.
// - A Latency instrument to more easily record callsite latency.
// - Rendering of all registered instruments as (optionally pretty) JSON.
//
// Original license: github.com/rcrowley/go-metrics/blob/master/LICENSE
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// Event counter.
type Counter interface {
	Inc(int64)
	Count() int64
}

// Holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Holds a float64 value that can be set arbitrarily.
type GaugeFloat interface {
	Update(float64)
	Value() float64
}

// Records durations. Time() returns a Stopwatch whose Stop() records the
// duration elapsed since Time() was called.
type Latency interface {
	Time() Stopwatch
	Update(time.Duration)
	Count() int64
}

type Stopwatch interface {
	Stop()
}

//
// A registry wrapper for metrics that will be collected about the runtime
// performance of an application.
//
// Hierarchical names are stored using a '/' path separator. Variadic name
// elements have '/' replaced by "_SLASH_" before they are used internally,
// since names are sometimes generated dynamically (i.e. from limit names).
//
type StatsReceiver interface {
	// Return a stats receiver that will automatically namespace elements with
	// the given scope args.
	//
	//   statsReceiver.Scope("foo", "bar").Counter("baz")  // is equivalent to
	//   statsReceiver.Counter("foo", "bar", "baz")
	//
	Scope(scope ...string) StatsReceiver

	// Returns a copy whose Latency instruments render in the given precision.
	// Captured data is always nanoseconds, only its display changes.
	Precision(time.Duration) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	GaugeFloat(name ...string) GaugeFloat
	Latency(name ...string) Latency

	// Removes the given named stats item if it exists
	Remove(name ...string)

	// Current value of every instrument, keyed by scoped name. Latencies are
	// flattened into <name>.count, <name>.avg, <name>.p50, <name>.p99, <name>.max.
	Values() map[string]interface{}

	// Construct a JSON string by marshaling Values().
	Render(pretty bool) []byte
}

// DefaultStatsReceiver is a small wrapper around a fresh go-metrics registry
// with millisecond latency precision.
func DefaultStatsReceiver() StatsReceiver {
	return NewCustomStatsReceiver(metrics.NewRegistry())
}

// Like DefaultStatsReceiver() but the registry is made explicit.
func NewCustomStatsReceiver(registry metrics.Registry) StatsReceiver {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &defaultStatsReceiver{
		registry:  registry,
		precision: time.Millisecond,
	}
}

type defaultStatsReceiver struct {
	registry  metrics.Registry
	precision time.Duration
	scope     []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.precision, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Precision(precision time.Duration) StatsReceiver {
	if precision < 1 {
		precision = 1
	}
	return &defaultStatsReceiver{s.registry, precision, s.scope}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGaugeFloat64).(metrics.GaugeFloat64)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	timer := s.registry.GetOrRegister(s.scopedName(name...), func() metrics.Timer {
		return &precisionTimer{metrics.NewTimer(), s.precision}
	})
	return &latency{timer.(metrics.Timer)}
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Values() map[string]interface{} {
	values := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			values[name] = m.Count()
		case metrics.Gauge:
			values[name] = m.Value()
		case metrics.GaugeFloat64:
			values[name] = m.Value()
		case *precisionTimer:
			snap := m.Snapshot()
			p := float64(m.precision)
			values[name+".count"] = snap.Count()
			values[name+".avg"] = snap.Mean() / p
			values[name+".p50"] = snap.Percentile(0.5) / p
			values[name+".p99"] = snap.Percentile(0.99) / p
			values[name+".max"] = float64(snap.Max()) / p
		default:
			log.Info("Unrecognized instrument: ", name, i)
		}
	})
	return values
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	var (
		bytes []byte
		err   error
	)
	if pretty {
		bytes, err = json.MarshalIndent(s.Values(), "", "  ")
	} else {
		bytes, err = json.Marshal(s.Values())
	}
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	return bytes
}

func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(s.scope)+len(scope))
	out = append(out, s.scope...)
	for _, elem := range scope {
		out = append(out, strings.Replace(elem, "/", "_SLASH_", -1))
	}
	return out
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(s.scoped(name...), "/")
}

// A go-metrics timer that remembers how it should be rendered.
type precisionTimer struct {
	metrics.Timer
	precision time.Duration
}

type latency struct {
	metrics.Timer
}

func (l *latency) Time() Stopwatch {
	return &stopwatch{l.Timer, time.Now()}
}

type stopwatch struct {
	timer metrics.Timer
	start time.Time
}

func (s *stopwatch) Stop() {
	s.timer.UpdateSince(s.start)
}

//
// A StatsReceiver which discards everything.
//
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver       { return s }
func (s *nilStatsReceiver) Precision(time.Duration) StatsReceiver     { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter            { return metrics.NilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge                { return metrics.NilGauge{} }
func (s *nilStatsReceiver) GaugeFloat(name ...string) GaugeFloat      { return metrics.NilGaugeFloat64{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency            { return &latency{metrics.NilTimer{}} }
func (s *nilStatsReceiver) Remove(name ...string)                     {}
func (s *nilStatsReceiver) Values() map[string]interface{}            { return map[string]interface{}{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte                 { return []byte("{}") }
