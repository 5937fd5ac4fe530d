package aggregate

import (
	"sort"
	"strconv"
	"time"

	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/telemetry"
)

// GroupKey identifies one statistics group.
type GroupKey struct {
	Key   string
	Value string
	Cycle int
}

// Report is the outcome of one aggregation pass.
type Report struct {
	Version string
	Start   string

	config      []telemetry.Field
	configIndex map[string]int

	groups     map[GroupKey]*metrics.Accumulator
	boundaries map[int]*metrics.CycleBoundary
	cvus       map[int]int

	Monitors      map[string][]telemetry.Sample
	MonitorConfig map[string][]telemetry.Field

	// Records is the number of record elements parsed.
	Records int
	// SkippedStartup counts records ignored because they ran during startup.
	SkippedStartup int
}

func newReport() *Report {
	return &Report{
		configIndex:   make(map[string]int),
		groups:        make(map[GroupKey]*metrics.Accumulator),
		boundaries:    make(map[int]*metrics.CycleBoundary),
		cvus:          make(map[int]int),
		Monitors:      make(map[string][]telemetry.Sample),
		MonitorConfig: make(map[string][]telemetry.Field),
	}
}

func (r *Report) setConfig(key, value string) {
	if i, ok := r.configIndex[key]; ok {
		r.config[i].Value = value
		return
	}
	r.configIndex[key] = len(r.config)
	r.config = append(r.config, telemetry.Field{Name: key, Value: value})
}

// Config returns the run configuration in log order.
func (r *Report) Config() []telemetry.Field {
	out := make([]telemetry.Field, len(r.config))
	copy(out, r.config)
	return out
}

// ConfigValue returns one run configuration entry.
func (r *Report) ConfigValue(key string) string {
	if i, ok := r.configIndex[key]; ok {
		return r.config[i].Value
	}
	return ""
}

// ConfiguredDuration is the per-cycle duration declared in the log.
func (r *Report) ConfiguredDuration() time.Duration {
	f, err := strconv.ParseFloat(r.ConfigValue("duration"), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// Keys returns the dimension keys in sorted order.
func (r *Report) Keys() []string {
	seen := make(map[string]struct{})
	for g := range r.groups {
		seen[g.Key] = struct{}{}
	}
	return sortedStrings(seen)
}

// Values returns the dimension values seen for key in sorted order.
func (r *Report) Values(key string) []string {
	seen := make(map[string]struct{})
	for g := range r.groups {
		if g.Key == key {
			seen[g.Value] = struct{}{}
		}
	}
	return sortedStrings(seen)
}

// Cycles returns the cycles that produced at least one group, ascending.
func (r *Report) Cycles() []int {
	cycles := make([]int, 0, len(r.boundaries))
	for c := range r.boundaries {
		cycles = append(cycles, c)
	}
	sort.Ints(cycles)
	return cycles
}

// CVUs returns the concurrent virtual users of a cycle.
func (r *Report) CVUs(cycle int) int { return r.cvus[cycle] }

// Boundary returns the wall clock span of a cycle.
func (r *Report) Boundary(cycle int) *metrics.CycleBoundary { return r.boundaries[cycle] }

// Groups returns every group key in sorted order.
func (r *Report) Groups() []GroupKey {
	keys := make([]GroupKey, 0, len(r.groups))
	for g := range r.groups {
		keys = append(keys, g)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Cycle < b.Cycle
	})
	return keys
}

// Result returns the statistics of one group.
func (r *Report) Result(g GroupKey) (metrics.Result, bool) {
	acc, ok := r.groups[g]
	if !ok {
		return metrics.Result{}, false
	}
	return acc.Result(), true
}

// StatCount is the number of distinct (key, value) pairs, the number of
// charts a report would render.
func (r *Report) StatCount() int {
	seen := make(map[[2]string]struct{})
	for g := range r.groups {
		seen[[2]string{g.Key, g.Value}] = struct{}{}
	}
	return len(seen)
}

// Hosts returns the monitored hosts in sorted order.
func (r *Report) Hosts() []string {
	seen := make(map[string]struct{})
	for h := range r.Monitors {
		seen[h] = struct{}{}
	}
	for h := range r.MonitorConfig {
		seen[h] = struct{}{}
	}
	return sortedStrings(seen)
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the serializable form of a report written as stats.json.
type Snapshot struct {
	Version    string              `json:"version,omitempty"`
	Start      string              `json:"start,omitempty"`
	Config     map[string]string   `json:"config"`
	Cycles     []CycleSnapshot     `json:"cycles"`
	Dimensions []DimensionSnapshot `json:"dimensions"`
}

// CycleSnapshot describes one cycle.
type CycleSnapshot struct {
	Cycle      int     `json:"cycle"`
	CVUs       int     `json:"cvus"`
	DurationMs float64 `json:"duration_ms"`
}

// DimensionSnapshot holds every value of one dimension key.
type DimensionSnapshot struct {
	Key    string          `json:"key"`
	Values []ValueSnapshot `json:"values"`
}

// ValueSnapshot holds the per-cycle statistics of one dimension value.
type ValueSnapshot struct {
	Value  string            `json:"value"`
	Cycles []CycleStatistics `json:"cycles"`
}

// CycleStatistics is the result of one group.
type CycleStatistics struct {
	Cycle int            `json:"cycle"`
	CVUs  int            `json:"cvus"`
	Stats metrics.Result `json:"stats"`
}

// Snapshot renders the report in deterministic order.
func (r *Report) Snapshot() Snapshot {
	s := Snapshot{
		Version: r.Version,
		Start:   r.Start,
		Config:  make(map[string]string, len(r.config)),
	}
	for _, f := range r.config {
		s.Config[f.Name] = f.Value
	}
	for _, c := range r.Cycles() {
		s.Cycles = append(s.Cycles, CycleSnapshot{
			Cycle:      c,
			CVUs:       r.cvus[c],
			DurationMs: float64(r.boundaries[c].Duration()) / float64(time.Millisecond),
		})
	}

	var dim *DimensionSnapshot
	var val *ValueSnapshot
	for _, g := range r.Groups() {
		if dim == nil || dim.Key != g.Key {
			s.Dimensions = append(s.Dimensions, DimensionSnapshot{Key: g.Key})
			dim = &s.Dimensions[len(s.Dimensions)-1]
			val = nil
		}
		if val == nil || val.Value != g.Value {
			dim.Values = append(dim.Values, ValueSnapshot{Value: g.Value})
			val = &dim.Values[len(dim.Values)-1]
		}
		val.Cycles = append(val.Cycles, CycleStatistics{
			Cycle: g.Cycle,
			CVUs:  r.cvus[g.Cycle],
			Stats: r.groups[g].Result(),
		})
	}
	return s
}
