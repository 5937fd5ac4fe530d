package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/torosent/crankbench/internal/telemetry"
)

// Result represents the statistics of one group.
type Result struct {
	Count         int64         `json:"count"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Errors        int64         `json:"errors"`
	Min           time.Duration `json:"-"`
	Max           time.Duration `json:"-"`
	Mean          time.Duration `json:"-"`
	Percentiles   []Percentile  `json:"-"`
	CycleDuration time.Duration `json:"-"`
	ApdexT        time.Duration `json:"-"`
	RPS           float64       `json:"rps"`
	ErrorRate     float64       `json:"error_rate"`
	Apdex         float64       `json:"apdex"`
	ApdexRating   string        `json:"apdex_rating"`
	Satisfied     int64         `json:"satisfied"`
	Tolerating    int64         `json:"tolerating"`
	Frustrated    int64         `json:"frustrated"`

	// JSON-friendly millisecond fields.
	MinMs           float64            `json:"min_ms"`
	MaxMs           float64            `json:"max_ms"`
	MeanMs          float64            `json:"mean_ms"`
	PercentilesMs   map[string]float64 `json:"percentiles_ms,omitempty"`
	CycleDurationMs float64            `json:"cycle_duration_ms"`

	Summaries []ErrorSummary `json:"error_summaries,omitempty"`
}

// Percentile is one reported quantile of the duration distribution.
type Percentile struct {
	Quantile float64
	Value    time.Duration
}

// Label renders the quantile as "p95".
func (p Percentile) Label() string {
	return "p" + strconv.FormatFloat(p.Quantile, 'f', -1, 64)
}

// Percentile returns the value reported for quantile q, if any.
func (r Result) Percentile(q float64) (time.Duration, bool) {
	for _, p := range r.Percentiles {
		if p.Quantile == q {
			return p.Value, true
		}
	}
	return 0, false
}

// ErrorSummary describes one distinct failure cause seen in a group together
// with a representative payload.
type ErrorSummary struct {
	Outcome      telemetry.Outcome `json:"outcome"`
	ResponseCode string            `json:"response_code,omitempty"`
	Cause        string            `json:"cause,omitempty"`
	Headers      string            `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	Traceback    string            `json:"traceback,omitempty"`
	Count        int64             `json:"count"`
}

// Title is a one line label of the summary.
func (s ErrorSummary) Title() string {
	switch {
	case s.ResponseCode != "" && s.Cause != "":
		return fmt.Sprintf("%s %s: %s", s.Outcome, s.ResponseCode, s.Cause)
	case s.ResponseCode != "":
		return fmt.Sprintf("%s %s", s.Outcome, s.ResponseCode)
	case s.Cause != "":
		return fmt.Sprintf("%s: %s", s.Outcome, s.Cause)
	}
	return string(s.Outcome)
}

// ApdexRating maps an Apdex score to its rating label.
func ApdexRating(score float64) string {
	switch {
	case score >= 0.94:
		return "Excellent"
	case score >= 0.85:
		return "Good"
	case score >= 0.7:
		return "Fair"
	case score >= 0.5:
		return "Poor"
	}
	return "Unacceptable"
}

func (r Result) fill() Result {
	r.MinMs = ms(r.Min)
	r.MaxMs = ms(r.Max)
	r.MeanMs = ms(r.Mean)
	r.CycleDurationMs = ms(r.CycleDuration)
	if len(r.Percentiles) > 0 {
		r.PercentilesMs = make(map[string]float64, len(r.Percentiles))
		for _, p := range r.Percentiles {
			r.PercentilesMs[p.Label()] = ms(p.Value)
		}
	}
	if r.Count > 0 {
		r.ApdexRating = ApdexRating(r.Apdex)
	}
	return r
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// CycleBoundary tracks the wall clock span of one cycle: the earliest record
// start and the latest record end. Both ends only ever widen.
type CycleBoundary struct {
	first time.Time
	last  time.Time
}

// Observe widens the boundary to cover a record.
func (b *CycleBoundary) Observe(start time.Time, d time.Duration) {
	end := start.Add(d)
	if b.first.IsZero() || start.Before(b.first) {
		b.first = start
	}
	if b.last.IsZero() || end.After(b.last) {
		b.last = end
	}
}

// Start returns the earliest observed start.
func (b *CycleBoundary) Start() time.Time { return b.first }

// End returns the latest observed end.
func (b *CycleBoundary) End() time.Time { return b.last }

// Duration returns the wall clock span of the cycle.
func (b *CycleBoundary) Duration() time.Duration {
	if b.first.IsZero() {
		return 0
	}
	return b.last.Sub(b.first)
}
