package metrics

import (
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/crankbench/internal/telemetry"
)

// DefaultApdex is the Apdex threshold used when none is configured.
const DefaultApdex = 1500 * time.Millisecond

// DefaultPercentiles is the percentile set reported for every group.
var DefaultPercentiles = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 98, 99}

// Options tune how an Accumulator summarizes its samples.
type Options struct {
	// Apdex is the satisfied threshold T. Zero selects DefaultApdex.
	Apdex time.Duration
	// Percentiles to report, in percent. Nil selects DefaultPercentiles.
	Percentiles []float64
	// Duration is the configured cycle duration, used for throughput when
	// the cycle boundary carries no usable wall clock span.
	Duration time.Duration
}

func (o Options) withDefaults() Options {
	if o.Apdex <= 0 {
		o.Apdex = DefaultApdex
	}
	if o.Percentiles == nil {
		o.Percentiles = DefaultPercentiles
	}
	return o
}

// Sample is one routed record as seen by an accumulator.
type Sample struct {
	Duration time.Duration
	Outcome  telemetry.Outcome
	Failure  telemetry.FailurePayload
}

// Accumulator computes the statistics of one (dimension key, dimension value,
// cycle) group. It is fed sequentially by the aggregator and is not safe for
// concurrent use.
type Accumulator struct {
	opts     Options
	boundary *CycleBoundary
	hist     *hdrhistogram.Histogram

	count      int64
	successes  int64
	failures   int64
	errors     int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration

	satisfied  int64
	tolerating int64
	frustrated int64

	summaries []*ErrorSummary
	index     map[summaryKey]*ErrorSummary
}

type summaryKey struct {
	outcome telemetry.Outcome
	code    string
	cause   string
}

// NewAccumulator returns an empty accumulator sharing boundary with every
// other group of the same cycle.
func NewAccumulator(boundary *CycleBoundary, opts Options) *Accumulator {
	// Track durations from 1µs up to one hour with 3 significant figures.
	h := hdrhistogram.New(1, 3_600_000_000, 3)
	return &Accumulator{
		opts:     opts.withDefaults(),
		boundary: boundary,
		hist:     h,
		index:    make(map[summaryKey]*ErrorSummary),
	}
}

// Add folds one sample into the group.
func (a *Accumulator) Add(s Sample) {
	a.count++
	d := s.Duration
	if d < 0 {
		d = 0
	}

	us := d.Microseconds()
	if us < a.hist.LowestTrackableValue() {
		us = a.hist.LowestTrackableValue()
	}
	if us > a.hist.HighestTrackableValue() {
		us = a.hist.HighestTrackableValue()
	}
	_ = a.hist.RecordValue(us)

	a.sumLatency += d
	if a.count == 1 || d < a.minLatency {
		a.minLatency = d
	}
	if d > a.maxLatency {
		a.maxLatency = d
	}

	switch s.Outcome {
	case telemetry.Successful:
		a.successes++
		a.classify(d)
	case telemetry.Failure:
		a.failures++
		a.frustrated++
		a.summarize(s)
	default:
		a.errors++
		a.frustrated++
		a.summarize(s)
	}
}

// classify buckets a successful duration for Apdex.
func (a *Accumulator) classify(d time.Duration) {
	t := a.opts.Apdex
	switch {
	case d <= t:
		a.satisfied++
	case d <= 4*t:
		a.tolerating++
	default:
		a.frustrated++
	}
}

func (a *Accumulator) summarize(s Sample) {
	key := summaryKey{outcome: s.Outcome, code: s.Failure.ResponseCode, cause: firstLine(s.Failure.Traceback)}
	if sum, ok := a.index[key]; ok {
		sum.Count++
		return
	}
	sum := &ErrorSummary{
		Outcome:      s.Outcome,
		ResponseCode: s.Failure.ResponseCode,
		Cause:        key.cause,
		Headers:      s.Failure.Headers,
		Body:         s.Failure.Body,
		Traceback:    s.Failure.Traceback,
		Count:        1,
	}
	a.index[key] = sum
	a.summaries = append(a.summaries, sum)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// Count returns the number of samples folded so far.
func (a *Accumulator) Count() int64 { return a.count }

// Result computes the statistics of the group.
func (a *Accumulator) Result() Result {
	r := Result{
		Count:     a.count,
		Successes: a.successes,
		Failures:  a.failures,
		Errors:    a.errors,
		Min:       a.minLatency,
		Max:       a.maxLatency,

		Satisfied:  a.satisfied,
		Tolerating: a.tolerating,
		Frustrated: a.frustrated,
		ApdexT:     a.opts.Apdex,
	}
	if a.count == 0 {
		return r.fill()
	}

	r.Mean = time.Duration(int64(a.sumLatency) / a.count)
	r.Percentiles = make([]Percentile, 0, len(a.opts.Percentiles))
	for _, q := range a.opts.Percentiles {
		v := time.Duration(a.hist.ValueAtQuantile(q)) * time.Microsecond
		r.Percentiles = append(r.Percentiles, Percentile{Quantile: q, Value: v})
	}

	r.CycleDuration = a.opts.Duration
	if a.boundary != nil {
		if d := a.boundary.Duration(); d > 0 {
			r.CycleDuration = d
		}
	}
	if r.CycleDuration > 0 {
		r.RPS = float64(a.count) / r.CycleDuration.Seconds()
	}

	r.ErrorRate = 100 * float64(a.failures+a.errors) / float64(a.count)
	r.Apdex = (float64(a.satisfied) + float64(a.tolerating)/2) / float64(a.count)

	r.Summaries = make([]ErrorSummary, len(a.summaries))
	for i, s := range a.summaries {
		r.Summaries[i] = *s
	}
	return r.fill()
}
