package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "response_time", "error_rate"
	Aggregate string  // e.g., "p95", "avg", "rate", "score"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold on one group.
type Result struct {
	Threshold Threshold
	Group     aggregate.GroupKey
	CVUs      int
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against an aggregated report.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against every cycle of every value of the
// dimension key. A threshold with no matching group fails.
func (e *Evaluator) Evaluate(report *aggregate.Report, key string) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	var groups []aggregate.GroupKey
	for _, g := range report.Groups() {
		if g.Key == key {
			groups = append(groups, g)
		}
	}

	results := make([]Result, 0, len(e.thresholds)*max(len(groups), 1))
	for _, t := range e.thresholds {
		if len(groups) == 0 {
			results = append(results, Result{
				Threshold: t,
				Group:     aggregate.GroupKey{Key: key},
				Message:   fmt.Sprintf("✗ %s: no %q statistics in report", t.Raw, key),
			})
			continue
		}
		for _, g := range groups {
			stats, _ := report.Result(g)
			r := e.evaluateOne(t, stats)
			r.Group = g
			r.CVUs = report.CVUs(g.Cycle)
			results = append(results, r)
		}
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Result) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.3f %s %.3f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "response_time:p95 < 500"   (duration percentile in ms)
// - "response_time:avg < 200"   (mean duration in ms)
// - "response_time:max < 1000"  (max duration in ms)
// - "error_rate:rate < 1"       (failures and errors, percent of count)
// - "error_rate:count < 10"     (failures and errors)
// - "throughput:rate > 100"     (records per second over the cycle)
// - "apdex:score >= 0.85"       (Apdex index)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'response_time:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	supported, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: response_time, error_rate, throughput, apdex)", metric)
	}
	if !slices.Contains(supported, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(supported, ", "))
	}
	if !slices.Contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var (
	aggregates = map[string][]string{
		"response_time": {"p50", "p90", "p95", "p99", "avg", "min", "max"},
		"error_rate":    {"rate", "count"},
		"throughput":    {"rate", "count"},
		"apdex":         {"score"},
	}
	operators = []string{"<", "<=", ">", ">=", "=="}
)

func extractMetricValue(t Threshold, stats metrics.Result) (float64, error) {
	switch t.Metric {
	case "response_time":
		return extractDurationMetric(t.Aggregate, stats)
	case "error_rate":
		if t.Aggregate == "count" {
			return float64(stats.Failures + stats.Errors), nil
		}
		return stats.ErrorRate, nil
	case "throughput":
		if t.Aggregate == "count" {
			return float64(stats.Successes), nil
		}
		return stats.RPS, nil
	case "apdex":
		return stats.Apdex, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractDurationMetric(aggregate string, stats metrics.Result) (float64, error) {
	switch aggregate {
	case "avg":
		return millis(stats.Mean), nil
	case "min":
		return millis(stats.Min), nil
	case "max":
		return millis(stats.Max), nil
	}
	q, err := strconv.ParseFloat(strings.TrimPrefix(aggregate, "p"), 64)
	if err != nil {
		return 0, fmt.Errorf("unsupported aggregate %q for response_time", aggregate)
	}
	d, ok := stats.Percentile(q)
	if !ok {
		return 0, fmt.Errorf("percentile %s is not part of the report, add it to --percentiles", aggregate)
	}
	return millis(d), nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
