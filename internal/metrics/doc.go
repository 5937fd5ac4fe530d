// Package metrics computes the statistics of aggregated telemetry groups.
//
// Each (dimension key, dimension value, cycle) group owns an [Accumulator]
// which folds record durations and outcomes into counts, an HDR histogram of
// durations, Apdex buckets and distinct error summaries:
//
//	boundary := &metrics.CycleBoundary{}
//	acc := metrics.NewAccumulator(boundary, metrics.Options{Apdex: 1500 * time.Millisecond})
//	boundary.Observe(start, d)
//	acc.Add(metrics.Sample{Duration: d, Outcome: telemetry.Successful})
//	res := acc.Result()
//
// # Throughput
//
// All groups of a cycle share one [CycleBoundary]. Requests per second divide
// the group count by the wall clock span of the whole cycle, so groups of the
// same cycle are comparable.
//
// # Apdex
//
// A successful sample is satisfied when its duration is at most T, tolerating
// when below 4T and frustrated otherwise. Failures and errors are frustrated.
// The score is (satisfied + tolerating/2) / count.
//
// Accumulators are fed by a single aggregation pass and are not safe for
// concurrent use.
package metrics
