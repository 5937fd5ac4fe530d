// Package runner executes a bench: cycles of increasing concurrent virtual
// users, each running one scenario in a loop for a fixed duration.
//
// # Cycles
//
// Every cycle starts its workers one after another, startup_delay apart,
// through a rate limiter. Records written before the last worker of a cycle
// started carry the startup flag so reports can exclude them. Once all
// workers run, the cycle lasts Duration; workers then finish their current
// test and the next cycle starts after CycleTime.
//
//	r := runner.New(runner.Options{
//		Scenario: sc,
//		Sink:     writer,
//		Cycles:   []int{1, 10, 20},
//		Duration: time.Minute,
//	})
//	res, err := r.Run(ctx)
//
// # Hooks
//
// Scenarios implementing [scenario.BenchHooks] or [scenario.CycleHooks] are
// prepared around the whole bench and around each cycle.
//
// # Stop on fail
//
// With StopOnFail, the first failed or erroneous test stops the scheduling
// of new tests. Running tests complete and no further cycle starts.
package runner
