// Package scenario defines what a virtual user runs: Go scenarios registered
// by name and YAML scenario files driving a session step by step.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/torosent/crankbench/internal/recorder"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/telemetry"
	"github.com/torosent/crankbench/internal/variables"
)

// Scenario is one test run repeatedly by every virtual user of a bench.
type Scenario interface {
	Name() string
	Run(ctx context.Context, s *session.Session) error
}

// Fixture is implemented by scenarios with per-run set up and tear down.
// Both are measured inside the test record.
type Fixture interface {
	SetUp(ctx context.Context, s *session.Session) error
	TearDown(ctx context.Context, s *session.Session) error
}

// CycleHooks is implemented by scenarios preparing each cycle.
type CycleHooks interface {
	SetUpCycle(ctx context.Context, cycle int) error
	TearDownCycle(ctx context.Context, cycle int) error
}

// BenchHooks is implemented by scenarios preparing the whole bench.
type BenchHooks interface {
	SetUpBench(ctx context.Context) error
	TearDownBench(ctx context.Context) error
}

// Suite is implemented by scenarios naming the suite written on records.
type Suite interface {
	SuiteName() string
}

// SuiteName returns the suite of sc, its name when it declares none.
func SuiteName(sc Scenario) string {
	if named, ok := sc.(Suite); ok && named.SuiteName() != "" {
		return named.SuiteName()
	}
	return sc.Name()
}

// RunTest runs one iteration of sc inside a "Test" record: set up, run, tear
// down. Tear down runs whenever set up succeeded. The returned error is the
// first failure. A variable store is attached to ctx when it carries none.
func RunTest(ctx context.Context, rec *recorder.Recorder, sc Scenario, s *session.Session) error {
	if variables.FromContext(ctx) == nil {
		ctx = variables.NewContext(ctx, variables.NewStore())
	}
	aggregates := []telemetry.Aggregate{{Key: telemetry.KeyTest, Value: telemetry.TestValue(sc.Name())}}
	return rec.Record(ctx, aggregates, func(ctx context.Context, _ *recorder.Scope) error {
		fixture, hasFixture := sc.(Fixture)
		if hasFixture {
			if err := fixture.SetUp(ctx, s); err != nil {
				return &FixtureError{Phase: "set up", Err: err}
			}
		}
		err := sc.Run(ctx, s)
		if hasFixture {
			if terr := fixture.TearDown(ctx, s); terr != nil && err == nil {
				err = &FixtureError{Phase: "tear down", Err: terr}
			}
		}
		return err
	})
}

// FixtureError reports a failing set up or tear down. It is recorded as an
// Error even when Err is an assertion failure, so fixture problems stay
// apart from failures of the test itself. It does not unwrap.
type FixtureError struct {
	Phase string
	Err   error
}

func (e *FixtureError) Error() string { return e.Phase + ": " + e.Err.Error() }

// Func adapts a function to a Scenario.
type Func struct {
	ScenarioName string
	Fn           func(ctx context.Context, s *session.Session) error
}

func (f Func) Name() string { return f.ScenarioName }

func (f Func) Run(ctx context.Context, s *session.Session) error { return f.Fn(ctx, s) }

var (
	registryMu sync.RWMutex
	registry   = map[string]Scenario{}
)

// ErrUnknown is returned by Lookup for an unregistered name.
var ErrUnknown = errors.New("unknown scenario")

// Register makes sc available to the bench command under its name.
func Register(sc Scenario) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[sc.Name()]; dup {
		panic("scenario: Register called twice for " + sc.Name())
	}
	registry[sc.Name()] = sc
}

// Lookup returns the registered scenario called name.
func Lookup(name string) (Scenario, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	sc, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return sc, nil
}

// Names lists registered scenarios in order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
