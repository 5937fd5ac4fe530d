package runner

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/crankbench/internal/scenario"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/telemetry"
)

// Options configure the Runner.
type Options struct {
	Scenario scenario.Scenario // test run by every virtual user (required)
	Sink     telemetry.Sink    // receives records and monitor samples (required)

	Cycles       []int         // concurrent users of each cycle
	Duration     time.Duration // measured time of a cycle, once all users started
	StartupDelay time.Duration // delay between two worker starts
	SleepTime    time.Duration // pause between two tests of a worker
	CycleTime    time.Duration // pause between two cycles
	StopOnFail   bool          // stop scheduling tests after the first failed one

	// Session is the template of every worker session. Logger and Metadata
	// are set by the runner.
	Session  session.Config
	Metadata session.MetadataWriter

	// Progress is called after every test with the running totals of the
	// cycle. It must be safe for concurrent use.
	Progress func(cycle CycleResult)

	Monitor *MonitorOptions
	Tracer  trace.Tracer
	Logger  *zap.Logger

	// LimiterFactory builds the worker start limiter; tests inject their own.
	LimiterFactory func(delay time.Duration) *rate.Limiter
}

// MonitorOptions enable host sampling for the whole bench.
type MonitorOptions struct {
	Host      string
	Interval  time.Duration
	Interface string
	Plugins   []string
}

func (o *Options) normalize() {
	if len(o.Cycles) == 0 {
		o.Cycles = []int{1}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(delay time.Duration) *rate.Limiter {
			if delay <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Every(delay), 1)
		}
	}
}
