package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/logging"
	"github.com/torosent/crankbench/internal/monitor"
	"github.com/torosent/crankbench/internal/recorder"
	"github.com/torosent/crankbench/internal/scenario"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/telemetry"
	"github.com/torosent/crankbench/internal/variables"
)

// Result captures execution summary.
type Result struct {
	Cycles   []CycleResult
	Tests    int64
	Failures int64
	Errors   int64
	Duration time.Duration
	// Stopped is set when stop_on_fail ended the bench early.
	Stopped bool
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Cycle    int
	CVUs     int
	Tests    int64
	Failures int64
	Errors   int64
	Duration time.Duration
}

// Runner executes a scenario in cycles of increasing concurrent users.
type Runner struct {
	opt Options
	log *zap.Logger
	cus atomic.Int64

	// stopped is closed when stop_on_fail triggers.
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, log: opt.Logger.Named("bench"), stopped: make(chan struct{})}
}

// CUs reports the concurrent users of the running cycle.
func (r *Runner) CUs() int { return int(r.cus.Load()) }

// Run executes every cycle. Bench hooks of the scenario run around the
// cycles, cycle hooks around each cycle.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.opt.Scenario == nil || r.opt.Sink == nil {
		return Result{}, errors.New("runner requires a scenario and a sink")
	}
	start := time.Now()
	var res Result

	if hooks, ok := r.opt.Scenario.(scenario.BenchHooks); ok {
		if err := hooks.SetUpBench(ctx); err != nil {
			return res, fmt.Errorf("set up bench: %w", err)
		}
		defer func() {
			if err := hooks.TearDownBench(context.WithoutCancel(ctx)); err != nil {
				r.log.Error("tear down bench failed", zap.Error(err))
			}
		}()
	}

	stopMonitor, err := r.startMonitor(ctx)
	if err != nil {
		return res, err
	}
	defer stopMonitor()

	for i, cvus := range r.opt.Cycles {
		if i > 0 && !r.pause(ctx, r.opt.CycleTime) {
			break
		}
		if r.isStopped() || ctx.Err() != nil {
			break
		}
		cr, err := r.runCycle(ctx, i, cvus)
		res.Cycles = append(res.Cycles, cr)
		res.Tests += cr.Tests
		res.Failures += cr.Failures
		res.Errors += cr.Errors
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
	}
	r.cus.Store(0)
	res.Stopped = r.isStopped()
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) runCycle(ctx context.Context, cycle, cvus int) (CycleResult, error) {
	cr := CycleResult{Cycle: cycle, CVUs: cvus}
	log := r.log.With(zap.Int("cycle", cycle), zap.Int("cvus", cvus))

	if hooks, ok := r.opt.Scenario.(scenario.CycleHooks); ok {
		if err := hooks.SetUpCycle(ctx, cycle); err != nil {
			return cr, fmt.Errorf("set up cycle %d: %w", cycle, err)
		}
		defer func() {
			if err := hooks.TearDownCycle(context.WithoutCancel(ctx), cycle); err != nil {
				log.Error("tear down cycle failed", zap.Error(err))
			}
		}()
	}

	r.cus.Store(int64(cvus))
	readiness := telemetry.NewReadiness(cvus)
	limiter := r.opt.LimiterFactory(r.opt.StartupDelay)
	// stop ends the scheduling of new tests; running tests complete.
	stop := make(chan struct{})
	var stopCycle sync.Once
	closeStop := func() { stopCycle.Do(func() { close(stop) }) }

	var mu sync.Mutex
	count := func(err error) {
		mu.Lock()
		cr.Tests++
		var failure *session.AssertionFailure
		switch {
		case err == nil:
		case errors.As(err, &failure):
			cr.Failures++
		default:
			cr.Errors++
		}
		snapshot := cr
		mu.Unlock()
		if r.opt.Progress != nil {
			r.opt.Progress(snapshot)
		}
	}

	start := time.Now()
	log.Info("starting cycle")
	var wg sync.WaitGroup
	started := 0
	for thread := 1; thread <= cvus; thread++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if r.isStopped() {
			break
		}
		w, err := r.newWorker(telemetry.Identity{
			TestName: r.opt.Scenario.Name(),
			Cycle:    cycle,
			CVUs:     cvus,
			ThreadID: thread,
			Bench:    true,
		}, readiness)
		if err != nil {
			closeStop()
			wg.Wait()
			return cr, err
		}
		readiness.Started()
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, stop, r.opt.SleepTime, func(err error) {
				count(err)
				if err != nil && r.opt.StopOnFail {
					r.stop(w.log, err)
				}
			})
		}()
	}

	if started == cvus {
		log.Debug("all workers started")
		timer := time.NewTimer(r.opt.Duration)
		select {
		case <-timer.C:
		case <-ctx.Done():
		case <-r.stopped:
		}
		timer.Stop()
	}
	closeStop()
	wg.Wait()
	cr.Duration = time.Since(start)
	log.Info("cycle done",
		zap.Int64("tests", cr.Tests),
		zap.Int64("failures", cr.Failures),
		zap.Int64("errors", cr.Errors),
		zap.Duration("elapsed", cr.Duration))
	return cr, nil
}

func (r *Runner) stop(log *zap.Logger, err error) {
	r.stopOnce.Do(func() {
		log.Warn("stop on fail: no further tests are scheduled", zap.Error(err))
		close(r.stopped)
	})
}

func (r *Runner) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

// pause sleeps d unless ctx ends or the bench stops first.
func (r *Runner) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopped:
		return false
	}
}

func (r *Runner) startMonitor(ctx context.Context) (func(), error) {
	mo := r.opt.Monitor
	if mo == nil {
		return func() {}, nil
	}
	plugins, err := monitor.Build(mo.Plugins, monitor.Options{Interface: mo.Interface, CUs: r.CUs})
	if err != nil {
		return nil, err
	}
	m := monitor.New(r.opt.Sink, mo.Host, mo.Interval, plugins, r.opt.Logger)
	if err := m.WriteConfig(); err != nil {
		return nil, err
	}
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Run(mctx); err != nil {
			r.log.Error("monitor stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// worker is one virtual user of a cycle.
type worker struct {
	sc    scenario.Scenario
	rec   *recorder.Recorder
	sess  *session.Session
	store variables.Store
	log   *zap.Logger
}

func (r *Runner) newWorker(id telemetry.Identity, readiness *telemetry.Readiness) (*worker, error) {
	log := logging.Worker(r.opt.Logger, id.String())
	opts := []recorder.Option{
		recorder.WithSuite(scenario.SuiteName(r.opt.Scenario)),
		recorder.WithReadiness(readiness),
		recorder.WithLogger(log),
	}
	if r.opt.Tracer != nil {
		opts = append(opts, recorder.WithTracer(r.opt.Tracer))
	}
	rec := recorder.New(r.opt.Sink, id, opts...)

	cfg := r.opt.Session
	cfg.Logger = log
	cfg.Metadata = r.opt.Metadata
	sess, err := session.New(rec, cfg)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", id, err)
	}
	return &worker{sc: r.opt.Scenario, rec: rec, sess: sess, store: variables.NewStore(), log: log}, nil
}

// loop runs tests until stop is closed or ctx ends. The running test is
// always completed.
func (w *worker) loop(ctx context.Context, stop <-chan struct{}, sleep time.Duration, done func(error)) {
	ctx = variables.NewContext(ctx, w.store)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.store.Clear()
		err := w.runTest(ctx)
		if err != nil {
			w.log.Debug("test failed", zap.Error(err))
		}
		done(err)
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}

// runTest turns a panicking scenario into an error so the worker continues.
func (w *worker) runTest(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return scenario.RunTest(ctx, w.rec, w.sc, w.sess)
}
