package output

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/crankbench/internal/runner"
)

// ProgressReporter displays real-time progress updates of a bench.
type ProgressReporter struct {
	mu       sync.Mutex
	current  runner.CycleResult
	cycles   int
	started  time.Time
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval for a bench of the given number of cycles.
func NewProgressReporter(cycles int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		cycles:   cycles,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Update records the running totals of the current cycle. It is meant to be
// used as the runner progress callback.
func (p *ProgressReporter) Update(c runner.CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Cycle != p.current.Cycle || p.started.IsZero() {
		p.started = time.Now()
	}
	p.current = c
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprint(p.writer, p.Line(), "\n")
	}
}

// Line renders the current progress.
func (p *ProgressReporter) Line() string {
	p.mu.Lock()
	c, started := p.current, p.started
	p.mu.Unlock()

	tps := 0.0
	if elapsed := time.Since(started).Seconds(); !started.IsZero() && elapsed > 0 {
		tps = float64(c.Tests) / elapsed
	}
	return fmt.Sprintf("\rCycle %d/%d | CUs: %d | Tests: %d | Failures: %d | Errors: %d | TPS: %.1f",
		c.Cycle+1, p.cycles, c.CVUs, c.Tests, c.Failures, c.Errors, tps)
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.Line())
		case <-p.done:
			return
		}
	}
}
