package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ParseLoopSteps parses a loop window. "2:4" selects steps 2 and 3, "3"
// selects step 3 only.
func ParseLoopSteps(window string) (first, last int, err error) {
	window = strings.TrimSpace(window)
	start, end, ranged := strings.Cut(window, ":")
	first, err = strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid loop steps %q: %w", window, err)
	}
	if !ranged {
		return first, first, nil
	}
	stop, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid loop steps %q: %w", window, err)
	}
	if stop <= first {
		return 0, 0, fmt.Errorf("invalid loop steps %q: empty window", window)
	}
	return first, stop - 1, nil
}

// LoopStats summarizes the last loop replay.
type LoopStats struct {
	Pages   int
	Elapsed time.Duration
}

// PagesPerSecond is the replay throughput without concurrency.
func (l LoopStats) PagesPerSecond() float64 {
	if l.Elapsed <= 0 {
		return 0
	}
	return float64(l.Pages) / l.Elapsed.Seconds()
}

type loopState struct {
	first, last int
	number      int
	recording   bool
	replaying   bool
	calls       []call
	stats       LoopStats
}

func (l *loopState) observe(step int, c call, log *zap.Logger) {
	if l.replaying {
		return
	}
	if step == l.first && !l.recording {
		l.recording = true
		l.calls = nil
		log.Info("loop mode start recording", zap.Int("step", step))
	}
	if l.recording {
		c.sleep = false
		l.calls = append(l.calls, c)
	}
}

func (l *loopState) endsAt(step int) bool {
	return l.recording && !l.replaying && step == l.last
}

// replayLoop replays the recorded window loop.number times, each replayed
// call being a new step.
func (s *Session) replayLoop(ctx context.Context) error {
	l := s.loop
	l.recording = false
	l.replaying = true
	defer func() { l.replaying = false }()
	s.log.Info("loop mode end recording", zap.Int("calls", len(l.calls)), zap.Int("replays", l.number))

	start := time.Now()
	count := 0
	for i := 0; i < l.number; i++ {
		for _, c := range l.calls {
			count++
			s.steps++
			s.pageResponses = 0
			if _, err := s.browse(ctx, c); err != nil {
				return err
			}
		}
	}
	l.stats = LoopStats{Pages: count, Elapsed: time.Since(start)}
	s.log.Info("end of loop",
		zap.Int("pages", l.stats.Pages),
		zap.Duration("elapsed", l.stats.Elapsed),
		zap.Float64("pages_per_second", l.stats.PagesPerSecond()),
	)
	return nil
}

// LastLoop returns the statistics of the last loop replay.
func (s *Session) LastLoop() LoopStats {
	if s.loop == nil {
		return LoopStats{}
	}
	return s.loop.stats
}

// think waits a uniform random time in [SleepMin, SleepMax], or for the
// user in pause mode.
func (s *Session) think(ctx context.Context) error {
	if s.pause != nil {
		return s.pause.wait()
	}
	d := s.cfg.SleepMin
	if spread := s.cfg.SleepMax - s.cfg.SleepMin; spread > 0 {
		d += time.Duration(float64(spread) * s.rand())
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
