package telemetry

import "sync/atomic"

// Readiness is the process-wide barrier telling workers whether every worker
// of the current cycle has started. Records produced before that point carry
// the startup flag.
type Readiness struct {
	started atomic.Int64
	total   int64
}

// NewReadiness returns a barrier expecting total workers.
func NewReadiness(total int) *Readiness {
	return &Readiness{total: int64(total)}
}

// Started marks one more worker as running.
func (r *Readiness) Started() {
	if r != nil {
		r.started.Add(1)
	}
}

// Ready reports whether all expected workers have started. A nil barrier is
// always ready.
func (r *Readiness) Ready() bool {
	if r == nil {
		return true
	}
	return r.started.Load() >= r.total
}
