// Package recorder wraps operations so that each one produces exactly one
// telemetry record, whatever way it exits.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/telemetry"
	"github.com/torosent/crankbench/internal/tracing"
)

// Assertion is implemented by errors reporting a failed expectation, such as
// an unexpected status code. They are recorded as Failure with their payload.
type Assertion interface {
	error
	Payload() telemetry.FailurePayload
}

// Recorder emits the records of one worker.
type Recorder struct {
	id        telemetry.Identity
	suite     string
	sink      telemetry.Sink
	readiness *telemetry.Readiness
	tracer    trace.Tracer
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSuite sets the suite name written on every record.
func WithSuite(name string) Option {
	return func(r *Recorder) { r.suite = name }
}

// WithReadiness sets the barrier used to flag startup records.
func WithReadiness(b *telemetry.Readiness) Option {
	return func(r *Recorder) { r.readiness = b }
}

// WithTracer opens one span per recorded operation.
func WithTracer(t trace.Tracer) Option {
	return func(r *Recorder) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the logger used for sink write failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New returns a Recorder writing records for id to sink.
func New(sink telemetry.Sink, id telemetry.Identity, opts ...Option) *Recorder {
	r := &Recorder{
		id:     id,
		sink:   sink,
		tracer: noop.NewTracerProvider().Tracer("crankbench"),
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identity returns the worker identity attached to every record.
func (r *Recorder) Identity() telemetry.Identity { return r.id }

// Scope is the open record of an operation in progress.
type Scope struct {
	rec      telemetry.Record
	explicit bool
}

// AddAggregate declares one more dimension pair for the record.
func (s *Scope) AddAggregate(key, value string) {
	s.rec.Aggregates = append(s.rec.Aggregates, telemetry.Aggregate{Key: key, Value: value})
}

// AddMetadata attaches an extra named value to the record.
func (s *Scope) AddMetadata(name, value string) {
	s.rec.Metadata = append(s.rec.Metadata, telemetry.Field{Name: name, Value: value})
}

// SetOutcome overrides the outcome of an operation that returns no error.
func (s *Scope) SetOutcome(o telemetry.Outcome) {
	s.rec.Outcome = o
	s.explicit = true
}

// SetFailure attaches failure detail, used with an explicit outcome.
func (s *Scope) SetFailure(p telemetry.FailurePayload) {
	s.rec.Failure = p
}

// Record runs fn inside a recorded scope. The record is written when fn
// returns or panics; errors are returned unchanged and panics are re-raised
// after being recorded.
func (r *Recorder) Record(ctx context.Context, aggregates []telemetry.Aggregate, fn func(ctx context.Context, s *Scope) error) (err error) {
	s := &Scope{rec: telemetry.Record{
		Identity:   r.id,
		SuiteName:  r.suite,
		Start:      r.now(),
		Startup:    r.id.Bench && !r.readiness.Ready(),
		Outcome:    telemetry.Successful,
		Aggregates: append([]telemetry.Aggregate(nil), aggregates...),
	}}

	name := r.id.TestName
	if len(aggregates) > 0 {
		name = aggregates[0].Value
	}
	ctx, span := tracing.StartRecordSpan(ctx, r.tracer, name, r.id)

	defer func() {
		if p := recover(); p != nil {
			s.rec.Outcome = telemetry.Error
			s.rec.Failure = telemetry.FailurePayload{
				Traceback: fmt.Sprintf("panic: %v\n%s", p, debug.Stack()),
			}
			r.finish(span, s, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		r.finish(span, s, err)
	}()

	err = fn(ctx, s)
	switch {
	case err == nil:
		if !s.explicit {
			s.rec.Outcome = telemetry.Successful
		}
	case isAssertion(err):
		var a Assertion
		errors.As(err, &a)
		s.rec.Outcome = telemetry.Failure
		s.rec.Failure = a.Payload()
		if s.rec.Failure.Traceback == "" {
			s.rec.Failure.Traceback = err.Error()
		}
	default:
		s.rec.Outcome = telemetry.Error
		s.rec.Failure = payloadOf(err)
		s.rec.Failure.Traceback = Traceback(err)
	}
	return err
}

func isAssertion(err error) bool {
	var a Assertion
	return errors.As(err, &a)
}

// payloadOf returns the payload carried by err, if any.
func payloadOf(err error) telemetry.FailurePayload {
	var carrier interface {
		Payload() telemetry.FailurePayload
	}
	if errors.As(err, &carrier) {
		return carrier.Payload()
	}
	return telemetry.FailurePayload{}
}

// Traceback renders an unexpected error: a friendly type label and the
// message on the first line, the stack of the recording goroutine after it.
func Traceback(err error) string {
	return fmt.Sprintf("%s: %v\n%s", label(err), err, debug.Stack())
}

// label names the first error in the chain that is not an fmt wrapper.
func label(err error) string {
	for {
		name := fmt.Sprintf("%T", err)
		next := errors.Unwrap(err)
		if next == nil || !strings.HasPrefix(name, "*fmt.") {
			return metrics.FriendlyErrorName(name)
		}
		err = next
	}
}

func (r *Recorder) finish(span trace.Span, s *Scope, err error) {
	s.rec.Duration = r.now().Sub(s.rec.Start)
	tracing.EndRecordSpan(span, s.rec.Outcome, err,
		attribute.Int("crankbench.aggregates", len(s.rec.Aggregates)),
		attribute.Bool("crankbench.startup", s.rec.Startup),
	)
	if r.sink == nil {
		return
	}
	if werr := r.sink.WriteRecord(s.rec); werr != nil {
		r.log.Error("failed to write record", zap.String("worker", r.id.String()), zap.Error(werr))
	}
}
