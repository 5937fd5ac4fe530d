package telemetry

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Element names of the telemetry log.
const (
	ElemRoot          = "crankbench"
	ElemConfig        = "config"
	ElemRecord        = "record"
	ElemAggregate     = "aggregate"
	ElemMonitor       = "monitor"
	ElemMonitorConfig = "monitorconfig"

	// Shapes written before records carried aggregates.
	ElemLegacyRoot     = "funkload"
	ElemLegacyTest     = "testResult"
	ElemLegacyResponse = "response"
)

// Sink receives finalized telemetry. Implementations must be safe for
// concurrent use by many workers.
type Sink interface {
	WriteRecord(rec Record) error
	WriteMonitor(sample Sample) error
	WriteMonitorConfig(host, key, value string) error
}

// Sample is one monitor snapshot of a host.
type Sample struct {
	Host   string
	Time   time.Time
	Fields []Field
}

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("telemetry log is closed")

// Writer serializes telemetry as an append-only XML element stream.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	lock   *flock.Flock
	closer io.Closer
	open   bool
	closed bool
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(w)}
}

// OpenFile opens (or creates) the result file at path for appending. Each
// element is written under an advisory file lock so that several bench
// processes can share one result file without interleaving elements.
func OpenFile(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	w.lock = flock.New(path + ".lock")
	return w, nil
}

// Start writes the top-level element carrying the tool version and start time.
func (w *Writer) Start(version string, start time.Time) error {
	return w.emit(func(b *bufio.Writer) {
		fmt.Fprintf(b, "<%s version=%s time=%s>\n", ElemRoot, attr(version), attr(start.UTC().Format(time.RFC3339Nano)))
	}, func() { w.open = true })
}

// Config writes a run configuration entry.
func (w *Writer) Config(key, value string) error {
	return w.emit(func(b *bufio.Writer) {
		fmt.Fprintf(b, "<%s key=%s value=%s/>\n", ElemConfig, attr(key), attr(value))
	}, nil)
}

// WriteRecord appends one record element.
func (w *Writer) WriteRecord(rec Record) error {
	return w.emit(func(b *bufio.Writer) { writeRecord(b, rec) }, nil)
}

// WriteMonitor appends a monitor sample element.
func (w *Writer) WriteMonitor(sample Sample) error {
	return w.emit(func(b *bufio.Writer) {
		fmt.Fprintf(b, "<%s host=%s time=%s", ElemMonitor, attr(sample.Host), attr(FormatTime(sample.Time)))
		for _, f := range sample.Fields {
			fmt.Fprintf(b, " %s=%s", f.Name, attr(f.Value))
		}
		b.WriteString("/>\n")
	}, nil)
}

// WriteMonitorConfig appends a per-host monitor configuration entry.
func (w *Writer) WriteMonitorConfig(host, key, value string) error {
	return w.emit(func(b *bufio.Writer) {
		fmt.Fprintf(b, "<%s host=%s key=%s value=%s/>\n", ElemMonitorConfig, attr(host), attr(key), attr(value))
	}, nil)
}

// Close writes the closing top-level element and releases the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.open {
		if w.lock != nil {
			if err = w.lock.Lock(); err == nil {
				defer w.lock.Unlock()
			}
		}
		fmt.Fprintf(w.out, "</%s>\n", ElemRoot)
		if ferr := w.out.Flush(); err == nil {
			err = ferr
		}
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) emit(write func(*bufio.Writer), after func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.lock != nil {
		if err := w.lock.Lock(); err != nil {
			return fmt.Errorf("lock result log: %w", err)
		}
		defer w.lock.Unlock()
	}
	write(w.out)
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("write result log: %w", err)
	}
	if after != nil {
		after()
	}
	return nil
}

func writeRecord(b *bufio.Writer, rec Record) {
	id := rec.Identity
	fmt.Fprintf(b, "<%s cycle=%s cvus=%s thread_id=%s suite_name=%s test_name=%s time=%s duration=%s",
		ElemRecord,
		attr(fmt.Sprintf("%03d", id.Cycle)),
		attr(fmt.Sprintf("%03d", id.CVUs)),
		attr(fmt.Sprintf("%03d", id.ThreadID)),
		attr(rec.SuiteName),
		attr(id.TestName),
		attr(FormatTime(rec.Start)),
		attr(FormatDuration(rec.Duration)),
	)
	if rec.Startup {
		b.WriteString(` startup="True"`)
	}
	b.WriteString(">\n")
	for _, agg := range rec.Aggregates {
		fmt.Fprintf(b, "  <%s name=%s>", ElemAggregate, attr(agg.Key))
		text(b, agg.Value)
		fmt.Fprintf(b, "</%s>\n", ElemAggregate)
	}
	child(b, "result", string(rec.Outcome))
	if rec.Failure.ResponseCode != "" {
		child(b, "response_code", rec.Failure.ResponseCode)
	}
	if rec.Failure.Headers != "" {
		child(b, "headers", rec.Failure.Headers)
	}
	if rec.Failure.Body != "" {
		child(b, "body", rec.Failure.Body)
	}
	if rec.Failure.Traceback != "" {
		child(b, "traceback", rec.Failure.Traceback)
	}
	for _, f := range rec.Metadata {
		child(b, f.Name, f.Value)
	}
	fmt.Fprintf(b, "</%s>\n", ElemRecord)
}

func child(b *bufio.Writer, name, value string) {
	fmt.Fprintf(b, "  <%s>", name)
	text(b, value)
	fmt.Fprintf(b, "</%s>\n", name)
}

func text(b *bufio.Writer, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

func attr(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	_ = xml.EscapeText(&sb, []byte(s))
	sb.WriteByte('"')
	return sb.String()
}

// FormatTime renders a wall clock instant as fractional unix seconds.
func FormatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}

// FormatDuration renders a duration as fractional seconds.
func FormatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), nil
}
