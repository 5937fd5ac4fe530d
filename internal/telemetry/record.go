package telemetry

import (
	"fmt"
	"time"
)

// Outcome classifies how a recorded operation ended.
type Outcome string

const (
	Successful Outcome = "Successful"
	Failure    Outcome = "Failure"
	Error      Outcome = "Error"
)

// Dimension keys emitted by the session engine and the runner.
const (
	KeyResponseByStep        = "Response by step"
	KeyResponseByDescription = "Response by description"
	KeyPage                  = "Page"
	KeyTest                  = "Test"
)

// NoCycle is the cycle assigned to records that do not carry one.
const NoCycle = -1

// Aggregate is one (dimension key, dimension value) pair declared by a record.
type Aggregate struct {
	Key   string
	Value string
}

// FailurePayload carries the detail of a non successful record.
type FailurePayload struct {
	ResponseCode string
	Headers      string
	Body         string
	Traceback    string
}

// Empty reports whether no failure detail was captured.
func (f FailurePayload) Empty() bool {
	return f.ResponseCode == "" && f.Headers == "" && f.Body == "" && f.Traceback == ""
}

// Record is one telemetry event. Records are written once and never mutated.
type Record struct {
	Identity   Identity
	SuiteName  string
	Start      time.Time
	Duration   time.Duration
	Outcome    Outcome
	Startup    bool
	Aggregates []Aggregate
	Failure    FailurePayload
	// Metadata holds extra named values written as child elements, in order.
	Metadata []Field
}

// Field is an ordered name/value pair.
type Field struct {
	Name  string
	Value string
}

// ResponseByStep formats the "Response by step" dimension value.
func ResponseByStep(step, number int, rtype, url string) string {
	return fmt.Sprintf("Request %d.%d: %s - %s", step, number, rtype, url)
}

// ResponseByDescription formats the "Response by description" and "Page"
// dimension values.
func ResponseByDescription(rtype, url, description string) string {
	return rtype + " " + url + ": " + description
}

// TestValue formats the "Test" dimension value.
func TestValue(name string) string {
	return "Test: " + name
}
