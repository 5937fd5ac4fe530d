package session

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/crankbench/internal/telemetry"
)

// AssertionFailure reports a failed expectation: a status code outside the
// accepted set, a service that never became available, or an explicit
// failure raised by a scenario. It is recorded as Failure.
type AssertionFailure struct {
	Message string
	Code    int
	Header  http.Header
	Body    []byte
}

func (e *AssertionFailure) Error() string {
	return e.Message
}

// Payload returns the failure detail written on the record.
func (e *AssertionFailure) Payload() telemetry.FailurePayload {
	p := telemetry.FailurePayload{
		Headers:   FormatHeader(e.Header),
		Body:      string(e.Body),
		Traceback: e.Message,
	}
	if e.Code > 0 {
		p.ResponseCode = strconv.Itoa(e.Code)
	}
	return p
}

// Fail returns an AssertionFailure with a formatted message.
func Fail(format string, args ...any) error {
	return &AssertionFailure{Message: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failure to obtain any response at all: dial, TLS,
// timeout or read errors. It is recorded as Error.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func statusFailure(method, url string, code int, header http.Header, body []byte) *AssertionFailure {
	return &AssertionFailure{
		Message: fmt.Sprintf("%s %s: unexpected status %d %s", method, url, code, http.StatusText(code)),
		Code:    code,
		Header:  header,
		Body:    body,
	}
}

// FormatHeader renders headers one "Key: value" line each, sorted by key.
func FormatHeader(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return b.String()
}
