package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is the concurrency identity of one worker. It is attached to every
// record the worker produces and never changes for the worker's lifetime.
type Identity struct {
	TestName string
	Cycle    int
	CVUs     int
	ThreadID int
	// Bench is false for identities decoded from a plain test name.
	Bench bool
}

// EncodeIdentity builds the run-method identifier handed to a bench worker.
func EncodeIdentity(testName string, cycle, cvus, threadID int) string {
	return fmt.Sprintf("%s:%03d:%03d:%03d", testName, cycle, cvus, threadID)
}

// IsBenchIdentifier reports whether name carries an encoded concurrency identity.
func IsBenchIdentifier(name string) bool {
	return strings.Count(name, ":") == 3
}

// DecodeIdentity parses an identifier produced by EncodeIdentity. A plain
// test name decodes to cycle 0, no virtual users and thread 1.
func DecodeIdentity(name string) (Identity, error) {
	if !IsBenchIdentifier(name) {
		return Identity{TestName: name, ThreadID: 1}, nil
	}
	parts := strings.Split(name, ":")
	nums := make([]int, 3)
	for i, raw := range parts[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Identity{}, fmt.Errorf("decode identity %q: %w", name, err)
		}
		nums[i] = n
	}
	return Identity{
		TestName: parts[0],
		Cycle:    nums[0],
		CVUs:     nums[1],
		ThreadID: nums[2],
		Bench:    true,
	}, nil
}

// String returns the encoded form of the identity.
func (id Identity) String() string {
	if !id.Bench {
		return id.TestName
	}
	return EncodeIdentity(id.TestName, id.Cycle, id.CVUs, id.ThreadID)
}
