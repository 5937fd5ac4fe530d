package output

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/crankbench/internal/aggregate"
)

// Run configuration keys written by the bench command.
const (
	ConfigTestName  = "id"
	ConfigServerURL = "server_url"
	ConfigRunID     = "run_id"
)

// NewRunID returns a sortable unique run identifier.
func NewRunID(t time.Time) string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), rand.Reader).String())
}

// BenchDirName names the report directory of a bench: "<test>-<start>".
func BenchDirName(report *aggregate.Report) string {
	name := report.ConfigValue(ConfigTestName)
	if name == "" {
		name = "bench"
	}
	start, err := time.Parse(time.RFC3339Nano, report.Start)
	if err != nil {
		if id := report.ConfigValue(ConfigRunID); id != "" {
			return sanitize(name + "-" + id)
		}
		return sanitize(name)
	}
	return sanitize(name + "-" + start.UTC().Format("20060102T150405"))
}

// CreateReportDir creates name under parent. An existing directory gets a
// run id suffix so earlier reports are never overwritten.
func CreateReportDir(parent, name string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	dir := filepath.Join(parent, name)
	err := os.Mkdir(dir, 0o755)
	if errors.Is(err, fs.ErrExist) {
		dir = filepath.Join(parent, name+"-"+NewRunID(time.Now()))
		err = os.Mkdir(dir, 0o755)
	}
	if err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	return dir, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
