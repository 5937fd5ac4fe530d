// Package config loads bench and report configuration from a YAML or JSON
// file and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the configuration of one bench run.
type Config struct {
	Main    MainConfig    `mapstructure:"main"`
	Bench   BenchConfig   `mapstructure:"bench"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`

	// Scenario is a scenario file path or the name of a registered scenario.
	Scenario   string `mapstructure:"scenario"`
	ConfigFile string `mapstructure:"-"`
}

// MainConfig describes the target.
type MainConfig struct {
	URL         string `mapstructure:"url"`
	Label       string `mapstructure:"label"`
	UserAgent   string `mapstructure:"user_agent"`
	Description string `mapstructure:"description"`
}

// BenchConfig drives cycles and virtual users.
type BenchConfig struct {
	// Cycles lists the concurrent users of each cycle.
	Cycles       []int         `mapstructure:"cycles"`
	Duration     time.Duration `mapstructure:"duration"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	// SleepTime is the pause between two tests of a worker.
	SleepTime time.Duration `mapstructure:"sleep_time"`
	// CycleTime is the pause between two cycles.
	CycleTime          time.Duration `mapstructure:"cycle_time"`
	SleepTimeMin       time.Duration `mapstructure:"sleep_time_min"`
	SleepTimeMax       time.Duration `mapstructure:"sleep_time_max"`
	OKCodes            []int         `mapstructure:"ok_codes"`
	SimpleFetch        bool          `mapstructure:"simple_fetch"`
	AcceptInvalidLinks bool          `mapstructure:"accept_invalid_links"`
	Timeout            time.Duration `mapstructure:"timeout"`
	LogTo              string        `mapstructure:"log_to"`
	LogPath            string        `mapstructure:"log_path"`
	ResultPath         string        `mapstructure:"result_path"`
	LoopSteps          string        `mapstructure:"loop_steps"`
	LoopNumber         int           `mapstructure:"loop_number"`
	StopOnFail         bool          `mapstructure:"stop_on_fail"`
	Pause              bool          `mapstructure:"pause"`
}

// MonitorConfig enables sampling of the local host during the bench.
type MonitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Interface string        `mapstructure:"interface"`
	Host      string        `mapstructure:"host"`
	Plugins   []string      `mapstructure:"plugins"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	// Propagate injects trace context into requests; defaults to Enabled().
	Propagate *bool `mapstructure:"propagate"`
}

// Enabled reports whether any exporter setting is present.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || strings.TrimSpace(t.Protocol) != ""
}

// ShouldPropagate reports whether trace context goes on the wire.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// LoggingConfig mirrors logging.Config in the file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the configuration used before the file and flags apply.
func Default() Config {
	return Config{
		Main: MainConfig{UserAgent: "crankbench"},
		Bench: BenchConfig{
			Cycles:       []int{1},
			Duration:     10 * time.Second,
			StartupDelay: 10 * time.Millisecond,
			SleepTime:    10 * time.Millisecond,
			CycleTime:    time.Second,
			OKCodes:      []int{200, 301, 302, 303, 307},
			Timeout:      30 * time.Second,
			LogTo:        "console file",
			LogPath:      "crankbench.log",
			ResultPath:   "crankbench.xml",
			LoopNumber:   1,
		},
		Monitor: MonitorConfig{Interval: 500 * time.Millisecond},
		Tracing: TracingConfig{SampleRate: 1.0},
		Logging: LoggingConfig{Level: "info", Format: "console", MaxSizeMB: 100, MaxBackups: 3},
	}
}

// ValidationError aggregates every configuration issue found.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the bench configuration. Warnings about heavy loads are
// printed to stderr.
func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Scenario) == "" {
		issues = append(issues, "scenario is required (use --help for usage information)")
	}
	if u := strings.TrimSpace(c.Main.URL); u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			issues = append(issues, fmt.Sprintf("main.url %q must be an absolute URL", u))
		}
	}

	issues = append(issues, validateBench(c.Bench)...)
	issues = append(issues, validateMonitor(c.Monitor)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	for _, cvus := range c.Bench.Cycles {
		if cvus > 500 {
			fmt.Fprintf(os.Stderr, "WARNING: High concurrency configured (%d virtual users). Ensure you have authorization to test the target system.\n", cvus)
			break
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateBench(b BenchConfig) []string {
	var issues []string
	if len(b.Cycles) == 0 {
		issues = append(issues, "bench.cycles must list at least one cycle")
	}
	for i, cvus := range b.Cycles {
		if cvus < 1 {
			issues = append(issues, fmt.Sprintf("bench.cycles[%d]: must be >= 1", i))
		}
	}
	if b.Duration <= 0 {
		issues = append(issues, "bench.duration must be > 0")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"startup_delay", b.StartupDelay},
		{"sleep_time", b.SleepTime},
		{"cycle_time", b.CycleTime},
		{"sleep_time_min", b.SleepTimeMin},
		{"sleep_time_max", b.SleepTimeMax},
		{"timeout", b.Timeout},
	} {
		if d.value < 0 {
			issues = append(issues, fmt.Sprintf("bench.%s must be >= 0", d.name))
		}
	}
	if b.SleepTimeMax < b.SleepTimeMin {
		issues = append(issues, "bench.sleep_time_max must be >= sleep_time_min")
	}
	for i, code := range b.OKCodes {
		if code < 100 || code > 599 {
			issues = append(issues, fmt.Sprintf("bench.ok_codes[%d]: %d is not an HTTP status", i, code))
		}
	}
	if strings.TrimSpace(b.LoopSteps) != "" {
		if !validLoopSteps(b.LoopSteps) {
			issues = append(issues, fmt.Sprintf("bench.loop_steps: %q must be \"start\" or \"start:end\"", b.LoopSteps))
		}
		if b.LoopNumber < 1 {
			issues = append(issues, "bench.loop_number must be >= 1 with loop_steps")
		}
	}
	for _, dest := range strings.Fields(b.LogTo) {
		if dest != "console" && dest != "file" {
			issues = append(issues, fmt.Sprintf("bench.log_to: unknown destination %q", dest))
		}
	}
	if strings.TrimSpace(b.ResultPath) == "" {
		issues = append(issues, "bench.result_path is required")
	}
	return issues
}

func validLoopSteps(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 2 {
		return false
	}
	bounds := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return false
		}
		bounds[i] = n
	}
	return len(bounds) == 1 || bounds[1] > bounds[0]
}

func validateMonitor(m MonitorConfig) []string {
	if !m.Enabled {
		return nil
	}
	if m.Interval <= 0 {
		return []string{"monitor.interval must be > 0 when monitoring is enabled"}
	}
	return nil
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
