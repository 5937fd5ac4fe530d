package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultPercentiles are reported when none are configured.
var DefaultPercentiles = []float64{10, 50, 90, 95, 99}

// ReportConfig drives the report, diff and trend commands.
type ReportConfig struct {
	Apdex          time.Duration
	MeasureStartup bool
	RulesFile      string
	Percentiles    []float64
	// MaxStatCount refuses HTML and charts above that many groups; 0 is
	// unlimited.
	MaxStatCount int
	OutputDir    string
	HTML         bool
	Charts       bool
	Thresholds   []string
	// ThresholdKey is the dimension gated by Thresholds.
	ThresholdKey string
	LogLevel     string
}

// RegisterReportFlags registers the flags shared by report, diff and trend.
func RegisterReportFlags(flags *pflag.FlagSet) {
	flags.Duration("apdex", 1500*time.Millisecond, "Apdex threshold T")
	flags.Bool("measure-startup", false, "Include records made while workers were starting")
	flags.String("rules", "", "YAML file of [key, value regexp, replacement] normalization rules")
	flags.Float64Slice("percentiles", DefaultPercentiles, "Reported percentiles")
	flags.Int("max-stat-count", 0, "Refuse HTML and chart output above this many groups (0 = unlimited)")
	flags.StringP("output-dir", "o", ".", "Directory receiving report directories")
	flags.Bool("html", false, "Render an HTML report")
	flags.Bool("charts", false, "Render PNG charts")
	flags.StringSlice("threshold", nil, "Pass/fail gate, e.g. 'response_time:p95 < 500' (repeatable)")
	flags.String("threshold-key", "Page", "Dimension key the thresholds apply to")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
}

// LoadReport reads the report flags.
func LoadReport(fs *pflag.FlagSet) (*ReportConfig, error) {
	cfg := &ReportConfig{}
	var err error
	if cfg.Apdex, err = fs.GetDuration("apdex"); err != nil {
		return nil, err
	}
	if cfg.MeasureStartup, err = fs.GetBool("measure-startup"); err != nil {
		return nil, err
	}
	if cfg.RulesFile, err = fs.GetString("rules"); err != nil {
		return nil, err
	}
	if cfg.Percentiles, err = fs.GetFloat64Slice("percentiles"); err != nil {
		return nil, err
	}
	if cfg.MaxStatCount, err = fs.GetInt("max-stat-count"); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = fs.GetString("output-dir"); err != nil {
		return nil, err
	}
	if cfg.HTML, err = fs.GetBool("html"); err != nil {
		return nil, err
	}
	if cfg.Charts, err = fs.GetBool("charts"); err != nil {
		return nil, err
	}
	if cfg.Thresholds, err = fs.GetStringSlice("threshold"); err != nil {
		return nil, err
	}
	if cfg.ThresholdKey, err = fs.GetString("threshold-key"); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = fs.GetString("log-level"); err != nil {
		return nil, err
	}
	cfg.Percentiles = append([]float64(nil), cfg.Percentiles...)
	sort.Float64s(cfg.Percentiles)
	return cfg, cfg.Validate()
}

// Validate checks the report configuration.
func (c ReportConfig) Validate() error {
	var issues []string
	if c.Apdex <= 0 {
		issues = append(issues, "apdex must be > 0")
	}
	for _, p := range c.Percentiles {
		if p <= 0 || p > 100 {
			issues = append(issues, fmt.Sprintf("percentile %g must be in (0, 100]", p))
		}
	}
	if c.MaxStatCount < 0 {
		issues = append(issues, "max-stat-count must be >= 0")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, "output-dir is required")
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
