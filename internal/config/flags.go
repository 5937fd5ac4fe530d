package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// RegisterBenchFlags registers the bench flags on fs.
func RegisterBenchFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Target
	flags.StringP("url", "u", "", "Base URL of the tested service, exposed to scenarios as {{url}}")
	flags.String("label", "", "Label of the run, added to the report name")
	flags.String("user-agent", "crankbench", "User-Agent header of the virtual users")

	// Cycles
	flags.StringP("cycles", "c", "1", "Concurrent users of each cycle, colon separated (e.g. 10:20:40)")
	flags.DurationP("duration", "D", 10*time.Second, "Duration of each cycle")
	flags.Duration("startup-delay", 10*time.Millisecond, "Delay between two worker starts")
	flags.Duration("sleep-time", 10*time.Millisecond, "Pause between two tests of a worker")
	flags.Duration("cycle-time", time.Second, "Pause between two cycles")
	flags.Duration("sleep-time-min", 0, "Minimum think time between requests")
	flags.Duration("sleep-time-max", 0, "Maximum think time between requests")

	// Session
	flags.IntSlice("ok-codes", nil, "Accepted HTTP status codes (default 200,301,302,303,307)")
	flags.Bool("simple-fetch", false, "Do not load links embedded in HTML pages")
	flags.Bool("accept-invalid-links", false, "Log failing embedded links instead of failing the step")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.String("loop-steps", "", "Steps replayed in loop mode, \"start\" or \"start:end\"")
	flags.Int("loop-number", 1, "Number of loop mode replays")
	flags.Bool("stop-on-fail", false, "Stop scheduling tests after the first failure")
	flags.Bool("pause", false, "Wait for ENTER between requests (debug)")

	// Outputs
	flags.String("log-to", "console file", "Log destinations: console, file")
	flags.String("log-path", "crankbench.log", "Path of the log file")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log encoding: console or json")
	flags.String("result-path", "crankbench.xml", "Path of the telemetry result file")

	// Monitoring
	flags.Bool("monitor", false, "Sample local host resources into the result file")
	flags.Duration("monitor-interval", 500*time.Millisecond, "Monitor sampling interval")
	flags.String("monitor-interface", "", "Network interface sampled by the Network plugin")
	flags.StringSlice("monitor-plugins", nil, "Monitor plugins to run (default all)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint")
	flags.String("tracing-protocol", "", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of recorded operations traced")
	flags.Bool("tracing-propagate", false, "Inject W3C trace context into requests")
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v string
		v, err = fs.GetString(name)
		*dst = strings.TrimSpace(v)
	}
	dur := func(name string, dst *time.Duration) {
		if err != nil || !fs.Changed(name) {
			return
		}
		*dst, err = fs.GetDuration(name)
	}
	boolean := func(name string, dst *bool) {
		if err != nil || !fs.Changed(name) {
			return
		}
		*dst, err = fs.GetBool(name)
	}

	str("url", &cfg.Main.URL)
	str("label", &cfg.Main.Label)
	str("user-agent", &cfg.Main.UserAgent)
	if err == nil && fs.Changed("cycles") {
		var raw string
		if raw, err = fs.GetString("cycles"); err == nil {
			cfg.Bench.Cycles, err = parseIntList(raw)
		}
	}
	dur("duration", &cfg.Bench.Duration)
	dur("startup-delay", &cfg.Bench.StartupDelay)
	dur("sleep-time", &cfg.Bench.SleepTime)
	dur("cycle-time", &cfg.Bench.CycleTime)
	dur("sleep-time-min", &cfg.Bench.SleepTimeMin)
	dur("sleep-time-max", &cfg.Bench.SleepTimeMax)
	if err == nil && fs.Changed("ok-codes") {
		cfg.Bench.OKCodes, err = fs.GetIntSlice("ok-codes")
	}
	boolean("simple-fetch", &cfg.Bench.SimpleFetch)
	boolean("accept-invalid-links", &cfg.Bench.AcceptInvalidLinks)
	dur("timeout", &cfg.Bench.Timeout)
	str("loop-steps", &cfg.Bench.LoopSteps)
	if err == nil && fs.Changed("loop-number") {
		cfg.Bench.LoopNumber, err = fs.GetInt("loop-number")
	}
	boolean("stop-on-fail", &cfg.Bench.StopOnFail)
	boolean("pause", &cfg.Bench.Pause)

	str("log-to", &cfg.Bench.LogTo)
	str("log-path", &cfg.Bench.LogPath)
	str("log-level", &cfg.Logging.Level)
	str("log-format", &cfg.Logging.Format)
	str("result-path", &cfg.Bench.ResultPath)

	boolean("monitor", &cfg.Monitor.Enabled)
	dur("monitor-interval", &cfg.Monitor.Interval)
	str("monitor-interface", &cfg.Monitor.Interface)
	if err == nil && fs.Changed("monitor-plugins") {
		cfg.Monitor.Plugins, err = fs.GetStringSlice("monitor-plugins")
	}

	str("tracing-endpoint", &cfg.Tracing.Endpoint)
	str("tracing-protocol", &cfg.Tracing.Protocol)
	boolean("tracing-insecure", &cfg.Tracing.Insecure)
	if err == nil && fs.Changed("tracing-sample-rate") {
		cfg.Tracing.SampleRate, err = fs.GetFloat64("tracing-sample-rate")
	}
	if err == nil && fs.Changed("tracing-propagate") {
		var v bool
		if v, err = fs.GetBool("tracing-propagate"); err == nil {
			cfg.Tracing.Propagate = &v
		}
	}
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}
