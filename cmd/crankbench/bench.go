package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/config"
	"github.com/torosent/crankbench/internal/logging"
	"github.com/torosent/crankbench/internal/output"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/scenario"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/telemetry"
	"github.com/torosent/crankbench/internal/tracing"
)

const progressInterval = time.Second

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [scenario]",
		Short: "Run a scenario with cycles of concurrent virtual users",
		Long: `Run a scenario file, or a registered scenario name, with cycles of
increasing concurrent users. Every recorded operation is appended to the
result log, which the report command turns into statistics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBench,
	}
	config.RegisterBenchFlags(cmd.Flags())
	cmd.Flags().Bool("progress", true, "Show a progress line on stderr")
	return cmd
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Scenario = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		LogTo:      cfg.Bench.LogTo,
		LogPath:    cfg.Bench.LogPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sc, closeScenario, err := loadScenario(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeScenario() }()

	start := time.Now()
	runID := output.NewRunID(start)
	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		ID:        runID,
		TestName:  sc.Name(),
		ServerURL: cfg.Main.URL,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	w, err := telemetry.OpenFile(cfg.Bench.ResultPath)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Start(version, start); err != nil {
		return err
	}
	if err := writeBenchConfig(w, cfg, sc, runID); err != nil {
		return err
	}

	opts := runner.Options{
		Scenario:     sc,
		Sink:         w,
		Cycles:       cfg.Bench.Cycles,
		Duration:     cfg.Bench.Duration,
		StartupDelay: cfg.Bench.StartupDelay,
		SleepTime:    cfg.Bench.SleepTime,
		CycleTime:    cfg.Bench.CycleTime,
		StopOnFail:   cfg.Bench.StopOnFail,
		Session:      sessionConfig(cfg, tp.ShouldPropagate()),
		Metadata:     w,
		Logger:       log,
	}
	if cfg.Tracing.Enabled() {
		opts.Tracer = tp.Tracer()
	}
	if cfg.Monitor.Enabled {
		host := cfg.Monitor.Host
		if host == "" {
			host, _ = os.Hostname()
		}
		opts.Monitor = &runner.MonitorOptions{
			Host:      host,
			Interval:  cfg.Monitor.Interval,
			Interface: cfg.Monitor.Interface,
			Plugins:   cfg.Monitor.Plugins,
		}
	}

	showProgress, _ := cmd.Flags().GetBool("progress")
	var progress *output.ProgressReporter
	if showProgress {
		progress = output.NewProgressReporter(len(cfg.Bench.Cycles), progressInterval, cmd.ErrOrStderr())
		opts.Progress = progress.Update
		progress.Start()
	}

	log.Info("bench started",
		zap.String("scenario", sc.Name()),
		zap.String("run_id", runID),
		zap.Ints("cycles", cfg.Bench.Cycles),
		zap.Duration("duration", cfg.Bench.Duration),
		zap.String("result", cfg.Bench.ResultPath))

	result, runErr := runner.New(opts).Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if runErr != nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bench %s: %d tests, %d failures, %d errors in %s\n",
		sc.Name(), result.Tests, result.Failures, result.Errors, result.Duration.Round(time.Millisecond))
	for _, c := range result.Cycles {
		fmt.Fprintf(out, "  cycle %d: %d CUs, %d tests, %d failures, %d errors\n",
			c.Cycle, c.CVUs, c.Tests, c.Failures, c.Errors)
	}
	if result.Stopped {
		fmt.Fprintln(out, "Bench stopped on the first failure")
	}
	fmt.Fprintf(out, "Result log: %s\n", cfg.Bench.ResultPath)
	return nil
}

// loadScenario opens a scenario file, falling back to the registry when the
// argument is not a file.
func loadScenario(cfg *config.Config, log *zap.Logger) (scenario.Scenario, func() error, error) {
	if info, err := os.Stat(cfg.Scenario); err == nil && !info.IsDir() {
		f, err := scenario.Load(cfg.Scenario, scenario.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		if cfg.Main.URL != "" {
			if f.Variables == nil {
				f.Variables = make(map[string]string)
			}
			if _, ok := f.Variables["url"]; !ok {
				f.Variables["url"] = cfg.Main.URL
			}
		}
		return f, f.Close, nil
	}
	sc, err := scenario.Lookup(cfg.Scenario)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (registered: %s)", err, strings.Join(scenario.Names(), ", "))
	}
	return sc, func() error { return nil }, nil
}

func sessionConfig(cfg *config.Config, propagate bool) session.Config {
	return session.Config{
		OKCodes:            cfg.Bench.OKCodes,
		SleepMin:           cfg.Bench.SleepTimeMin,
		SleepMax:           cfg.Bench.SleepTimeMax,
		SimpleFetch:        cfg.Bench.SimpleFetch,
		AcceptInvalidLinks: cfg.Bench.AcceptInvalidLinks,
		UserAgent:          cfg.Main.UserAgent,
		LoopSteps:          cfg.Bench.LoopSteps,
		LoopNumber:         cfg.Bench.LoopNumber,
		Pause:              cfg.Bench.Pause,
		PauseInput:         os.Stdin,
		PauseOutput:        os.Stderr,
		Timeout:            cfg.Bench.Timeout,
		Propagate:          propagate,
	}
}

// writeBenchConfig records the run configuration at the top of the log.
func writeBenchConfig(w *telemetry.Writer, cfg *config.Config, sc scenario.Scenario, runID string) error {
	cycles := make([]string, len(cfg.Bench.Cycles))
	for i, c := range cfg.Bench.Cycles {
		cycles[i] = strconv.Itoa(c)
	}
	seconds := func(d time.Duration) string {
		return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	}
	entries := []telemetry.Field{
		{Name: output.ConfigTestName, Value: sc.Name()},
		{Name: "suite_name", Value: scenario.SuiteName(sc)},
		{Name: output.ConfigRunID, Value: runID},
		{Name: output.ConfigServerURL, Value: cfg.Main.URL},
		{Name: "label", Value: cfg.Main.Label},
		{Name: "description", Value: cfg.Main.Description},
		{Name: "cycles", Value: strings.Join(cycles, ":")},
		{Name: "duration", Value: seconds(cfg.Bench.Duration)},
		{Name: "startup_delay", Value: seconds(cfg.Bench.StartupDelay)},
		{Name: "sleep_time", Value: seconds(cfg.Bench.SleepTime)},
		{Name: "cycle_time", Value: seconds(cfg.Bench.CycleTime)},
		{Name: "sleep_time_min", Value: seconds(cfg.Bench.SleepTimeMin)},
		{Name: "sleep_time_max", Value: seconds(cfg.Bench.SleepTimeMax)},
		{Name: "log_path", Value: cfg.Bench.LogPath},
		{Name: "result_path", Value: cfg.Bench.ResultPath},
		{Name: "configuration_file", Value: cfg.ConfigFile},
	}
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		if err := w.Config(e.Name, e.Value); err != nil {
			return err
		}
	}
	return nil
}
