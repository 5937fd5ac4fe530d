package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/config"
	"github.com/torosent/crankbench/internal/logging"
	"github.com/torosent/crankbench/internal/output"
	"github.com/torosent/crankbench/internal/threshold"
)

const htmlIndex = "index.html"

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <result.xml>...",
		Short: "Aggregate result logs into a report directory",
		Long: `Aggregate one result log, or the logs of several bench nodes, into a
report directory holding stats.json and optionally PNG charts and an HTML page.
Thresholds turn the report into a pass/fail gate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReport,
	}
	config.RegisterReportFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print the statistics as JSON instead of tables")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	rcfg, err := config.LoadReport(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{Level: rcfg.LogLevel, LogTo: "console", Console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var rules []aggregate.Rule
	if rcfg.RulesFile != "" {
		if rules, err = aggregate.LoadRules(rcfg.RulesFile); err != nil {
			return err
		}
	}
	thresholds, err := threshold.ParseMultiple(rcfg.Thresholds)
	if err != nil {
		return err
	}

	report, err := aggregate.AggregateFiles(args, aggregate.Options{
		Apdex:          rcfg.Apdex,
		Percentiles:    rcfg.Percentiles,
		MeasureStartup: rcfg.MeasureStartup,
		Rules:          rules,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	if report.SkippedStartup > 0 {
		log.Info("startup records skipped", zap.Int("records", report.SkippedStartup))
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := output.PrintJSONReport(out, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(out, report)
	}

	wantGraphics := rcfg.HTML || rcfg.Charts
	if wantGraphics && rcfg.MaxStatCount > 0 && report.StatCount() > rcfg.MaxStatCount {
		return fmt.Errorf("report has %d statistics, more than --max-stat-count %d: add normalization rules with --rules",
			report.StatCount(), rcfg.MaxStatCount)
	}

	dir, err := output.CreateReportDir(rcfg.OutputDir, output.BenchDirName(report))
	if err != nil {
		return err
	}
	if _, err := output.WriteStats(dir, report); err != nil {
		return err
	}

	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(report, rcfg.ThresholdKey)
	}

	if wantGraphics {
		charts, err := output.RenderCharts(dir, report)
		if err != nil {
			return fmt.Errorf("render charts: %w", err)
		}
		monitors, err := output.RenderMonitorCharts(dir, report)
		if err != nil {
			return fmt.Errorf("render monitor charts: %w", err)
		}
		if rcfg.HTML {
			if err := writeHTMLReport(filepath.Join(dir, htmlIndex), report, charts, monitors, results); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(out, "\nReport: %s\n", dir)

	if len(results) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nThresholds (%s):\n", rcfg.ThresholdKey)
	for _, r := range results {
		fmt.Fprintf(out, "  cycle %d (%d CUs) %s: %s\n", r.Group.Cycle, r.CVUs, r.Group.Value, r.Message)
	}
	if !threshold.Passed(results) {
		return errGateFailed
	}
	return nil
}

func writeHTMLReport(path string, report *aggregate.Report, charts map[[2]string]output.ChartFiles, monitors []output.MonitorChart, results []threshold.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := output.GenerateHTMLReport(f, report, charts, monitors, results); err != nil {
		f.Close()
		return fmt.Errorf("generate HTML report: %w", err)
	}
	return f.Close()
}
