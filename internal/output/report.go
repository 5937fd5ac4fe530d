package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/torosent/crankbench/internal/aggregate"
	"github.com/torosent/crankbench/internal/metrics"
)

// StatsFile is the machine readable statistics written in a report directory
// and read back by diff and trend.
const StatsFile = "stats.json"

// PrintReport outputs a human-readable summary report: the run
// configuration, then one table per dimension value with a row per cycle.
func PrintReport(w io.Writer, report *aggregate.Report) {
	fmt.Fprintln(w, "\n--- Bench Results ---")
	for _, f := range report.Config() {
		fmt.Fprintf(w, "%-18s %s\n", f.Name+":", f.Value)
	}
	fmt.Fprintf(w, "%-18s %d\n", "Records:", report.Records)
	if report.SkippedStartup > 0 {
		fmt.Fprintf(w, "%-18s %d\n", "Startup skipped:", report.SkippedStartup)
	}

	if cycles := report.Cycles(); len(cycles) > 0 {
		fmt.Fprintln(w, "\nCycles:")
		for _, c := range cycles {
			fmt.Fprintf(w, "  - cycle %d: %d CUs, %s\n", c, report.CVUs(c), report.Boundary(c).Duration())
		}
	}

	for _, key := range report.Keys() {
		fmt.Fprintf(w, "\n%s:\n", key)
		for _, value := range report.Values(key) {
			fmt.Fprintf(w, "  %s\n", value)
			writeCycleTable(w, report, key, value)
		}
	}
}

func writeCycleTable(w io.Writer, report *aggregate.Report, key, value string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	var header []string
	var summaries []metrics.ErrorSummary
	for _, c := range report.Cycles() {
		r, ok := report.Result(aggregate.GroupKey{Key: key, Value: value, Cycle: c})
		if !ok {
			continue
		}
		if header == nil {
			header = []string{"CUs", "count", "ok", "fail", "err", "rps", "apdex", "min", "avg", "max"}
			for _, p := range r.Percentiles {
				header = append(header, p.Label())
			}
			fmt.Fprintf(tw, "    %s\t\n", strings.Join(header, "\t"))
		}
		row := []string{
			fmt.Sprint(report.CVUs(c)),
			fmt.Sprint(r.Count),
			fmt.Sprint(r.Successes),
			fmt.Sprint(r.Failures),
			fmt.Sprint(r.Errors),
			fmt.Sprintf("%.2f", r.RPS),
			fmt.Sprintf("%.3f", r.Apdex),
			seconds(r.MinMs),
			seconds(r.MeanMs),
			seconds(r.MaxMs),
		}
		for _, p := range r.Percentiles {
			row = append(row, seconds(r.PercentilesMs[p.Label()]))
		}
		fmt.Fprintf(tw, "    %s\t\n", strings.Join(row, "\t"))
		summaries = append(summaries, r.Summaries...)
	}
	tw.Flush()

	for _, row := range metrics.CodeBuckets(summaries) {
		fmt.Fprintf(w, "    %s %s: %d\n", row.Outcome, row.Code, row.Count)
	}
}

func seconds(ms float64) string {
	return fmt.Sprintf("%.3f", ms/1000)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report *aggregate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Snapshot())
}

// WriteStats writes the JSON report as stats.json into dir.
func WriteStats(dir string, report *aggregate.Report) (string, error) {
	path := filepath.Join(dir, StatsFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("write stats: %w", err)
	}
	if err := PrintJSONReport(f, report); err != nil {
		f.Close()
		return "", fmt.Errorf("write stats: %w", err)
	}
	return path, f.Close()
}
