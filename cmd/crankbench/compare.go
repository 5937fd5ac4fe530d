package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/torosent/crankbench/internal/compare"
	"github.com/torosent/crankbench/internal/output"
)

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <reference report> <challenger report>",
		Short: "Compare two bench reports",
		Long: `Compare the stats.json of two report directories. Only the dimension
values present in both reports are compared, cycle by cycle at equal users.`,
		Args: cobra.ExactArgs(2),
		RunE: runDiff,
	}
	registerCompareFlags(cmd)
	return cmd
}

func newTrendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend <report>...",
		Short: "Follow the peak statistics of several bench reports",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runTrend,
	}
	registerCompareFlags(cmd)
	return cmd
}

func registerCompareFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-dir", "o", ".", "Directory receiving the comparison directory")
	cmd.Flags().Bool("html", false, "Render PNG charts and an HTML page")
}

func runDiff(cmd *cobra.Command, args []string) error {
	left, err := compare.Load(args[0])
	if err != nil {
		return err
	}
	right, err := compare.Load(args[1])
	if err != nil {
		return err
	}
	d := compare.NewDiff(left, right)
	if len(d.Comparable) == 0 {
		return fmt.Errorf("%s and %s have no statistics in common", left.Name, right.Name)
	}
	compare.WriteDiff(cmd.OutOrStdout(), d)

	dir, err := compareDir(cmd, d.Name)
	if err != nil {
		return err
	}
	if err := left.StoreData(filepath.Join(dir, "left.json")); err != nil {
		return err
	}
	if err := right.StoreData(filepath.Join(dir, "right.json")); err != nil {
		return err
	}
	if html, _ := cmd.Flags().GetBool("html"); html {
		charts, err := compare.RenderDiffCharts(dir, d)
		if err != nil {
			return fmt.Errorf("render charts: %w", err)
		}
		if err := writeComparePage(filepath.Join(dir, htmlIndex), d.Name, []*compare.Run{left, right}, d.Comparable, charts); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nDiff report: %s\n", dir)
	return nil
}

func runTrend(cmd *cobra.Command, args []string) error {
	runs := make([]*compare.Run, 0, len(args))
	for _, path := range args {
		run, err := compare.Load(path)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	}
	t, err := compare.NewTrend(runs)
	if err != nil {
		return err
	}
	compare.WriteTrend(cmd.OutOrStdout(), t)

	dir, err := compareDir(cmd, t.Name)
	if err != nil {
		return err
	}
	if html, _ := cmd.Flags().GetBool("html"); html {
		charts, err := compare.RenderTrendCharts(dir, t)
		if err != nil {
			return fmt.Errorf("render charts: %w", err)
		}
		if err := writeComparePage(filepath.Join(dir, htmlIndex), t.Name, t.Runs, t.Keys, charts); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTrend report: %s\n", dir)
	return nil
}

func compareDir(cmd *cobra.Command, name string) (string, error) {
	parent, err := cmd.Flags().GetString("output-dir")
	if err != nil {
		return "", err
	}
	return output.CreateReportDir(parent, name)
}

func writeComparePage(path, title string, runs []*compare.Run, keys []string, charts map[string]output.ChartFiles) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := compare.WriteHTML(f, title, runs, keys, charts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
