package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torosent/crankbench/internal/telemetry"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <node result.xml>...",
		Short: "Merge the result logs of several bench nodes",
		Long: `Merge result logs produced by independent bench nodes into one log. The
users of each cycle are summed over the nodes and thread ids are renumbered.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runMerge,
	}
	cmd.Flags().StringP("output", "o", "", "Path of the merged result log (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runMerge(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := telemetry.MergeFiles(f, args); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("merge: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d logs into %s\n", len(args), path)
	return nil
}
