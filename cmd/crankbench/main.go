package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is stamped into result logs; overridden at link time.
var version = "dev"

// errGateFailed makes the process exit with status 2 instead of 1.
var errGateFailed = errors.New("thresholds failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errGateFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "crankbench",
		Short:         "Functional and load testing of web applications",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newBenchCmd(),
		newReportCmd(),
		newDiffCmd(),
		newTrendCmd(),
		newMergeCmd(),
		newRecordCmd(),
	)
	return root
}
