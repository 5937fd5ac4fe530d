package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torosent/crankbench/internal/har"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <capture.har>",
		Short: "Write a scenario file from a browser HTTP archive",
		Long: `Convert a HAR capture, exported from the browser developer tools, into a
scenario file for the bench command. Requests to the first recorded origin
use the {{url}} variable so the scenario can target another server.`,
		Args: cobra.ExactArgs(1),
		RunE: runRecord,
	}
	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Scenario file to write (default stdout)")
	flags.String("name", "", "Scenario name (default the capture file name)")
	flags.String("description", "", "Scenario description")
	flags.StringSlice("include-host", nil, "Record only these hosts")
	flags.StringSlice("exclude-host", nil, "Skip these hosts")
	flags.StringSlice("include-method", nil, "Record only these methods")
	flags.Bool("static", false, "Also record static assets")
	flags.Bool("headers", true, "Record request headers")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	capture, err := har.ParseFile(args[0])
	if err != nil {
		return err
	}

	name, _ := flags.GetString("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	opts := har.DefaultOptions(name)
	opts.Description, _ = flags.GetString("description")
	opts.IncludeHosts, _ = flags.GetStringSlice("include-host")
	opts.ExcludeHosts, _ = flags.GetStringSlice("exclude-host")
	opts.IncludeMethods, _ = flags.GetStringSlice("include-method")
	static, _ := flags.GetBool("static")
	opts.ExcludeStatic = !static
	opts.IncludeHeaders, _ = flags.GetBool("headers")

	sc, err := har.Convert(capture, opts)
	if err != nil {
		return err
	}
	data, err := sc.Marshal()
	if err != nil {
		return err
	}

	path, _ := flags.GetString("output")
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %d steps into %s\n", len(sc.Steps), path)
	return nil
}
