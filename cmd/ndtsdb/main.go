// Command ndtsdb is the operator CLI for the columnar time-series
// engine: verifying and compacting .ndts files on disk, inspecting
// their header/chunk layout, and running ad-hoc SQL against a
// directory of them. It uses cobra for command dispatch, matching the
// tool's conventions for flag parsing and subcommand structure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgttt/ndtsdb/logutil"
)

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ndtsdb",
		Short: "Inspect, verify, and query .ndts time-series stores",
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(compactCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger() *zap.Logger {
	return logutil.OrNop(logutil.New(logLevel))
}
