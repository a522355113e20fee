package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// errChecksFailed is returned when the run completed but an assertion failed
var errChecksFailed = errors.New("replication checks failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replcheck",
	Short: "replcheck - PostgreSQL primary/replica consistency checks",
	Long: `replcheck verifies a two-node PostgreSQL primary/replica pair.

It checks that writes on the primary reach the replica, measures the
replication delay, and runs failover drills that stop the primary, promote
the replica and validate that no data was lost.

Exit status is 0 when every check passes and 1 otherwise.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate(versionString())

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML configuration file")
	flags.StringSlice("env-file", []string{".env"}, "Env files loaded before the configuration")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Write logs as JSON")
	flags.String("metrics-textfile", "", "Write metrics to this file when the command finishes")
	flags.String("pushgateway", "", "Push metrics to this Pushgateway URL when the command finishes")
	flags.String("metrics-addr", "", "Serve /metrics on this address while the command runs")

	rootCmd.AddCommand(replicateCmd)
	rootCmd.AddCommand(failoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	return fmt.Sprintf("replcheck version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No configuration is needed to print the version
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}
