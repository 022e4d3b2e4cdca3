// Package main is the entry point for the itemstore CLI.
//
// The item store can be used either as a library (SDK) or as a standalone
// binary serving an HTTP API, configured with YAML. This CLI provides the
// standalone binary approach.
//
// Usage:
//
//	itemstore serve -c config.yaml    # Start the HTTP API
//	itemstore validate -c config.yaml # Validate configuration
//	itemstore demo --no-latency       # Run the load/add/remove scenario
//	itemstore version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "itemstore",
	Short: "An in-memory item list with simulated latency and failures",
	Long: `itemstore is an in-memory item list whose operations behave like calls
to a slow, unreliable backend.

Every operation (load, refresh, add, remove, update) waits a simulated
latency and fails with a configurable probability. Use it as a test double
for clients that must handle loading states and errors.

Quick start:
  1. Run: itemstore serve -c itemstore.yaml
  2. curl -X POST localhost:8080/api/load
  3. curl -N localhost:8080/api/sse

Example config:
  port: 8080
  failure_rate: 0.2
  latency:
    load: 2s`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this itemstore binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "itemstore %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
