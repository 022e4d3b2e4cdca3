package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/itemstore"
	"github.com/jpalmerr/itemstore/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an itemstore configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  itemstore validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// building the store catches anything the options reject
	opts, err := config.Options(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	st, err := itemstore.New(opts...)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lat := st.Latencies()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Batch size:    %d (%s ids)\n", cfg.BatchSize, cfg.IDStrategy)
	fmt.Fprintf(out, "  Workers:       %d\n", st.Workers())
	fmt.Fprintf(out, "  Failure rate:  %s\n", formatRates(cfg))
	fmt.Fprintf(out, "  Latency:       load=%s refresh=%s add=%s remove=%s update=%s\n",
		lat.Load, lat.Refresh, lat.Add, lat.Remove, lat.Update)
	fmt.Fprintf(out, "  Seed items:    %d\n", len(cfg.Items))

	return nil
}

// formatRates renders the default rate followed by per-operation overrides.
func formatRates(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v", cfg.Rate())
	for _, op := range []string{"load", "refresh", "add", "remove", "update"} {
		if p, ok := cfg.FailureRates[op]; ok {
			fmt.Fprintf(&b, " %s=%v", op, p)
		}
	}
	return b.String()
}
