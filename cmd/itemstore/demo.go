package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/itemstore"
	"github.com/jpalmerr/itemstore/config"
)

// demoCmd runs the canonical scenario against a fresh store.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the load, add, remove scenario",
	Long: `Run a fixed scenario against a fresh store and print every operation
event as one JSON object per line, followed by the final state.

The scenario is:
  1. load           (installs "Item 1" .. "Item N")
  2. add            (a generated item)
  3. remove item_3

Simulated failures are reported as "failed" events; the scenario carries on.

Example:
  itemstore demo --no-latency
  itemstore demo -c config.yaml --failure-rate 0.5 --seed 42`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().StringP("config", "c", "", "path to config file (defaults apply when omitted)")
	demoCmd.Flags().Bool("no-latency", false, "skip simulated latency")
	demoCmd.Flags().Float64("failure-rate", -1, "override the configured failure rate")
	demoCmd.Flags().Int64("seed", 0, "seed failure injection for a reproducible run")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := demoConfig(cmd)
	if err != nil {
		return err
	}

	opts, err := config.Options(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	var mu sync.Mutex

	opts = append(opts,
		itemstore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		itemstore.WithEventCallback(func(ev itemstore.Event) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}),
	)

	st, err := itemstore.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st.Start(ctx)
	defer st.Stop()

	steps := []func() error{
		func() error { return st.Load(ctx) },
		func() error { _, err := st.AddNext(ctx); return err },
		func() error { return st.Remove(ctx, "item_3") },
	}
	for _, step := range steps {
		// simulated failures are already visible as events
		if err := step(); err != nil && !errors.Is(err, itemstore.ErrSimulatedFailure) {
			return err
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return enc.Encode(st.State())
}

// demoConfig loads the optional config file and applies flag overrides.
func demoConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if noLatency, _ := cmd.Flags().GetBool("no-latency"); noLatency {
		cfg.NoLatency = true
	}
	if rate, _ := cmd.Flags().GetFloat64("failure-rate"); rate >= 0 {
		if rate > 1 {
			return nil, fmt.Errorf("failure-rate must be between 0 and 1, got %v", rate)
		}
		cfg.FailureRate = &rate
	}
	if seed, _ := cmd.Flags().GetInt64("seed"); seed != 0 {
		cfg.Seed = seed
	}
	return cfg, nil
}
