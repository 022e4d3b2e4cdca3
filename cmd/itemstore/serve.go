package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/itemstore"
	"github.com/jpalmerr/itemstore/config"
	"github.com/jpalmerr/itemstore/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the item store and serve it over HTTP.

The server will:
  - Load configuration from the specified YAML file
  - Start the operation workers
  - Serve the JSON API, SSE and WebSocket streams on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  itemstore serve -c config.yaml
  itemstore serve --config /etc/itemstore/config.yaml --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().IntP("port", "p", 0, "override the configured port")
	serveCmd.Flags().Bool("debug", false, "log every operation outcome")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}

	logger.Info("config loaded",
		"batch_size", cfg.BatchSize,
		"failure_rate", cfg.Rate(),
		"seed_items", len(cfg.Items),
	)

	opts, err := config.Options(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	st, err := itemstore.New(append(opts, itemstore.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st.Start(ctx)

	srv := server.NewServer(st, cfg.Port, logger)
	if err := srv.Start(ctx); err != nil {
		st.Stop()
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	// wait for the running operation to finish, with timeout
	done := make(chan struct{})
	go func() {
		st.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
	}
	return nil
}
