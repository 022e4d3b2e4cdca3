package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/itemstore"
)

const maxAttempts = 5

func main() {
	if err := run(); err != nil {
		slog.Error("example failed", "error", err)
		os.Exit(1)
	}
}

// run owns the store so its deferred Stop executes before main exits.
func run() error {
	// shorter latencies than the defaults, with a high failure rate so the
	// retry loop below has something to do
	st, err := itemstore.New(
		itemstore.WithLatencies(itemstore.Latencies{
			Load:    800 * time.Millisecond,
			Refresh: 600 * time.Millisecond,
			Add:     200 * time.Millisecond,
			Remove:  200 * time.Millisecond,
			Update:  200 * time.Millisecond,
		}),
		itemstore.WithFailureRate(0.4),
	)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st.Start(ctx)
	defer st.Stop()

	// render every snapshot the way a UI would
	updates := st.Subscribe()
	defer st.Unsubscribe(updates)
	go func() {
		for s := range updates {
			status := "idle"
			switch {
			case s.IsLoading:
				status = "loading..."
			case s.IsRefreshing:
				status = "refreshing..."
			}
			line := fmt.Sprintf("  v%-3d %-14s %d items", s.Version, status, len(s.Items))
			if msg := s.ErrorMessage(); msg != "" {
				line += "  error: " + msg
			}
			fmt.Println(line)
		}
	}()

	steps := []struct {
		name string
		run  func() error
	}{
		{"load", func() error { return st.Load(ctx) }},
		{"add", func() error { _, err := st.AddNext(ctx); return err }},
		{"remove item_3", func() error { return st.Remove(ctx, "item_3") }},
		{"refresh", func() error { return st.Refresh(ctx) }},
	}

	for _, step := range steps {
		fmt.Printf("%s\n", step.name)
		if err := retry(step.run); err != nil {
			return fmt.Errorf("step %s: %w", step.name, err)
		}
	}

	fmt.Println()
	for _, it := range st.Items() {
		fmt.Printf("  %-10s %s\n", it.ID, it.Title)
	}
	return nil
}

// retry re-invokes op after simulated failures. The store never retries on
// its own; recovering is the caller's decision.
func retry(op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, itemstore.ErrSimulatedFailure) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
