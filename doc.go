// Package itemstore provides an in-memory item list whose operations
// behave like calls to a slow, unreliable backend.
//
// Every operation waits a configurable simulated latency and then fails with
// a configurable probability. Progress is observable through the
// IsLoading/IsRefreshing flags of [State], failures through [State.Error],
// and every change is published to subscribers as a fresh snapshot. This
// makes the package a test double for UIs and clients that must cope with
// loading states, errors and retries.
//
// # Quick Start
//
//	st, err := itemstore.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	st.Start(ctx)
//	defer st.Stop()
//
//	if err := st.Load(ctx); err != nil {
//	    fmt.Println("load failed:", st.State().ErrorMessage())
//	}
//
// # Configuration
//
// Store uses the functional options pattern for configuration:
//
//	st, err := itemstore.New(
//	    itemstore.WithLatency(itemstore.OpLoad, 3*time.Second),
//	    itemstore.WithFailureRate(0.5),
//	    itemstore.WithBatchSize(10),
//	    itemstore.WithIDStrategy(itemstore.IDUUID),
//	)
//
// Tests replace time and randomness with explicit capabilities:
//
//	clk := clock.NewManual(time.Unix(0, 0))
//	st, err := itemstore.New(
//	    itemstore.WithClock(clk),
//	    itemstore.WithFaultInjector(fault.Script(false, true)),
//	)
//
// # Operations
//
// Load and Refresh replace the list with a generated batch ("Item 1" ..
// "Item N"). Add, AddNext, Remove and Update mutate single items. Each
// operation follows the same lifecycle:
//
//	started -> latency elapses -> succeeded | failed
//	        \-> caller cancels  -> cancelled
//
// A failed operation leaves the list untouched and records a message such
// as "failed to load items". The error is cleared when the next operation
// starts or by [Store.DismissError]. There are no automatic retries.
//
// # Architecture
//
// Store consists of several packages:
//
//   - internal/store: Pure reducer plus in-memory state with pub/sub
//   - internal/queue: Worker pool that serializes operations
//   - internal/server: HTTP server with a JSON API, Server-Sent Events and WebSocket
//   - clock: Real and manual clocks
//   - fault: Failure injectors (probabilistic and scripted)
//   - config: YAML configuration for the itemstore command
//
// The internal packages are not part of the public API and may change
// without notice.
package itemstore
