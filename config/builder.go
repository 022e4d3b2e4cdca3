package config

import (
	"github.com/jpalmerr/itemstore"
	"github.com/jpalmerr/itemstore/fault"
)

// Options converts parsed configuration into SDK options for [itemstore.New].
//
// Per-operation failure rates or a fixed seed select a [fault.PerOp]
// injector; otherwise the plain failure rate is used.
func Options(cfg *Config) ([]itemstore.Option, error) {
	opts := []itemstore.Option{
		itemstore.WithBatchSize(cfg.BatchSize),
		itemstore.WithIDStrategy(itemstore.IDStrategy(cfg.IDStrategy)),
	}

	if cfg.Workers > 0 {
		opts = append(opts, itemstore.WithWorkers(cfg.Workers))
	}
	if cfg.QueueSize > 0 {
		opts = append(opts, itemstore.WithQueueSize(cfg.QueueSize))
	}

	if len(cfg.FailureRates) > 0 || cfg.Seed != 0 {
		opts = append(opts, itemstore.WithFaultInjector(fault.PerOp(cfg.FailureRates, cfg.Rate(), cfg.Seed)))
	} else {
		opts = append(opts, itemstore.WithFailureRate(cfg.Rate()))
	}

	// no_latency wins over individual latencies
	if cfg.NoLatency {
		opts = append(opts, itemstore.WithNoLatency())
	} else {
		for _, op := range sortedKeys(cfg.Latency) {
			opts = append(opts, itemstore.WithLatency(itemstore.Op(op), cfg.Latency[op].Duration()))
		}
	}

	if len(cfg.Items) > 0 {
		items := make([]itemstore.Item, len(cfg.Items))
		for i, ic := range cfg.Items {
			items[i] = itemstore.Item{
				ID:          ic.ID,
				Title:       ic.Title,
				Description: ic.Description,
				Timestamp:   ic.Timestamp,
			}
		}
		opts = append(opts, itemstore.WithSeed(items...))
	}

	return opts, nil
}
