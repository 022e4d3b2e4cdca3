// Package fault provides synthetic failure injection for the item store.
//
// Every store operation asks an [Injector] whether it should fail before it
// commits. Production-like runs use a probabilistic injector such as
// [Rate] or [PerOp]; tests use [Never], [Always] or a [Script] to make
// outcomes deterministic.
package fault

import (
	"math/rand"
	"sync"
	"time"
)

// Injector decides whether an operation fails.
//
// op is the operation name ("load", "refresh", "add", "remove", "update").
// Implementations must be safe for concurrent use.
type Injector interface {
	ShouldFail(op string) bool
}

// InjectorFunc adapts a function to the [Injector] interface.
type InjectorFunc func(op string) bool

// ShouldFail calls f(op).
func (f InjectorFunc) ShouldFail(op string) bool {
	return f(op)
}

// Never returns an injector that never fails.
func Never() Injector {
	return InjectorFunc(func(string) bool { return false })
}

// Always returns an injector that fails every operation.
func Always() Injector {
	return InjectorFunc(func(string) bool { return true })
}

// RateInjector fails operations with a fixed probability per operation.
type RateInjector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	rates    map[string]float64
	fallback float64
}

// Rate returns an injector failing every operation with probability p.
//
// p is clamped to [0.0, 1.0]. A zero seed seeds from the current time;
// any other seed makes the failure sequence reproducible.
func Rate(p float64, seed int64) *RateInjector {
	return PerOp(nil, p, seed)
}

// PerOp returns an injector with per-operation failure probabilities.
//
// Operations missing from rates use fallback. All probabilities are clamped
// to [0.0, 1.0]. Seed semantics match [Rate].
func PerOp(rates map[string]float64, fallback float64, seed int64) *RateInjector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	clamped := make(map[string]float64, len(rates))
	for op, p := range rates {
		clamped[op] = clamp(p)
	}

	return &RateInjector{
		rng:      rand.New(rand.NewSource(seed)),
		rates:    clamped,
		fallback: clamp(fallback),
	}
}

// ShouldFail rolls the configured probability for op.
func (r *RateInjector) ShouldFail(op string) bool {
	p, ok := r.rates[op]
	if !ok {
		p = r.fallback
	}

	// 0 never fails and 1 always fails, without consuming randomness
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < p
}

// Probability returns the effective failure probability for op.
func (r *RateInjector) Probability(op string) float64 {
	if p, ok := r.rates[op]; ok {
		return p
	}
	return r.fallback
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
