// Package algorithm implements the five rate-limit strategies. Each strategy
// encodes its discipline as a Lua script executed atomically on the store;
// the Go side builds keys, packs arguments, and projects the result tuple
// into a Decision. The caller's clock is passed into every script so the
// store never consults its own.
package algorithm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Algorithm  limitcfg.Algorithm
}

// Strategy is the contract every algorithm implements.
type Strategy interface {
	// Check decides whether the request for the given token cost is admitted.
	Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error)

	// Reset deletes the bucket state for the key.
	Reset(ctx context.Context, key string) error

	// Type returns the algorithm tag this strategy serves.
	Type() limitcfg.Algorithm
}

// Registry maps algorithm tags to strategies. It is populated once at
// startup; a tag missing at dispatch time is an init bug, not a runtime
// condition.
type Registry struct {
	strategies map[limitcfg.Algorithm]Strategy
}

// NewRegistry builds a registry and verifies that every known algorithm tag
// has a strategy.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	m := make(map[limitcfg.Algorithm]Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := m[s.Type()]; dup {
			return nil, fmt.Errorf("duplicate strategy for algorithm %s", s.Type())
		}
		m[s.Type()] = s
	}
	for _, alg := range limitcfg.Algorithms {
		if _, ok := m[alg]; !ok {
			return nil, fmt.Errorf("no strategy registered for algorithm %s", alg)
		}
	}
	return &Registry{strategies: m}, nil
}

// Get returns the strategy for the given tag.
func (r *Registry) Get(alg limitcfg.Algorithm) (Strategy, error) {
	s, ok := r.strategies[alg]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for algorithm %s", alg)
	}
	return s, nil
}

// NewDefaultRegistry registers the Lua scripts on the store and returns a
// registry holding all five strategies sharing the given clock.
func NewDefaultRegistry(st store.Store, now func() time.Time) (*Registry, error) {
	return NewRegistry(
		NewTokenBucket(st, now),
		NewSlidingWindow(st, now),
		NewSlidingWindowCounter(st, now),
		NewFixedWindow(st, now),
		NewLeakyBucket(st, now),
	)
}

// checkError wraps a strategy failure with its algorithm tag so the
// orchestrator logs a single "check failed" condition carrying the cause.
func checkError(alg limitcfg.Algorithm, key string, err error) error {
	return fmt.Errorf("%s check failed for key %q: %w", alg, key, err)
}

// tupleInt reads an integer element from a script result tuple. Lua numbers
// arrive as int64; reals are returned by the scripts as strings.
func tupleInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("%w: unexpected tuple element %T", store.ErrScript, v)
	}
}

// tupleFloat reads a real element from a script result tuple.
func tupleFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("%w: unexpected tuple element %T", store.ErrScript, v)
	}
}

func expectLen(alg limitcfg.Algorithm, tuple []any, n int) error {
	if len(tuple) < n {
		return fmt.Errorf("%w: %s script returned %d elements, want %d",
			store.ErrScript, alg, len(tuple), n)
	}
	return nil
}
