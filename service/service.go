// Package service hosts the decision orchestrator: resolve the config for a
// key, dispatch to the strategy, time the decision, and translate failures
// into the configured fail-open or fail-closed outcome.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/algorithm"
	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/metrics"
	"github.com/nhalm/ratekit/store"
)

// failClosedRetryAfter is what a denied caller is told when the store is
// unreachable and the policy is fail-closed.
const failClosedRetryAfter = 60 * time.Second

// CheckRequest is a single decision request.
type CheckRequest struct {
	Key      string
	Tokens   int64
	ClientIP string
	Endpoint string
}

// Result is a decision plus the metadata the boundary attaches to the
// response.
type Result struct {
	Allowed        bool
	Remaining      int64
	ResetAt        time.Time
	RetryAfter     time.Duration
	Algorithm      limitcfg.Algorithm
	Key            string
	MatchedPattern string
	LatencyMicros  int64
}

// Service is the re-entrant, stateless decision orchestrator.
type Service struct {
	registry *algorithm.Registry
	configs  *limitcfg.Service
	metrics  *metrics.Metrics
	log      zerolog.Logger
	failOpen bool
}

// New builds the orchestrator. failOpen selects the policy applied when a
// decision cannot be computed; it is fixed for the process lifetime.
func New(registry *algorithm.Registry, configs *limitcfg.Service, m *metrics.Metrics, failOpen bool, log zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		configs:  configs,
		metrics:  m,
		log:      log,
		failOpen: failOpen,
	}
}

// Check runs one rate-limit decision. It only returns an error for a
// cancelled context or an internal invariant violation; store faults are
// absorbed by the failure policy.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*Result, error) {
	start := time.Now()

	cfg := s.configs.GetConfig(ctx, req.Key)

	strategy, err := s.registry.Get(cfg.Algorithm)
	if err != nil {
		// Unreachable after init validation.
		s.log.Error().Err(err).Str("key", req.Key).Msg("no strategy for resolved algorithm")
		return nil, err
	}

	decision, err := strategy.Check(ctx, req.Key, req.Tokens, cfg)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// A cancelled decision influences neither metrics nor the caller.
			return nil, ctx.Err()
		}
		return s.failurePolicy(req, err, latency), nil
	}

	s.metrics.RecordCheck(string(decision.Algorithm), decision.Allowed, latency)

	result := &Result{
		Allowed:       decision.Allowed,
		Remaining:     decision.Remaining,
		ResetAt:       decision.ResetAt,
		RetryAfter:    decision.RetryAfter,
		Algorithm:     decision.Algorithm,
		Key:           req.Key,
		LatencyMicros: latency.Microseconds(),
	}
	if strings.Contains(cfg.KeyPattern, "*") {
		result.MatchedPattern = cfg.KeyPattern
	}
	return result, nil
}

// Reset clears the bucket state for a key using the algorithm its resolved
// configuration names.
func (s *Service) Reset(ctx context.Context, key string) error {
	cfg := s.configs.GetConfig(ctx, key)
	strategy, err := s.registry.Get(cfg.Algorithm)
	if err != nil {
		return err
	}
	if err := strategy.Reset(ctx, key); err != nil {
		s.metrics.RecordError()
		return err
	}
	s.log.Info().Str("key", key).Str("algorithm", string(cfg.Algorithm)).Msg("reset rate limit")
	return nil
}

// failurePolicy maps a failed check onto the configured outcome. Fail-open
// admits with remaining -1; fail-closed denies and asks the caller to retry
// in a minute.
func (s *Service) failurePolicy(req CheckRequest, err error, latency time.Duration) *Result {
	s.metrics.RecordError()
	switch {
	case errors.Is(err, store.ErrScript):
		s.metrics.RecordStoreError("script")
	case errors.Is(err, store.ErrUnavailable):
		s.metrics.RecordStoreError("unavailable")
	}
	s.log.Error().Err(err).Str("key", req.Key).Bool("failOpen", s.failOpen).Msg("rate limit check failed")

	if s.failOpen {
		return &Result{
			Allowed:       true,
			Remaining:     -1,
			Key:           req.Key,
			LatencyMicros: latency.Microseconds(),
		}
	}
	return &Result{
		Allowed:       false,
		Remaining:     0,
		RetryAfter:    failClosedRetryAfter,
		Key:           req.Key,
		LatencyMicros: latency.Microseconds(),
	}
}
