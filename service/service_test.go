package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/algorithm"
	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/metrics"
	"github.com/nhalm/ratekit/service"
	"github.com/nhalm/ratekit/store"
)

var defaults = limitcfg.Defaults{Capacity: 5, RefillRate: 5, RefillPeriodSeconds: 60}

func newService(t *testing.T, st store.Store, failOpen bool) (*service.Service, *limitcfg.Service) {
	t.Helper()
	registry, err := algorithm.NewDefaultRegistry(st, time.Now)
	if err != nil {
		t.Fatal(err)
	}
	configs := limitcfg.NewService(st, defaults, limitcfg.CacheOptions{}, zerolog.Nop())
	return service.New(registry, configs, metrics.New(true), failOpen, zerolog.Nop()), configs
}

func liveStore(t *testing.T) *store.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisWithClient(client, zerolog.Nop())
}

// brokenStore simulates an unreachable store while accepting registration.
type brokenStore struct{}

func (brokenStore) RegisterScript(string, string) {}

func (brokenStore) ExecScript(context.Context, string, []string, ...any) ([]any, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) Scan(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) Delete(context.Context, ...string) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) GetHash(context.Context, string) (map[string]string, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) SetHash(context.Context, string, map[string]string, time.Duration) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) Ping(context.Context) (time.Duration, error) {
	return 0, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) Close() error { return nil }

func TestCheckDefaultConfig(t *testing.T) {
	svc, _ := newService(t, liveStore(t), true)

	result, err := svc.Check(context.Background(), service.CheckRequest{Key: "user:1", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Error("first request should be allowed")
	}
	if result.Remaining != defaults.Capacity-1 {
		t.Errorf("remaining = %d, want %d", result.Remaining, defaults.Capacity-1)
	}
	if result.Algorithm != limitcfg.TokenBucket {
		t.Errorf("algorithm = %s, want TOKEN_BUCKET", result.Algorithm)
	}
	if result.Key != "user:1" {
		t.Errorf("metadata key = %q", result.Key)
	}
	if result.MatchedPattern != "" {
		t.Errorf("matchedPattern = %q, want empty for default config", result.MatchedPattern)
	}
}

func TestCheckReportsMatchedPattern(t *testing.T) {
	st := liveStore(t)
	svc, configs := newService(t, st, true)
	ctx := context.Background()

	err := configs.SavePatternConfig(ctx, "user:premium:*", limitcfg.Config{
		Algorithm:           limitcfg.FixedWindow,
		Capacity:            3,
		RefillRate:          3,
		RefillPeriodSeconds: 10,
		Priority:            -1,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.Check(ctx, service.CheckRequest{Key: "user:premium:9", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.MatchedPattern != "user:premium:*" {
		t.Errorf("matchedPattern = %q, want user:premium:*", result.MatchedPattern)
	}
	if result.Algorithm != limitcfg.FixedWindow {
		t.Errorf("algorithm = %s, want FIXED_WINDOW", result.Algorithm)
	}
}

func TestCheckDeniedCarriesRetryAfter(t *testing.T) {
	svc, _ := newService(t, liveStore(t), true)
	ctx := context.Background()

	for i := int64(0); i < defaults.Capacity; i++ {
		if _, err := svc.Check(ctx, service.CheckRequest{Key: "user:2", Tokens: 1}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := svc.Check(ctx, service.CheckRequest{Key: "user:2", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("expected denial past capacity")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", result.RetryAfter)
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
}

func TestFailOpen(t *testing.T) {
	svc, _ := newService(t, brokenStore{}, true)

	result, err := svc.Check(context.Background(), service.CheckRequest{Key: "user:3", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Error("fail-open must admit")
	}
	if result.Remaining != -1 {
		t.Errorf("remaining = %d, want -1 sentinel", result.Remaining)
	}
	if result.RetryAfter != 0 {
		t.Errorf("retryAfter = %v, want zero", result.RetryAfter)
	}
}

func TestFailClosed(t *testing.T) {
	svc, _ := newService(t, brokenStore{}, false)

	result, err := svc.Check(context.Background(), service.CheckRequest{Key: "user:4", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("fail-closed must deny")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
	if result.RetryAfter != 60*time.Second {
		t.Errorf("retryAfter = %v, want 60s", result.RetryAfter)
	}
}

func TestCancelledRequestReturnsError(t *testing.T) {
	svc, _ := newService(t, brokenStore{}, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Check(ctx, service.CheckRequest{Key: "user:5", Tokens: 1}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestResetUsesResolvedAlgorithm(t *testing.T) {
	st := liveStore(t)
	svc, _ := newService(t, st, true)
	ctx := context.Background()

	if _, err := svc.Check(ctx, service.CheckRequest{Key: "user:6", Tokens: 5}); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Check(ctx, service.CheckRequest{Key: "user:6", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("bucket should be exhausted")
	}

	if err := svc.Reset(ctx, "user:6"); err != nil {
		t.Fatal(err)
	}
	result, err = svc.Check(ctx, service.CheckRequest{Key: "user:6", Tokens: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Error("reset bucket should admit again")
	}
}
