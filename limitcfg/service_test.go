package limitcfg_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

var testDefaults = limitcfg.Defaults{
	Capacity:            100,
	RefillRate:          100,
	RefillPeriodSeconds: 60,
}

func setup(t *testing.T) (*limitcfg.Service, *store.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewRedisWithClient(client, zerolog.Nop())
	svc := limitcfg.NewService(st, testDefaults, limitcfg.CacheOptions{
		TTL:         time.Minute,
		MaxSize:     100,
		EnableStats: true,
	}, zerolog.Nop())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc, st
}

func validConfig(alg limitcfg.Algorithm, capacity int64) limitcfg.Config {
	return limitcfg.Config{
		Algorithm:           alg,
		Capacity:            capacity,
		RefillRate:          10,
		RefillPeriodSeconds: 60,
		Priority:            -1,
	}
}

func TestGetConfigDefault(t *testing.T) {
	svc, _ := setup(t)

	cfg := svc.GetConfig(context.Background(), "nobody:configured:this")
	if cfg.Algorithm != limitcfg.TokenBucket {
		t.Errorf("default algorithm = %s, want TOKEN_BUCKET", cfg.Algorithm)
	}
	if cfg.Capacity != testDefaults.Capacity {
		t.Errorf("default capacity = %d, want %d", cfg.Capacity, testDefaults.Capacity)
	}
}

func TestSaveKeyConfigRoundTrip(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	want := validConfig(limitcfg.FixedWindow, 42)
	if err := svc.SaveKeyConfig(ctx, "user:42", want); err != nil {
		t.Fatal(err)
	}

	got := svc.GetConfig(ctx, "user:42")
	if got.Algorithm != want.Algorithm || got.Capacity != want.Capacity ||
		got.RefillRate != want.RefillRate || got.RefillPeriodSeconds != want.RefillPeriodSeconds {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.KeyPattern != "user:42" {
		t.Errorf("keyPattern = %q, want user:42", got.KeyPattern)
	}
}

func TestSaveKeyConfigValidates(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	bad := validConfig(limitcfg.TokenBucket, 0)
	if err := svc.SaveKeyConfig(ctx, "user:bad", bad); err == nil {
		t.Error("expected validation error for zero capacity")
	}

	huge := validConfig(limitcfg.SlidingWindow, limitcfg.MaxSlidingWindowCapacity+1)
	if err := svc.SaveKeyConfig(ctx, "user:huge", huge); err == nil {
		t.Error("expected validation error for oversized sliding window")
	}
}

func TestPatternPrecedence(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	broad := validConfig(limitcfg.TokenBucket, 10)
	broad.Priority = 10
	if err := svc.SavePatternConfig(ctx, "user:*", broad); err != nil {
		t.Fatal(err)
	}
	premium := validConfig(limitcfg.TokenBucket, 50)
	premium.Priority = 50
	if err := svc.SavePatternConfig(ctx, "user:premium:*", premium); err != nil {
		t.Fatal(err)
	}

	if got := svc.GetConfig(ctx, "user:premium:X"); got.Capacity != 50 {
		t.Errorf("premium key capacity = %d, want 50", got.Capacity)
	}
	if got := svc.GetConfig(ctx, "user:free:X"); got.Capacity != 10 {
		t.Errorf("free key capacity = %d, want 10", got.Capacity)
	}

	// Deleting the higher-priority pattern reroutes premium keys to the
	// broad one, despite the earlier cached resolution.
	if err := svc.DeletePatternConfig(ctx, "user:premium:*"); err != nil {
		t.Fatal(err)
	}
	if got := svc.GetConfig(ctx, "user:premium:X"); got.Capacity != 10 {
		t.Errorf("after delete, premium key capacity = %d, want 10", got.Capacity)
	}
}

func TestExactKeyBeatsPattern(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	pat := validConfig(limitcfg.TokenBucket, 10)
	if err := svc.SavePatternConfig(ctx, "user:*", pat); err != nil {
		t.Fatal(err)
	}
	exact := validConfig(limitcfg.LeakyBucket, 7)
	if err := svc.SaveKeyConfig(ctx, "user:vip", exact); err != nil {
		t.Fatal(err)
	}

	got := svc.GetConfig(ctx, "user:vip")
	if got.Algorithm != limitcfg.LeakyBucket || got.Capacity != 7 {
		t.Errorf("got %+v, want exact leaky bucket config", got)
	}
}

func TestPatternAutoPriority(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	cfg := validConfig(limitcfg.TokenBucket, 10)
	cfg.Priority = -1
	if err := svc.SavePatternConfig(ctx, "user:premium:*", cfg); err != nil {
		t.Fatal(err)
	}

	patterns, err := svc.GetAllPatterns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	if patterns[0].Priority != 25 {
		t.Errorf("auto priority = %d, want 25", patterns[0].Priority)
	}
}

func TestReloadSeesExternalWrites(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	// Another node writes a pattern config directly to the store.
	err := st.SetHash(ctx, "config:pattern:order:*", map[string]string{
		"algorithm":           "FIXED_WINDOW",
		"capacity":            "9",
		"refillRate":          "9",
		"refillPeriodSeconds": "30",
		"priority":            "40",
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// Not visible until reload: the pattern cache was built at startup.
	if got := svc.GetConfig(ctx, "order:55"); got.Capacity != testDefaults.Capacity {
		t.Fatalf("pre-reload capacity = %d, want default", got.Capacity)
	}

	if err := svc.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got := svc.GetConfig(ctx, "order:55")
	if got.Capacity != 9 || got.Algorithm != limitcfg.FixedWindow {
		t.Errorf("post-reload config = %+v, want the stored pattern", got)
	}
	if got.KeyPattern != "order:*" {
		t.Errorf("derived keyPattern = %q, want order:*", got.KeyPattern)
	}
}

func TestMalformedHashFallsThrough(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	err := st.SetHash(ctx, "config:key:user:broken", map[string]string{
		"algorithm": "TOKEN_BUCKET",
		"capacity":  "not-a-number",
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	got := svc.GetConfig(ctx, "user:broken")
	if got.Capacity != testDefaults.Capacity {
		t.Errorf("capacity = %d, want default for malformed hash", got.Capacity)
	}
}

func TestCacheStats(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	svc.GetConfig(ctx, "stats:key")
	svc.GetConfig(ctx, "stats:key")

	stats := svc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
	if stats.Size != 1 {
		t.Errorf("size = %d, want 1", stats.Size)
	}
}
