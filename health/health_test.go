package health_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/health"
	"github.com/nhalm/ratekit/store"
)

func TestCheckUp(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	st := store.NewRedisWithClient(client, zerolog.Nop())

	mr.Set("ratelimit:bucket:a", "1")
	mr.Set("ratelimit:fixed:b:0", "1")
	mr.Set("config:key:c", "1")

	report := health.NewChecker(st, zerolog.Nop()).Check(context.Background())
	if report.Status != health.StatusUp {
		t.Errorf("status = %s, want up", report.Status)
	}
	if report.ActiveKeys != 2 {
		t.Errorf("activeKeys = %d, want 2", report.ActiveKeys)
	}
}

func TestCheckDownWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	st := store.NewRedisWithClient(client, zerolog.Nop())
	mr.Close()

	report := health.NewChecker(st, zerolog.Nop()).Check(context.Background())
	if report.Status != health.StatusDown {
		t.Errorf("status = %s, want down", report.Status)
	}
	if report.Error == "" {
		t.Error("expected error detail")
	}
}
