package baseline_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/baseline"
	"github.com/nhalm/ratekit/store"
)

func newTracker(t *testing.T) *baseline.Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return baseline.NewTracker(store.NewRedisWithClient(client, zerolog.Nop()), zerolog.Nop())
}

func run(p95 int64, rps float64) baseline.Result {
	return baseline.Result{
		Algorithm:     "TOKEN_BUCKET",
		TotalRequests: 1000,
		ThroughputRPS: rps,
		Latency:       &baseline.LatencyStats{P95Micros: p95},
	}
}

func TestHistoryNewestFirstAndTrimmed(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		r := run(int64(100+i), 1000)
		r.Algorithm = fmt.Sprintf("run-%d", i)
		if err := tracker.Store(ctx, "load", r); err != nil {
			t.Fatal(err)
		}
	}

	history, err := tracker.History(ctx, "load")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 10 {
		t.Fatalf("history = %d entries, want 10", len(history))
	}
	if history[0].Algorithm != "run-11" {
		t.Errorf("newest = %s, want run-11", history[0].Algorithm)
	}
}

func TestAnalyzeFirstRunIsBaseline(t *testing.T) {
	tracker := newTracker(t)

	report, err := tracker.Analyze(context.Background(), "fresh", run(500, 4000))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "BASELINE" {
		t.Errorf("status = %s, want BASELINE", report.Status)
	}
}

func TestAnalyzeWithinThresholds(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	if err := tracker.Store(ctx, "steady", run(500, 4000)); err != nil {
		t.Fatal(err)
	}
	report, err := tracker.Analyze(ctx, "steady", run(550, 3900))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "OK" {
		t.Errorf("status = %s, want OK (%s)", report.Status, report.Message)
	}
}

func TestAnalyzeDetectsLatencyRegression(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	if err := tracker.Store(ctx, "lat", run(500, 4000)); err != nil {
		t.Fatal(err)
	}
	report, err := tracker.Analyze(ctx, "lat", run(700, 4000))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "REGRESSION_DETECTED" {
		t.Errorf("status = %s, want REGRESSION_DETECTED", report.Status)
	}
	if report.LatencyDeltaPct < 39 || report.LatencyDeltaPct > 41 {
		t.Errorf("latencyDeltaPct = %.1f, want ~40", report.LatencyDeltaPct)
	}
}

func TestAnalyzeDetectsThroughputRegression(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	if err := tracker.Store(ctx, "tp", run(500, 4000)); err != nil {
		t.Fatal(err)
	}
	report, err := tracker.Analyze(ctx, "tp", run(500, 3000))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "REGRESSION_DETECTED" {
		t.Errorf("status = %s, want REGRESSION_DETECTED", report.Status)
	}
}
