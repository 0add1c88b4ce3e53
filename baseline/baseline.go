// Package baseline keeps a short history of benchmark results in the store
// and flags performance regressions against the most recent run. The load
// generator that produces results lives outside the service; this package
// only stores, lists, and compares.
package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "perf:baseline:"
	maxHistory = 10
	historyTTL = 30 * 24 * time.Hour

	latencyRegressionPct    = 0.20
	throughputRegressionPct = 0.15
)

// LatencyStats summarises the latency distribution of a benchmark run.
type LatencyStats struct {
	MinMicros int64   `json:"minMicros"`
	MaxMicros int64   `json:"maxMicros"`
	AvgMicros float64 `json:"avgMicros"`
	P50Micros int64   `json:"p50Micros"`
	P95Micros int64   `json:"p95Micros"`
	P99Micros int64   `json:"p99Micros"`
}

// Result is one benchmark run as submitted by the external runner.
type Result struct {
	Algorithm       string        `json:"algorithm"`
	TotalRequests   int64         `json:"totalRequests"`
	AllowedRequests int64         `json:"allowedRequests"`
	DeniedRequests  int64         `json:"deniedRequests"`
	ThroughputRPS   float64       `json:"throughputRps"`
	Latency         *LatencyStats `json:"latency,omitempty"`
	DurationMs      int64         `json:"durationMs"`
	ErrorRate       float64       `json:"errorRate"`
}

// Report compares a run against the stored baseline.
type Report struct {
	TestName           string  `json:"testName"`
	Status             string  `json:"status"` // BASELINE | OK | REGRESSION_DETECTED
	Message            string  `json:"message"`
	Previous           *Result `json:"previousResult,omitempty"`
	Current            *Result `json:"currentResult,omitempty"`
	LatencyDeltaPct    float64 `json:"latencyDeltaPct"`
	ThroughputDeltaPct float64 `json:"throughputDeltaPct"`
}

// listStore is the slice of the store adapter the baseline tracker needs.
type listStore interface {
	ListPush(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	ListRange(ctx context.Context, key string) ([]string, error)
}

// Tracker stores and analyses baselines.
type Tracker struct {
	store listStore
	log   zerolog.Logger
}

// NewTracker builds a baseline tracker.
func NewTracker(st listStore, log zerolog.Logger) *Tracker {
	return &Tracker{store: st, log: log}
}

// Store prepends a result to the test's history, keeping the newest
// maxHistory entries.
func (t *Tracker) Store(ctx context.Context, testName string, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode baseline result: %w", err)
	}
	if err := t.store.ListPush(ctx, keyPrefix+testName, string(payload), maxHistory, historyTTL); err != nil {
		return fmt.Errorf("store baseline %q: %w", testName, err)
	}
	return nil
}

// History returns the stored runs, newest first. Entries that fail to
// decode are skipped.
func (t *Tracker) History(ctx context.Context, testName string) ([]Result, error) {
	raw, err := t.store.ListRange(ctx, keyPrefix+testName)
	if err != nil {
		return nil, fmt.Errorf("load baseline history %q: %w", testName, err)
	}

	history := make([]Result, 0, len(raw))
	for _, item := range raw {
		var r Result
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			t.log.Warn().Err(err).Str("test", testName).Msg("skipping undecodable baseline entry")
			continue
		}
		history = append(history, r)
	}
	return history, nil
}

// Analyze compares the latest run against the newest stored baseline. The
// first run for a test becomes the baseline.
func (t *Tracker) Analyze(ctx context.Context, testName string, latest Result) (Report, error) {
	history, err := t.History(ctx, testName)
	if err != nil {
		return Report{}, err
	}
	if len(history) == 0 {
		if err := t.Store(ctx, testName, latest); err != nil {
			return Report{}, err
		}
		return Report{
			TestName: testName,
			Status:   "BASELINE",
			Message:  "no previous baseline, this run becomes the baseline",
			Current:  &latest,
		}, nil
	}

	prev := history[0]

	var latencyDelta float64
	if prev.Latency != nil && latest.Latency != nil && prev.Latency.P95Micros > 0 {
		latencyDelta = float64(latest.Latency.P95Micros-prev.Latency.P95Micros) /
			float64(prev.Latency.P95Micros)
	}

	var throughputDelta float64
	if prev.ThroughputRPS > 0 && latest.ThroughputRPS >= 0 {
		throughputDelta = (prev.ThroughputRPS - latest.ThroughputRPS) / prev.ThroughputRPS
	}

	latencyRegressed := latencyDelta > latencyRegressionPct
	throughputRegressed := throughputDelta > throughputRegressionPct

	report := Report{
		TestName:           testName,
		Previous:           &prev,
		Current:            &latest,
		LatencyDeltaPct:    latencyDelta * 100,
		ThroughputDeltaPct: -throughputDelta * 100,
	}

	if latencyRegressed || throughputRegressed {
		report.Status = "REGRESSION_DETECTED"
		var issues []string
		if latencyRegressed && prev.Latency != nil && latest.Latency != nil {
			issues = append(issues, fmt.Sprintf("p95 latency +%.1f%% (%dµs to %dµs)",
				latencyDelta*100, prev.Latency.P95Micros, latest.Latency.P95Micros))
		}
		if throughputRegressed {
			issues = append(issues, fmt.Sprintf("throughput -%.1f%% (%.0f to %.0f rps)",
				throughputDelta*100, prev.ThroughputRPS, latest.ThroughputRPS))
		}
		report.Message = strings.Join(issues, "; ")
	} else {
		report.Status = "OK"
		report.Message = fmt.Sprintf("latency delta %.1f%%, throughput delta %.1f%%, within thresholds",
			latencyDelta*100, -throughputDelta*100)
	}
	return report, nil
}
