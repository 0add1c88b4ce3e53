// Package health reports whether the decision service can reach its store
// fast enough to be useful. Slow store round-trips degrade health before
// they start tripping command timeouts.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/store"
)

// Status is the overall health classification.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const (
	degradedLatency = 50 * time.Millisecond
	downLatency     = 100 * time.Millisecond
)

// Report is the health probe payload.
type Report struct {
	Status     Status `json:"status"`
	LatencyMs  int64  `json:"latencyMs"`
	ActiveKeys int    `json:"activeKeys"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Checker probes the store.
type Checker struct {
	store store.Store
	log   zerolog.Logger
}

// NewChecker builds a health checker over the given store.
func NewChecker(st store.Store, log zerolog.Logger) *Checker {
	return &Checker{store: st, log: log}
}

// Check pings the store and counts active bucket keys.
func (c *Checker) Check(ctx context.Context) Report {
	latency, err := c.store.Ping(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("health probe cannot reach store")
		return Report{Status: StatusDown, Error: "cannot reach store"}
	}

	active := 0
	if keys, err := c.store.Scan(ctx, "ratelimit:"); err == nil {
		active = len(keys)
	}

	report := Report{
		Status:     StatusUp,
		LatencyMs:  latency.Milliseconds(),
		ActiveKeys: active,
	}
	switch {
	case latency > downLatency:
		report.Status = StatusDown
		report.Error = fmt.Sprintf("store latency %dms over %dms threshold",
			latency.Milliseconds(), downLatency.Milliseconds())
	case latency > degradedLatency:
		report.Status = StatusDegraded
		report.Warning = fmt.Sprintf("store latency %dms approaching threshold",
			latency.Milliseconds())
	}
	return report
}
