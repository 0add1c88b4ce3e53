package algorithm

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

//go:embed sliding_window_counter.lua
var slidingWindowCounterScript string

const (
	slidingWindowCounterScriptName = "sliding_window_counter"
	slidingWindowCounterPrefix     = "ratelimit:swc:"
)

type slidingWindowCounter struct {
	store store.Store
	now   func() time.Time
}

// NewSlidingWindowCounter creates the two-counter sliding window strategy
// and registers its script.
func NewSlidingWindowCounter(st store.Store, now func() time.Time) Strategy {
	st.RegisterScript(slidingWindowCounterScriptName, slidingWindowCounterScript)
	return &slidingWindowCounter{store: st, now: now}
}

func (s *slidingWindowCounter) Type() limitcfg.Algorithm { return limitcfg.SlidingWindowCounter }

func (s *slidingWindowCounter) Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error) {
	now := s.now()
	nowSeconds := now.Unix()
	window := cfg.RefillPeriodSeconds
	currentStart := nowSeconds - (nowSeconds % window)
	previousStart := currentStart - window

	tuple, err := s.store.ExecScript(ctx, slidingWindowCounterScriptName,
		[]string{
			fmt.Sprintf("%s%s:%d", slidingWindowCounterPrefix, key, currentStart),
			fmt.Sprintf("%s%s:%d", slidingWindowCounterPrefix, key, previousStart),
		},
		cfg.Capacity, window, nowSeconds, tokens)
	if err != nil {
		return nil, checkError(s.Type(), key, err)
	}
	if err := expectLen(s.Type(), tuple, 3); err != nil {
		return nil, checkError(s.Type(), key, err)
	}

	allowed, err := tupleInt(tuple[0])
	if err != nil {
		return nil, checkError(s.Type(), key, err)
	}
	weighted, err := tupleFloat(tuple[1])
	if err != nil {
		return nil, checkError(s.Type(), key, err)
	}

	windowEnd := currentStart + window
	d := &Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, cfg.Capacity-int64(math.Ceil(weighted))),
		ResetAt:   time.Unix(windowEnd, 0),
		Algorithm: s.Type(),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(windowEnd-nowSeconds) * time.Second
	}
	return d, nil
}

// Reset removes the current and any previous window counters for the key.
func (s *slidingWindowCounter) Reset(ctx context.Context, key string) error {
	keys, err := s.store.Scan(ctx, slidingWindowCounterPrefix+key+":")
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, keys...)
}
