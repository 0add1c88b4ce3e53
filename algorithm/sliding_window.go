package algorithm

import (
	"context"
	_ "embed"
	"time"

	"github.com/google/uuid"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

//go:embed sliding_window.lua
var slidingWindowScript string

const (
	slidingWindowScriptName = "sliding_window"
	slidingWindowPrefix     = "ratelimit:sliding:"

	// slidingWindowTTLGrace keeps the set alive slightly past the window so
	// a late decision still sees the tail of the log.
	slidingWindowTTLGrace = 60
)

type slidingWindow struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

// NewSlidingWindow creates the log-based sliding window strategy and
// registers its script.
func NewSlidingWindow(st store.Store, now func() time.Time) Strategy {
	st.RegisterScript(slidingWindowScriptName, slidingWindowScript)
	return &slidingWindow{store: st, now: now, newID: uuid.NewString}
}

func (s *slidingWindow) Type() limitcfg.Algorithm { return limitcfg.SlidingWindow }

func (s *slidingWindow) Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error) {
	now := s.now()
	windowMillis := cfg.RefillPeriodSeconds * 1000

	tuple, err := s.store.ExecScript(ctx, slidingWindowScriptName,
		[]string{slidingWindowPrefix + key},
		cfg.Capacity, windowMillis, now.UnixMilli(), s.newID(),
		cfg.RefillPeriodSeconds+slidingWindowTTLGrace, tokens)
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
	remaining, err := tupleInt(tuple[1])
	if err != nil {
		return nil, checkError(s.Type(), key, err)
	}
	oldestMillis, err := tupleInt(tuple[2])
	if err != nil {
		return nil, checkError(s.Type(), key, err)
	}

	resetAt := now.Add(time.Duration(windowMillis) * time.Millisecond)
	if oldestMillis > 0 {
		resetAt = time.UnixMilli(oldestMillis + windowMillis)
	}

	d := &Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, remaining),
		ResetAt:   resetAt,
		Algorithm: s.Type(),
	}
	if !d.Allowed {
		d.RetryAfter = max(0, resetAt.Sub(now)/time.Second) * time.Second
	}
	return d, nil
}

func (s *slidingWindow) Reset(ctx context.Context, key string) error {
	return s.store.Delete(ctx, slidingWindowPrefix+key)
}
