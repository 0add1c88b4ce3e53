package algorithm

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

//go:embed fixed_window.lua
var fixedWindowScript string

const (
	fixedWindowScriptName = "fixed_window"
	fixedWindowPrefix     = "ratelimit:fixed:"
)

type fixedWindow struct {
	store store.Store
	now   func() time.Time
}

// NewFixedWindow creates the fixed window strategy and registers its script.
func NewFixedWindow(st store.Store, now func() time.Time) Strategy {
	st.RegisterScript(fixedWindowScriptName, fixedWindowScript)
	return &fixedWindow{store: st, now: now}
}

func (f *fixedWindow) Type() limitcfg.Algorithm { return limitcfg.FixedWindow }

func (f *fixedWindow) Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error) {
	now := f.now()
	nowSeconds := now.Unix()
	window := cfg.RefillPeriodSeconds
	windowStart := nowSeconds - (nowSeconds % window)

	tuple, err := f.store.ExecScript(ctx, fixedWindowScriptName,
		[]string{fmt.Sprintf("%s%s:%d", fixedWindowPrefix, key, windowStart)},
		cfg.Capacity, window, tokens)
	if err != nil {
		return nil, checkError(f.Type(), key, err)
	}
	if err := expectLen(f.Type(), tuple, 2); err != nil {
		return nil, checkError(f.Type(), key, err)
	}

	allowed, err := tupleInt(tuple[0])
	if err != nil {
		return nil, checkError(f.Type(), key, err)
	}
	remaining, err := tupleInt(tuple[1])
	if err != nil {
		return nil, checkError(f.Type(), key, err)
	}

	windowEnd := windowStart + window
	d := &Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, remaining),
		ResetAt:   time.Unix(windowEnd, 0),
		Algorithm: f.Type(),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(windowEnd-nowSeconds) * time.Second
	}
	return d, nil
}

// Reset removes every window counter for the key.
func (f *fixedWindow) Reset(ctx context.Context, key string) error {
	keys, err := f.store.Scan(ctx, fixedWindowPrefix+key+":")
	if err != nil {
		return err
	}
	return f.store.Delete(ctx, keys...)
}
