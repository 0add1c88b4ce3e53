package algorithm

import (
	"context"
	_ "embed"
	"math"
	"time"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

//go:embed token_bucket.lua
var tokenBucketScript string

const (
	tokenBucketScriptName = "token_bucket"
	tokenBucketPrefix     = "ratelimit:bucket:"
	tokenBucketTTLSeconds = 3600
)

type tokenBucket struct {
	store store.Store
	now   func() time.Time
}

// NewTokenBucket creates the token bucket strategy and registers its script.
func NewTokenBucket(st store.Store, now func() time.Time) Strategy {
	st.RegisterScript(tokenBucketScriptName, tokenBucketScript)
	return &tokenBucket{store: st, now: now}
}

func (t *tokenBucket) Type() limitcfg.Algorithm { return limitcfg.TokenBucket }

func (t *tokenBucket) Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error) {
	now := t.now()

	tuple, err := t.store.ExecScript(ctx, tokenBucketScriptName,
		[]string{tokenBucketPrefix + key},
		tokens, cfg.Capacity, cfg.Rate(), now.UnixMilli(), tokenBucketTTLSeconds)
	if err != nil {
		return nil, checkError(t.Type(), key, err)
	}
	if err := expectLen(t.Type(), tuple, 3); err != nil {
		return nil, checkError(t.Type(), key, err)
	}

	allowed, err := tupleInt(tuple[0])
	if err != nil {
		return nil, checkError(t.Type(), key, err)
	}
	remaining, err := tupleFloat(tuple[1])
	if err != nil {
		return nil, checkError(t.Type(), key, err)
	}
	retryAfter, err := tupleFloat(tuple[2])
	if err != nil {
		return nil, checkError(t.Type(), key, err)
	}

	d := &Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, int64(math.Floor(remaining))),
		ResetAt:   now.Add(cfg.Window()),
		Algorithm: t.Type(),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(math.Ceil(retryAfter)) * time.Second
	}
	return d, nil
}

func (t *tokenBucket) Reset(ctx context.Context, key string) error {
	return t.store.Delete(ctx, tokenBucketPrefix+key)
}
