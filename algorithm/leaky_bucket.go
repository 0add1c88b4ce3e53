package algorithm

import (
	"context"
	_ "embed"
	"math"
	"time"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/store"
)

//go:embed leaky_bucket.lua
var leakyBucketScript string

const (
	leakyBucketScriptName = "leaky_bucket"
	leakyBucketPrefix     = "ratelimit:leaky:"
	leakyBucketTTLSeconds = 3600
)

type leakyBucket struct {
	store store.Store
	now   func() time.Time
}

// NewLeakyBucket creates the leaky bucket strategy and registers its script.
func NewLeakyBucket(st store.Store, now func() time.Time) Strategy {
	st.RegisterScript(leakyBucketScriptName, leakyBucketScript)
	return &leakyBucket{store: st, now: now}
}

func (l *leakyBucket) Type() limitcfg.Algorithm { return limitcfg.LeakyBucket }

func (l *leakyBucket) Check(ctx context.Context, key string, tokens int64, cfg limitcfg.Config) (*Decision, error) {
	now := l.now()

	tuple, err := l.store.ExecScript(ctx, leakyBucketScriptName,
		[]string{leakyBucketPrefix + key},
		cfg.Capacity, cfg.Rate(), now.UnixMilli(), tokens, leakyBucketTTLSeconds)
	if err != nil {
		return nil, checkError(l.Type(), key, err)
	}
	if err := expectLen(l.Type(), tuple, 3); err != nil {
		return nil, checkError(l.Type(), key, err)
	}

	allowed, err := tupleInt(tuple[0])
	if err != nil {
		return nil, checkError(l.Type(), key, err)
	}
	queue, err := tupleFloat(tuple[1])
	if err != nil {
		return nil, checkError(l.Type(), key, err)
	}
	wait, err := tupleFloat(tuple[2])
	if err != nil {
		return nil, checkError(l.Type(), key, err)
	}

	d := &Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, cfg.Capacity-int64(math.Ceil(queue))),
		ResetAt:   now.Add(cfg.Window()),
		Algorithm: l.Type(),
	}
	if !d.Allowed {
		retryAfter := math.Ceil(wait)
		// A zero leak rate cannot free capacity; clamp so the client backs
		// off instead of spinning.
		if retryAfter <= 0 || math.IsNaN(retryAfter) || math.IsInf(retryAfter, 0) {
			retryAfter = 1
		}
		d.RetryAfter = time.Duration(retryAfter) * time.Second
	}
	return d, nil
}

func (l *leakyBucket) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, leakyBucketPrefix+key)
}
