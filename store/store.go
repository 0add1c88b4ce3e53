// Package store provides the shared-state adapter for the rate limiter.
//
// All bucket mutation happens through named server-side Lua scripts executed
// atomically on Redis; the adapter is the only layer that talks to the store.
// Failures are classified into two sentinel conditions so callers can apply
// the configured failure policy: ErrUnavailable for transport faults and
// timeouts, ErrScript for logic failures inside a script.
//
// The adapter performs no retries. Backpressure is delegated to the
// connection pool; exhausting it surfaces as ErrUnavailable.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel conditions for store failures. Check with errors.Is.
var (
	// ErrUnavailable covers timeouts, refused connections, and pool
	// exhaustion. The decision orchestrator maps it to the fail-open or
	// fail-closed policy.
	ErrUnavailable = errors.New("store unavailable")

	// ErrScript covers failures raised by a server-side script or an
	// unexpected script result shape.
	ErrScript = errors.New("store script error")
)

// Store is the contract the rate limiter core consumes. Implementations must
// be safe for concurrent use.
type Store interface {
	// RegisterScript makes a Lua script available to ExecScript under a name.
	// Registration happens at startup, before the first decision.
	RegisterScript(name, src string)

	// ExecScript runs the named registered script atomically with the given
	// keys and arguments and returns the raw result tuple.
	ExecScript(ctx context.Context, name string, keys []string, args ...any) ([]any, error)

	// Scan returns all keys with the given prefix. Uses cursor iteration,
	// never a blocking KEYS call.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// GetHash reads all fields of a hash. A missing key yields an empty map.
	GetHash(ctx context.Context, key string) (map[string]string, error)

	// SetHash writes the given fields and refreshes the key's TTL.
	SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// TTL reports the remaining lifetime of a key. Returns a negative
	// duration when the key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping tests liveness and reports the observed round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Close releases the underlying connections.
	Close() error
}
