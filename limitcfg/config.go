// Package limitcfg holds rate-limit configurations and resolves the
// configuration governing a bucket key: exact match first, then the
// highest-priority wildcard pattern, then the process default.
package limitcfg

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm identifies one of the five rate-limit disciplines.
type Algorithm string

const (
	TokenBucket          Algorithm = "TOKEN_BUCKET"
	SlidingWindow        Algorithm = "SLIDING_WINDOW"
	SlidingWindowCounter Algorithm = "SLIDING_WINDOW_COUNTER"
	FixedWindow          Algorithm = "FIXED_WINDOW"
	LeakyBucket          Algorithm = "LEAKY_BUCKET"
)

// Algorithms lists every supported algorithm tag.
var Algorithms = []Algorithm{
	TokenBucket,
	SlidingWindow,
	SlidingWindowCounter,
	FixedWindow,
	LeakyBucket,
}

// ParseAlgorithm converts a stored or submitted tag into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown algorithm %q", s)
}

// MaxSlidingWindowCapacity bounds the log-based sliding window, which keeps
// one sorted-set member per admitted token.
const MaxSlidingWindowCapacity = 10000

// Config is a rate-limit configuration as stored under config:key:<key> or
// config:pattern:<pattern>. Saving over an existing config replaces it,
// algorithm included; the save paths do not compare against the stored
// algorithm.
type Config struct {
	KeyPattern          string    `json:"keyPattern,omitempty"`
	Algorithm           Algorithm `json:"algorithm"`
	Capacity            int64     `json:"capacity"`
	RefillRate          float64   `json:"refillRate"`
	RefillPeriodSeconds int64     `json:"refillPeriodSeconds"`
	Priority            int       `json:"priority"`
	CreatedAt           time.Time `json:"createdAt,omitzero"`
	UpdatedAt           time.Time `json:"updatedAt,omitzero"`
}

// Validate checks the numeric invariants shared by all algorithms.
func (c *Config) Validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if c.RefillRate <= 0 {
		return errors.New("refill rate must be positive")
	}
	if c.RefillPeriodSeconds <= 0 {
		return errors.New("refill period must be positive")
	}
	if c.Algorithm == SlidingWindow && c.Capacity > MaxSlidingWindowCapacity {
		return fmt.Errorf("sliding window capacity must be <= %d", MaxSlidingWindowCapacity)
	}
	return nil
}

// Rate returns the refill (or leak) rate in tokens per second.
func (c *Config) Rate() float64 {
	return c.RefillRate / float64(c.RefillPeriodSeconds)
}

// Window returns the refill period as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.RefillPeriodSeconds) * time.Second
}
