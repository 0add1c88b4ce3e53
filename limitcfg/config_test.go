package limitcfg

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	base := Config{
		Algorithm:           TokenBucket,
		Capacity:            10,
		RefillRate:          5,
		RefillPeriodSeconds: 60,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, true},
		{"negative refill rate", func(c *Config) { c.RefillRate = -1 }, true},
		{"zero period", func(c *Config) { c.RefillPeriodSeconds = 0 }, true},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "GUESSWORK" }, true},
		{"sliding window at bound", func(c *Config) {
			c.Algorithm = SlidingWindow
			c.Capacity = MaxSlidingWindowCapacity
		}, false},
		{"sliding window over bound", func(c *Config) {
			c.Algorithm = SlidingWindow
			c.Capacity = MaxSlidingWindowCapacity + 1
		}, true},
		{"other algorithms ignore the bound", func(c *Config) {
			c.Algorithm = FixedWindow
			c.Capacity = MaxSlidingWindowCapacity + 1
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range Algorithms {
		got, err := ParseAlgorithm(string(alg))
		if err != nil || got != alg {
			t.Errorf("ParseAlgorithm(%s) = %v, %v", alg, got, err)
		}
	}
	if _, err := ParseAlgorithm("token_bucket"); err == nil {
		t.Error("algorithm tags are case sensitive")
	}
}

func TestRateAndWindow(t *testing.T) {
	cfg := Config{Capacity: 10, RefillRate: 30, RefillPeriodSeconds: 60}
	if got := cfg.Rate(); got != 0.5 {
		t.Errorf("Rate() = %v, want 0.5", got)
	}
	if got := cfg.Window(); got != time.Minute {
		t.Errorf("Window() = %v, want 1m", got)
	}
}
