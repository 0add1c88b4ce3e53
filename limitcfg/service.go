package limitcfg

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/pattern"
	"github.com/nhalm/ratekit/store"
)

const (
	keyConfigPrefix     = "config:key:"
	patternConfigPrefix = "config:pattern:"

	configTTL = 30 * 24 * time.Hour
)

// Defaults supplies the configuration used when neither an exact key nor a
// pattern matches. The default algorithm is always the token bucket.
type Defaults struct {
	Capacity            int64
	RefillRate          float64
	RefillPeriodSeconds int64
}

// CacheOptions tunes the in-process exact-key cache.
type CacheOptions struct {
	TTL         time.Duration
	MaxSize     int
	EnableStats bool
}

// Observer receives cache and pattern resolution events. The metrics
// surface implements it; a nil observer drops them.
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordPatternHit()
	RecordPatternMiss()
}

// CacheStats is a snapshot of the exact-key cache counters.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Service resolves, saves, and deletes rate-limit configurations. The store
// owns the canonical configs; both in-process caches hold derived data only
// and can be rebuilt from the store at any time.
type Service struct {
	store    store.Store
	log      zerolog.Logger
	defaults Defaults

	cache       *expirable.LRU[string, Config]
	enableStats bool
	hits        atomic.Int64
	misses      atomic.Int64

	mu       sync.RWMutex
	patterns map[string]*pattern.Compiled

	observer Observer
}

// SetObserver attaches a resolution observer. Call before serving.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// NewService builds a resolver. Call Load before serving decisions so the
// compiled-pattern cache reflects the store.
func NewService(st store.Store, defaults Defaults, opts CacheOptions, log zerolog.Logger) *Service {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 10000
	}
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	return &Service{
		store:       st,
		log:         log,
		defaults:    defaults,
		cache:       expirable.NewLRU[string, Config](opts.MaxSize, nil, opts.TTL),
		enableStats: opts.EnableStats,
		patterns:    make(map[string]*pattern.Compiled),
	}
}

// Load populates the compiled-pattern cache from the store.
func (s *Service) Load(ctx context.Context) error {
	configs, err := s.GetAllPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load pattern configurations: %w", err)
	}

	compiled := make(map[string]*pattern.Compiled, len(configs))
	for _, cfg := range configs {
		p, err := pattern.Compile(cfg.KeyPattern, cfg.Priority)
		if err != nil {
			s.log.Warn().Err(err).Str("pattern", cfg.KeyPattern).Msg("skipping uncompilable pattern")
			continue
		}
		compiled[cfg.KeyPattern] = p
	}

	s.mu.Lock()
	s.patterns = compiled
	s.mu.Unlock()

	s.log.Info().Int("patterns", len(compiled)).Msg("loaded pattern configurations")
	return nil
}

// GetConfig resolves the configuration governing a key: in-process cache,
// exact key, best pattern, then the default. Every positive result is
// cached. Store faults during resolution degrade to the default rather than
// failing the decision.
func (s *Service) GetConfig(ctx context.Context, key string) Config {
	if cached, ok := s.cache.Get(key); ok {
		if s.enableStats {
			s.hits.Add(1)
		}
		if s.observer != nil {
			s.observer.RecordCacheHit()
		}
		return cached
	}
	if s.enableStats {
		s.misses.Add(1)
	}
	if s.observer != nil {
		s.observer.RecordCacheMiss()
	}

	if cfg, ok := s.fetch(ctx, keyConfigPrefix+key); ok {
		s.cache.Add(key, cfg)
		return cfg
	}

	if cfg, ok := s.matchPattern(ctx, key); ok {
		if s.observer != nil {
			s.observer.RecordPatternHit()
		}
		s.cache.Add(key, cfg)
		return cfg
	}

	if s.observer != nil {
		s.observer.RecordPatternMiss()
	}
	cfg := s.defaultConfig()
	s.cache.Add(key, cfg)
	return cfg
}

// SaveKeyConfig validates and stores an exact-key configuration.
func (s *Service) SaveKeyConfig(ctx context.Context, key string, cfg Config) error {
	cfg.KeyPattern = key
	if cfg.Priority < 0 {
		cfg.Priority = 0
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	if err := s.store.SetHash(ctx, keyConfigPrefix+key, encode(cfg), configTTL); err != nil {
		return fmt.Errorf("save key config %q: %w", key, err)
	}
	s.cache.Remove(key)

	s.log.Info().Str("key", key).Str("algorithm", string(cfg.Algorithm)).Msg("saved key configuration")
	return nil
}

// SavePatternConfig validates and stores a pattern configuration. A negative
// priority is replaced by the auto-computed one. Because a new pattern can
// reroute any key, the whole exact-key cache is dropped.
func (s *Service) SavePatternConfig(ctx context.Context, pat string, cfg Config) error {
	if cfg.Priority < 0 {
		cfg.Priority = pattern.CalculatePriority(pat)
	}
	cfg.KeyPattern = pat
	if err := cfg.Validate(); err != nil {
		return err
	}

	compiled, err := pattern.Compile(pat, cfg.Priority)
	if err != nil {
		return err
	}

	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	if err := s.store.SetHash(ctx, patternConfigPrefix+pat, encode(cfg), configTTL); err != nil {
		return fmt.Errorf("save pattern config %q: %w", pat, err)
	}

	s.mu.Lock()
	s.patterns[pat] = compiled
	s.mu.Unlock()
	s.cache.Purge()

	s.log.Info().Str("pattern", pat).Int("priority", cfg.Priority).Msg("saved pattern configuration")
	return nil
}

// DeleteKeyConfig removes an exact-key configuration.
func (s *Service) DeleteKeyConfig(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, keyConfigPrefix+key); err != nil {
		return fmt.Errorf("delete key config %q: %w", key, err)
	}
	s.cache.Remove(key)
	s.log.Info().Str("key", key).Msg("deleted key configuration")
	return nil
}

// DeletePatternConfig removes a pattern configuration and drops the whole
// exact-key cache, since any key may have resolved through it.
func (s *Service) DeletePatternConfig(ctx context.Context, pat string) error {
	if err := s.store.Delete(ctx, patternConfigPrefix+pat); err != nil {
		return fmt.Errorf("delete pattern config %q: %w", pat, err)
	}

	s.mu.Lock()
	delete(s.patterns, pat)
	s.mu.Unlock()
	s.cache.Purge()

	s.log.Info().Str("pattern", pat).Msg("deleted pattern configuration")
	return nil
}

// GetAllPatterns scans and decodes every stored pattern configuration.
func (s *Service) GetAllPatterns(ctx context.Context) ([]Config, error) {
	keys, err := s.store.Scan(ctx, patternConfigPrefix)
	if err != nil {
		return nil, err
	}

	configs := make([]Config, 0, len(keys))
	for _, storeKey := range keys {
		if cfg, ok := s.fetch(ctx, storeKey); ok {
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}

// Reload drops both caches and rebuilds the compiled-pattern cache from the
// store. Counters in flight are unaffected.
func (s *Service) Reload(ctx context.Context) error {
	s.cache.Purge()
	return s.Load(ctx)
}

// Stats returns a snapshot of the exact-key cache counters.
func (s *Service) Stats() CacheStats {
	return CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Size:   s.cache.Len(),
	}
}

func (s *Service) matchPattern(ctx context.Context, key string) (Config, bool) {
	s.mu.RLock()
	candidates := make([]*pattern.Compiled, 0, len(s.patterns))
	for _, p := range s.patterns {
		candidates = append(candidates, p)
	}
	s.mu.RUnlock()

	best := pattern.FindBestMatch(key, candidates)
	if best == nil {
		return Config{}, false
	}
	return s.fetch(ctx, patternConfigPrefix+best.Pattern())
}

// fetch reads and decodes a config hash. Malformed hashes are logged and
// treated as absent so resolution falls through.
func (s *Service) fetch(ctx context.Context, storeKey string) (Config, bool) {
	fields, err := s.store.GetHash(ctx, storeKey)
	if err != nil {
		s.log.Warn().Err(err).Str("storeKey", storeKey).Msg("config fetch failed")
		return Config{}, false
	}
	if len(fields) == 0 {
		return Config{}, false
	}

	cfg, err := decode(storeKey, fields)
	if err != nil {
		s.log.Warn().Err(err).Str("storeKey", storeKey).Msg("malformed config hash")
		return Config{}, false
	}
	return cfg, true
}

func (s *Service) defaultConfig() Config {
	return Config{
		Algorithm:           TokenBucket,
		Capacity:            s.defaults.Capacity,
		RefillRate:          s.defaults.RefillRate,
		RefillPeriodSeconds: s.defaults.RefillPeriodSeconds,
	}
}

func encode(cfg Config) map[string]string {
	fields := map[string]string{
		"algorithm":           string(cfg.Algorithm),
		"capacity":            strconv.FormatInt(cfg.Capacity, 10),
		"refillRate":          strconv.FormatFloat(cfg.RefillRate, 'f', -1, 64),
		"refillPeriodSeconds": strconv.FormatInt(cfg.RefillPeriodSeconds, 10),
		"priority":            strconv.Itoa(cfg.Priority),
	}
	if cfg.KeyPattern != "" {
		fields["keyPattern"] = cfg.KeyPattern
	}
	return fields
}

func decode(storeKey string, fields map[string]string) (Config, error) {
	algorithm, err := ParseAlgorithm(fields["algorithm"])
	if err != nil {
		return Config{}, err
	}
	capacity, err := strconv.ParseInt(fields["capacity"], 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("capacity: %w", err)
	}
	refillRate, err := strconv.ParseFloat(fields["refillRate"], 64)
	if err != nil {
		return Config{}, fmt.Errorf("refillRate: %w", err)
	}
	refillPeriod, err := strconv.ParseInt(fields["refillPeriodSeconds"], 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("refillPeriodSeconds: %w", err)
	}

	priority := 0
	if raw, ok := fields["priority"]; ok {
		if priority, err = strconv.Atoi(raw); err != nil {
			return Config{}, fmt.Errorf("priority: %w", err)
		}
	}

	// Older writes omitted keyPattern; derive it from the store key.
	keyPattern := fields["keyPattern"]
	if keyPattern == "" {
		switch {
		case len(storeKey) > len(patternConfigPrefix) && storeKey[:len(patternConfigPrefix)] == patternConfigPrefix:
			keyPattern = storeKey[len(patternConfigPrefix):]
		case len(storeKey) > len(keyConfigPrefix) && storeKey[:len(keyConfigPrefix)] == keyConfigPrefix:
			keyPattern = storeKey[len(keyConfigPrefix):]
		}
	}

	return Config{
		KeyPattern:          keyPattern,
		Algorithm:           algorithm,
		Capacity:            capacity,
		RefillRate:          refillRate,
		RefillPeriodSeconds: refillPeriod,
		Priority:            priority,
	}, nil
}
