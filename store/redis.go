package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection settings for the Redis-backed store.
// Populate from the process configuration.
type RedisConfig struct {
	Host           string
	Port           int
	Password       string
	DB             int
	CommandTimeout time.Duration
	PoolSize       int
	MinIdleConns   int
	MaxIdleConns   int
	PoolTimeout    time.Duration
}

// Redis is the Redis-backed implementation of Store.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewRedis creates a Redis store and verifies connectivity.
func NewRedis(cfg RedisConfig, log zerolog.Logger) (*Redis, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxIdleConns: cfg.MaxIdleConns,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client:  client,
		log:     log,
		scripts: make(map[string]*redis.Script),
	}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests with miniredis.
func NewRedisWithClient(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		log:     log,
		scripts: make(map[string]*redis.Script),
	}
}

// RegisterScript registers a Lua script under a name. Scripts run via
// EVALSHA with an EVAL fallback on the first call.
func (r *Redis) RegisterScript(name, src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[name] = redis.NewScript(src)
}

// ExecScript implements Store.
func (r *Redis) ExecScript(ctx context.Context, name string, keys []string, args ...any) ([]any, error) {
	r.mu.RLock()
	script, ok := r.scripts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown script %q", ErrScript, name)
	}

	result, err := script.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return nil, classify("exec "+name, err)
	}

	tuple, ok := result.([]any)
	if !ok {
		r.log.Error().Str("script", name).Type("result", result).Msg("script returned unexpected type")
		return nil, fmt.Errorf("%w: script %q returned %T", ErrScript, name, result)
	}
	return tuple, nil
}

// Scan implements Store.
func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify("scan", err)
	}
	return keys, nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return classify("delete", err)
	}
	return nil
}

// GetHash implements Store.
func (r *Redis) GetHash(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, classify("hgetall", err)
	}
	return fields, nil
}

// SetHash implements Store.
func (r *Redis) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return classify("hset", err)
	}
	return nil
}

// ListPush prepends a value to a list, trims it to maxLen entries, and
// refreshes the TTL.
func (r *Redis) ListPush(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, 0, maxLen-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return classify("lpush", err)
	}
	return nil
}

// ListRange returns the whole list, head first.
func (r *Redis) ListRange(ctx context.Context, key string) ([]string, error) {
	values, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, classify("lrange", err)
	}
	return values, nil
}

// TTL implements Store.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, classify("ttl", err)
	}
	return ttl, nil
}

// Ping implements Store.
func (r *Redis) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return 0, classify("ping", err)
	}
	return time.Since(start), nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}

// classify maps a go-redis error onto one of the two sentinel conditions.
// Script failures come back as redis.Error; everything else on the wire is
// treated as the store being unavailable.
func classify(op string, err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) && !errors.Is(err, redis.Nil) {
		if isTransport(redisErr.Error()) {
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, redisErr.Error())
		}
		return fmt.Errorf("%w: %s: %s", ErrScript, op, redisErr.Error())
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// isTransport catches server-side replies that indicate the instance cannot
// serve commands rather than a script fault.
func isTransport(msg string) bool {
	for _, marker := range []string{"LOADING", "READONLY", "CLUSTERDOWN", "MASTERDOWN"} {
		if strings.HasPrefix(msg, marker) {
			return true
		}
	}
	return false
}
