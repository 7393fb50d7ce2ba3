package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fabfab/survey-agent/logging"
)

// ErrCacheMiss is returned by Cache.Get when no entry exists.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores tool observations between runs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type RedisCache struct {
	rdb *goredis.Client
}

// NewRedisCache connects to the Redis instance at rawURL and pings it.
func NewRedisCache(ctx context.Context, rawURL string) (*RedisCache, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

type cachedTool struct {
	Tool
	cache Cache
	ttl   time.Duration
	log   *logging.Logger
}

// WithCache memoizes a tool's observations. Cache failures fall through to
// the wrapped tool.
func WithCache(t Tool, cache Cache, ttl time.Duration, log *logging.Logger) Tool {
	if cache == nil {
		return t
	}
	if log == nil {
		log = logging.Nop()
	}
	return &cachedTool{Tool: t, cache: cache, ttl: ttl, log: log}
}

func (c *cachedTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	key := cacheKey(c.Name(), args)
	if val, err := c.cache.Get(ctx, key); err == nil {
		c.log.Debug("tool cache hit", "tool", c.Name())
		return val, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("tool cache read failed", "tool", c.Name(), "error", err)
	}

	out, err := c.Tool.Call(ctx, args)
	if err != nil {
		return out, err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.log.Warn("tool cache write failed", "tool", c.Name(), "error", err)
	}
	return out, nil
}

func cacheKey(name string, args json.RawMessage) string {
	sum := sha256.Sum256(append([]byte(name+"\x00"), args...))
	return "survey-agent:tool:" + hex.EncodeToString(sum[:])
}
