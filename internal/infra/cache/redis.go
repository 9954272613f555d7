package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and logs connection diagnostics.
// A failed ping is logged, not returned: the cache degrades to misses.
func NewRedisClient(ctx context.Context, opts RedisOptions, log *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rdb.Ping(pingCtx).Err()
	log = log.With(zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	if err != nil {
		log.Warn("redis: connection failed", zap.Error(err), zap.Duration("ping_rtt", time.Since(start)))
	} else {
		log.Info("redis: connection established", zap.Duration("ping_rtt", time.Since(start)))
	}
	return rdb
}

// Redis is a JSON-encoded TTL cache on top of a shared Redis client.
// Errors are logged and reported as misses so callers fall through to the
// upstream.
type Redis[T any] struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedis creates a Redis cache whose keys live under prefix.
func NewRedis[T any](rdb *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *Redis[T] {
	return &Redis[T]{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log.Named("cache").With(zap.String("prefix", prefix)),
	}
}

func (c *Redis[T]) key(k string) string {
	return c.prefix + ":" + k
}

// Get retrieves and decodes a value.
func (c *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		c.log.Warn("redis decode failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

// Set encodes and stores a value with the configured TTL.
func (c *Redis[T]) Set(ctx context.Context, key string, value T) {
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("redis encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.key(key), b, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// SetIfAbsent stores value only when key is missing (SET NX). On Redis
// errors it reports true so a duplicate check never blocks delivery.
func (c *Redis[T]) SetIfAbsent(ctx context.Context, key string, value T) bool {
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("redis encode failed", zap.String("key", key), zap.Error(err))
		return true
	}
	ok, err := c.rdb.SetNX(ctx, c.key(key), b, c.ttl).Result()
	if err != nil {
		c.log.Warn("redis setnx failed", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Delete removes a value.
func (c *Redis[T]) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.Warn("redis delete failed", zap.String("key", key), zap.Error(err))
	}
}
