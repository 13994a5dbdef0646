// Package store holds the shared replay guard backed by Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const keyPrefix = "x402ui:replay:"

// RedisReplayGuard is an x402.ReplayGuard shared by every replica that
// points at the same Redis.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

var _ x402.ReplayGuard = (*RedisReplayGuard)(nil)

// NewRedis parses url, connects and pings the server.
func NewRedis(ctx context.Context, url string) (*RedisReplayGuard, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisReplayGuard(client), nil
}

// NewRedisReplayGuard wraps an existing client.
func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, prefix: keyPrefix}
}

// Claim implements x402.ReplayGuard with SET NX.
func (g *RedisReplayGuard) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+signature, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", signature, err)
	}
	return ok, nil
}

// Release implements x402.ReplayGuard.
func (g *RedisReplayGuard) Release(ctx context.Context, signature string) error {
	if err := g.client.Del(ctx, g.prefix+signature).Err(); err != nil {
		return fmt.Errorf("release %s: %w", signature, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (g *RedisReplayGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (g *RedisReplayGuard) Close() error {
	return g.client.Close()
}
