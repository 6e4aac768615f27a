// Package cache provides the Redis client shared by the completion guard.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "player"

// Config holds client settings. Zero values use the defaults.
type Config struct {
	URL          string
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Cache wraps a Redis client and the key namespace of this service.
type Cache struct {
	Client *redis.Client
	prefix string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

func clientOptions(cfg Config) (*redis.Options, error) {
	opts, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = durationOr(cfg.DialTimeout, 5*time.Second)
	opts.ReadTimeout = durationOr(cfg.ReadTimeout, 3*time.Second)
	opts.WriteTimeout = durationOr(cfg.WriteTimeout, 3*time.Second)
	return opts, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// New creates a cache client and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	prefix := strings.Trim(cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Cache{Client: client, prefix: prefix}, nil
}

// Key joins parts under the service's key prefix.
func (c *Cache) Key(parts ...string) string {
	return strings.Join(append([]string{c.prefix}, parts...), ":")
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
