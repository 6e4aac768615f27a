package player

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

// Guard grants at most one holder per key. A held key expires after its TTL
// even if it is never released.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LearnerKey derives a stable, non-reversible key from a bearer token so
// guard keys and event rows never carry the token itself.
func LearnerKey(token string) string {
	if token == "" {
		return "anonymous"
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// MemoryGuard is a process-local Guard driven by a Clock.
type MemoryGuard struct {
	clock clock.Clock

	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemoryGuard(c clock.Clock) *MemoryGuard {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryGuard{clock: c, held: make(map[string]time.Time)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
	return nil
}

// Held reports whether key is currently held.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.held[key]
	return ok && g.clock.Now().Before(exp)
}

// releaseScript deletes the key only if this guard still owns it, so a
// holder whose TTL lapsed cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares in-flight state across processes and browser tabs
// through Redis SET NX PX.
type RedisGuard struct {
	client *redis.Client
	prefix string
	owner  string
}

// NewRedisGuard creates a guard whose keys live under prefix.
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "player:inflight"
	}
	return &RedisGuard{client: client, prefix: prefix, owner: uuid.NewString()}
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + ":" + k
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(key), g.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(key)}, g.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
