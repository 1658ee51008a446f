// Package blacklist implements the revoked-token index from spec §4.1: a
// shared Redis-backed store with a bounded in-process fallback used when the
// shared store is unavailable or unconfigured.
package blacklist

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
)

const defaultTTL = 24 * time.Hour

// Store determines whether a token identifier ("jti") is revoked. Implementations
// must treat a negative answer as "not known revoked", never as proof of validity.
type Store interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Close() error
}

type localEntry struct {
	expiresAt time.Time
	insertedAt time.Time
}

// Local is a bounded in-process Store. Entries are evicted by insertion
// order once the cap is exceeded. Expired entries are dropped when
// IsBlacklisted looks them up or when Sweep is called; Local runs no timer
// of its own and nothing in this module calls Sweep.
type Local struct {
	mu      sync.Mutex
	entries map[string]localEntry
	cap     int
	clock   clock.Clock
}

// NewLocal constructs a Local store with the given capacity (default 50000
// per spec §4.1 if cap <= 0).
func NewLocal(cap int, c clock.Clock) *Local {
	if cap <= 0 {
		cap = 50000
	}
	return &Local{entries: make(map[string]localEntry), cap: cap, clock: c}
}

// IsBlacklisted reports whether jti is present and not expired.
func (l *Local) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[jti]
	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && l.clock.Now().After(e.expiresAt) {
		delete(l.entries, jti)
		return false, nil
	}
	return true, nil
}

// Add inserts jti, evicting the oldest 10% by insertion order if the cap is
// exceeded. A no-op if expiresAt is already in the past.
func (l *Local) Add(_ context.Context, jti string, expiresAt time.Time) error {
	now := l.clock.Now()
	if !expiresAt.IsZero() && expiresAt.Before(now) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = localEntry{expiresAt: expiresAt, insertedAt: now}
	if len(l.entries) > l.cap {
		l.evictOldestLocked()
	}
	return nil
}

func (l *Local) evictOldestLocked() {
	type kv struct {
		jti string
		at  time.Time
	}
	ordered := make([]kv, 0, len(l.entries))
	for jti, e := range l.entries {
		ordered = append(ordered, kv{jti, e.insertedAt})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })
	drop := len(ordered) / 10
	if drop == 0 && len(ordered) > l.cap {
		drop = len(ordered) - l.cap
	}
	for i := 0; i < drop; i++ {
		delete(l.entries, ordered[i].jti)
	}
}

// Sweep drops entries whose expiry has passed. It runs only when a caller
// invokes it; no ticker in this module does.
func (l *Local) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for jti, e := range l.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(l.entries, jti)
		}
	}
}

// Close is a no-op for Local.
func (l *Local) Close() error { return nil }

// Size returns the current entry count, mostly for tests.
func (l *Local) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Redis is a shared Store backed by go-redis, falling back to a Local store
// on any error so that revocation checks favor availability over strict
// consistency (spec §7: "availability over strict consistency" is by design
// for the blacklist).
type Redis struct {
	client    *redis.Client
	keyPrefix string
	local     *Local
	clock     clock.Clock
	logger    *slog.Logger
}

// NewRedis builds a Redis-backed Store with keyPrefix applied to every key
// (the constant "forge:token:blacklist:" keeps it interoperable with the
// separate main system per spec §6), falling back to local on error.
func NewRedis(client *redis.Client, keyPrefix string, localCap int, c clock.Clock) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		local:     NewLocal(localCap, c),
		clock:     c,
		logger:    slog.Default().With("component", "token-blacklist"),
	}
}

func (r *Redis) key(jti string) string { return r.keyPrefix + jti }

// IsBlacklisted checks Redis first; any error degrades to the local store.
func (r *Redis) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		r.logger.Warn("blacklist shared-store lookup failed, degrading to local", "error", err)
		return r.local.IsBlacklisted(ctx, jti)
	}
	return n > 0, nil
}

// Add writes to Redis with a TTL derived from expiresAt, always also updating
// the local fallback so a later shared-store outage still sees recent adds.
func (r *Redis) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := defaultTTL
	if !expiresAt.IsZero() {
		if d := expiresAt.Sub(r.clock.Now()); d > 0 {
			ttl = d
		} else {
			return r.local.Add(ctx, jti, expiresAt)
		}
	}
	if err := r.client.SetEx(ctx, r.key(jti), "1", ttl).Err(); err != nil {
		r.logger.Warn("blacklist shared-store write failed, degrading to local", "error", err)
	}
	return r.local.Add(ctx, jti, expiresAt)
}

// Close releases the Redis client.
func (r *Redis) Close() error { return r.client.Close() }
