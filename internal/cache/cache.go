// Package cache provides a small byte store for provider responses,
// backed by Redis when available and an in-process map otherwise.
package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tunepipe/internal/logger"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

// Store caches small values with a TTL. When no Redis address is
// configured, or Redis is unreachable at startup, it degrades to an
// in-memory map and the server keeps working.
type Store struct {
	client *redis.Client // nil when using memory fallback
	logger *logger.Logger

	mu  sync.RWMutex
	mem map[string]memEntry
}

// New connects to Redis at addr, falling back to in-memory storage when
// addr is empty or the ping fails.
func New(addr, password string, db int, log *logger.Logger) *Store {
	s := &Store{
		logger: log,
		mem:    make(map[string]memEntry),
	}

	if addr == "" {
		return s
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available, using in-memory cache: %v", err)
		client.Close()
		return s
	}

	log.Info("redis connected: %s", addr)
	s.client = client
	return s
}

// Get returns the cached value for key, or false if absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.client != nil {
		val, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil, false
		}
		return val, true
	}

	s.mu.RLock()
	entry, ok := s.mem[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

// Set stores value under key for ttl. Errors are logged, not returned:
// the cache is strictly an optimization.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.client != nil {
		if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
			s.logger.Debug("cache set failed for %s: %v", key, err)
		}
		return
	}

	s.mu.Lock()
	s.mem[key] = memEntry{data: value, expires: time.Now().Add(ttl)}
	s.prune()
	s.mu.Unlock()
}

// prune drops expired entries. Called with mu held.
func (s *Store) prune() {
	now := time.Now()
	for k, e := range s.mem {
		if now.After(e.expires) {
			delete(s.mem, k)
		}
	}
}

// Close releases the Redis connection if one is open.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
