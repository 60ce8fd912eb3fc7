// Package memory implements the db.Store facade on an in-process LRU cache.
// It backs local development and tests where no external store runs; the LRU
// bound keeps an unattended instance from growing without limit.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geodex-cloud/geodex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// DefaultSize is the entry cap used when no size is configured.
const DefaultSize = 65536

type entry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// Store implements db.Store in memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
}

// NewStore creates a memory store holding at most size entries.
func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Store{cache: c}, nil
}

// Ping always succeeds for an in-process store.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all entries.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

// WaitForReady is immediate for an in-process store.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, time.Time{})
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, time.Now().Add(ttl))
	return nil
}

// Del removes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key)
	return ok, nil
}

// IncrBy atomically increments a key by the given amount. Values are stored
// as decimal strings, matching the Redis counter format.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	expiresAt := time.Time{}
	if e, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return &db.Error{Op: db.OpIncrBy, Err: err}
		}
		current = parsed
		expiresAt = e.expiresAt
	}
	s.put(key, []byte(strconv.FormatInt(current+val, 10)), expiresAt)
	return nil
}

// Expire sets TTL on a key. When nx=true, sets TTL only if the key has no
// expiry yet. Missing keys are a no-op, matching Redis EXPIRE.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(key)
	if !ok {
		return nil
	}
	if nx && !e.expiresAt.IsZero() {
		return nil
	}
	s.put(key, e.value, time.Now().Add(ttl))
	return nil
}

// get returns a live entry, evicting it if expired. Caller holds s.mu.
func (s *Store) get(key string) (entry, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.cache.Remove(key)
		return entry{}, false
	}
	return e, true
}

// put stores an entry. Caller holds s.mu.
func (s *Store) put(key string, value []byte, expiresAt time.Time) {
	v := make([]byte, len(value))
	copy(v, value)
	s.cache.Add(key, entry{value: v, expiresAt: expiresAt})
}
