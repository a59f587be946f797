package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/metrics"
)

type memoryEntry struct {
	value      []byte
	freshUntil time.Time
	staleUntil time.Time
}

// MemoryStore is the reference Store: a mutex-guarded map with a
// fresh/stale dual deadline per entry and stale-while-revalidate GetOrSet.
// An entry is fresh until freshUntil, stale-serving until staleUntil, and
// gone afterwards.
type MemoryStore struct {
	mu              sync.RWMutex
	items           map[string]memoryEntry
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
	staleMultiplier int
	co              *coalesce.Coalescer
	logger          *zap.Logger
}

// NewMemoryStore creates an in-memory store. staleMultiplier scales the
// stale window relative to the fresh TTL and is clamped to >= 1.
func NewMemoryStore(cleanupInterval time.Duration, staleMultiplier int, co *coalesce.Coalescer, logger *zap.Logger) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	if staleMultiplier < 1 {
		staleMultiplier = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MemoryStore{
		items:           make(map[string]memoryEntry),
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
		staleMultiplier: staleMultiplier,
		co:              co,
		logger:          logger.Named("memcache"),
	}

	// background cleanup routine
	go s.cleanupExpired()

	return s
}

// Get returns the stored value while now <= staleUntil. Callers cannot
// tell fresh from stale; that is intentional.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if now.After(entry.staleUntil) {
		s.mu.Lock()
		if e, exists := s.items[key]; exists && now.After(e.staleUntil) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value with freshUntil = now+ttl and staleUntil =
// now+ttl*staleMultiplier. A non-positive ttl deletes the key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	now := time.Now()

	s.mu.Lock()
	s.items[key] = memoryEntry{
		value:      valueCopy,
		freshUntil: now.Add(ttl),
		staleUntil: now.Add(ttl * time.Duration(s.staleMultiplier)),
	}
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// KeysMatching scans all live keys against a glob pattern. Only used for
// hot-set enumeration, so the linear scan is fine.
func (s *MemoryStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.items {
		if now.After(e.staleUntil) {
			continue
		}
		if ok, err := path.Match(pattern, k); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// GetOrSet implements stale-while-revalidate:
//  1. fresh entry -> return it
//  2. stale entry -> kick a coalesced background refresh, return stale
//  3. miss        -> block on the coalesced factory, store, return
//
// A factory failure on a cold miss propagates to every waiter of the
// key; a failure during a background refresh is logged and swallowed.
func (s *MemoryStore) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration) ([]byte, error) {
	now := time.Now()

	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if ok && !now.After(entry.freshUntil) {
		return entry.value, nil
	}

	if ok && !now.After(entry.staleUntil) {
		metrics.CacheStaleServedTotal.WithLabelValues(tierOfKey(key)).Inc()
		s.refreshInBackground(ctx, key, factory, ttl)
		return entry.value, nil
	}

	return s.co.Do(key, func() ([]byte, error) {
		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		// A no-content answer is returned but never cached; a previous
		// entry, had there been one, would keep aging.
		if value == nil {
			return nil, nil
		}
		if err := s.Set(ctx, key, value, ttl); err != nil {
			return nil, err
		}
		return value, nil
	})
}

func (s *MemoryStore) SupportsSWR() bool { return true }

// refreshInBackground revalidates key through the same coalescing path a
// blocking miss uses. The refresh is detached from the caller's request
// context so an early client disconnect does not abort it; the factory
// carries its own upstream deadline.
func (s *MemoryStore) refreshInBackground(ctx context.Context, key string, factory Factory, ttl time.Duration) {
	bgCtx := context.WithoutCancel(ctx)
	s.co.Background(key, func() ([]byte, error) {
		value, err := factory(bgCtx)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, nil
		}
		if err := s.Set(bgCtx, key, value, ttl); err != nil {
			return nil, err
		}
		return value, nil
	})
}

// cleanupExpired runs periodically to remove entries past their stale
// deadline.
func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.items {
				if now.After(e.staleUntil) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of items currently in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all items. Useful for tests or manual resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.items = make(map[string]memoryEntry)
	s.mu.Unlock()
}
