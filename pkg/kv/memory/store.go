package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lucra/lucra-backend/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.RWMutex
	strings     map[string][]byte
	sets        map[string]map[string]struct{}
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// New creates a new in-memory store with optional janitor for TTL cleanup
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string][]byte),
		sets:            make(map[string]map[string]struct{}),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

// janitor runs background expiration cleanup
func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

// evictExpired removes all expired keys
func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyUnsafe(key)
		}
	}
}

// isExpired checks if a key has expired (must hold a lock)
func (s *Store) isExpired(key string) bool {
	if expiry, exists := s.expirations[key]; exists {
		return time.Now().After(expiry)
	}
	return false
}

// deleteKeyUnsafe removes a key from all data structures (must hold write lock)
func (s *Store) deleteKeyUnsafe(key string) {
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.expirations, key)
}

// getUnsafe reads a live string value (must hold a lock)
func (s *Store) getUnsafe(key string) ([]byte, bool) {
	if s.isExpired(key) {
		return nil, false
	}
	v, ok := s.strings[key]
	return v, ok
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyUnsafe(key)
	s.strings[key] = clone(value)

	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.getUnsafe(key)
	if !exists {
		return nil, kv.ErrNotFound
	}
	return clone(value), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.existsUnsafe(key) {
			deleted++
		}
		s.deleteKeyUnsafe(key)
	}

	return deleted, nil
}

func (s *Store) existsUnsafe(key string) bool {
	if s.isExpired(key) {
		return false
	}
	if _, found := s.strings[key]; found {
		return true
	}
	_, found := s.sets[key]
	return found
}

// Set operations

func (s *Store) saddUnsafe(key string, members ...[]byte) int64 {
	delete(s.strings, key)
	set, exists := s.sets[key]
	if !exists {
		set = make(map[string]struct{})
		s.sets[key] = set
	}

	var added int64
	for _, member := range members {
		m := string(member)
		if _, exists := set[m]; !exists {
			set[m] = struct{}{}
			added++
		}
	}
	return added
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, exists := s.sets[key]
	if !exists || s.isExpired(key) {
		return nil, kv.ErrNotFound
	}

	members := make([][]byte, 0, len(set))
	for member := range set {
		members = append(members, []byte(member))
	}

	return members, nil
}

// Apply checks every guard and applies the batch under one write lock.
func (s *Store) Apply(ctx context.Context, b *kv.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range b.Guards {
		current, ok := s.getUnsafe(g.Key)
		if !ok {
			current = nil
		}
		if !g.Holds(current) {
			return kv.ErrConflict
		}
	}

	for _, w := range b.Writes {
		s.deleteKeyUnsafe(w.Key)
		if !w.Delete {
			s.strings[w.Key] = clone(w.Value)
		}
	}
	for _, a := range b.SetAdds {
		s.saddUnsafe(a.Key, a.Members...)
	}

	return nil
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone
	})
	return nil
}
