package kv

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or member is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrConflict is returned by Apply when a guarded key changed underneath the batch
var ErrConflict = errors.New("kv: guarded key changed")

// Store defines the interface for a Redis-like key-value store
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)

	// Set operations
	SMembers(ctx context.Context, key string) ([][]byte, error)

	// Apply commits every write in b atomically, or none of them when any
	// guard fails.
	Apply(ctx context.Context, b *Batch) error

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}

// Guard pins the value a key must hold when a batch commits. A nil Value
// requires the key to be absent.
type Guard struct {
	Key   string
	Value []byte
}

// Holds reports whether current (nil when absent) satisfies the guard.
func (g Guard) Holds(current []byte) bool {
	if g.Value == nil {
		return current == nil
	}
	return current != nil && bytes.Equal(g.Value, current)
}

// Write is a staged string write; Delete removes the key instead.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// SetAdd is a staged set insertion.
type SetAdd struct {
	Key     string
	Members [][]byte
}

// Batch collects guarded writes for Apply.
type Batch struct {
	Guards  []Guard
	Writes  []Write
	SetAdds []SetAdd
}

// Expect adds a guard on key. Pass nil to require the key be absent.
func (b *Batch) Expect(key string, value []byte) {
	b.Guards = append(b.Guards, Guard{Key: key, Value: value})
}

func (b *Batch) Set(key string, value []byte) {
	b.Writes = append(b.Writes, Write{Key: key, Value: value})
}

func (b *Batch) Delete(key string) {
	b.Writes = append(b.Writes, Write{Key: key, Delete: true})
}

func (b *Batch) SAdd(key string, members ...[]byte) {
	b.SetAdds = append(b.SetAdds, SetAdd{Key: key, Members: members})
}

// Empty reports whether the batch would change nothing.
func (b *Batch) Empty() bool {
	return len(b.Writes) == 0 && len(b.SetAdds) == 0
}

// GuardKeys lists the guarded keys for backends that watch them.
func (b *Batch) GuardKeys() []string {
	keys := make([]string, len(b.Guards))
	for i, g := range b.Guards {
		keys[i] = g.Key
	}
	return keys
}
