// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/lucra/lucra-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Del", testDel},
		{"SetOperations", testSetOperations},
		{"ApplyCommits", testApplyCommits},
		{"ApplyGuardAbsent", testApplyGuardAbsent},
		{"ApplyGuardMismatch", testApplyGuardMismatch},
		{"ApplyConcurrentCAS", testApplyConcurrentCAS},
		{"HealthCheck", testHealthCheck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != string(value) {
		t.Errorf("Expected %q, got %q", value, result)
	}

	// Mutating the returned slice must not change the stored value
	result[0] = 'X'
	again, _ := store.Get(ctx, key)
	if string(again) != string(value) {
		t.Errorf("Stored value aliased: %q", again)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.Set(ctx, "test:a", []byte("1"))
	_ = store.Set(ctx, "test:b", []byte("2"))

	n, err := store.Del(ctx, "test:a", "test:c")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v; want 1", n, err)
	}

	if _, err := store.Get(ctx, "test:a"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected test:a to be gone, got %v", err)
	}
	if v, err := store.Get(ctx, "test:b"); err != nil || string(v) != "2" {
		t.Errorf("Expected test:b to survive, got %q, %v", v, err)
	}
}

func testSetOperations(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:set"

	var b kv.Batch
	b.SAdd(key, []byte("x"), []byte("y"))
	b.SAdd(key, []byte("x"))
	if err := store.Apply(ctx, &b); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	members, err := store.SMembers(ctx, key)
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	got := make([]string, len(members))
	for i, m := range members {
		got[i] = string(m)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("Unexpected members %v", got)
	}

	if _, err := store.SMembers(ctx, "test:noset"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing set, got %v", err)
	}
}

func testApplyCommits(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.Set(ctx, "test:old", []byte("gone"))

	var b kv.Batch
	b.Set("test:x", []byte("1"))
	b.Set("test:y", []byte("2"))
	b.Delete("test:old")
	b.SAdd("test:index", []byte("x"))

	if err := store.Apply(ctx, &b); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for key, want := range map[string]string{"test:x": "1", "test:y": "2"} {
		if v, err := store.Get(ctx, key); err != nil || string(v) != want {
			t.Errorf("Get(%s) = %q, %v; want %q", key, v, err, want)
		}
	}
	if _, err := store.Get(ctx, "test:old"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected test:old deleted, got %v", err)
	}
	members, err := store.SMembers(ctx, "test:index")
	if err != nil || len(members) != 1 || string(members[0]) != "x" {
		t.Errorf("Expected set member after Apply, got %q, %v", members, err)
	}
}

func testApplyGuardAbsent(t *testing.T, store kv.Store) {
	ctx := context.Background()

	var first kv.Batch
	first.Expect("test:once", nil)
	first.Set("test:once", []byte("a"))
	if err := store.Apply(ctx, &first); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	var second kv.Batch
	second.Expect("test:once", nil)
	second.Set("test:once", []byte("b"))
	second.Set("test:side", []byte("effect"))
	if err := store.Apply(ctx, &second); !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	v, _ := store.Get(ctx, "test:once")
	if string(v) != "a" {
		t.Errorf("Conflicting batch leaked write: %q", v)
	}
	if _, err := store.Get(ctx, "test:side"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Conflicting batch leaked side write")
	}
}

func testApplyGuardMismatch(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.Set(ctx, "test:cas", []byte("v1"))

	var stale kv.Batch
	stale.Expect("test:cas", []byte("v0"))
	stale.Set("test:cas", []byte("v2"))
	if err := store.Apply(ctx, &stale); !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	var fresh kv.Batch
	fresh.Expect("test:cas", []byte("v1"))
	fresh.Set("test:cas", []byte("v2"))
	if err := store.Apply(ctx, &fresh); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	v, _ := store.Get(ctx, "test:cas")
	if string(v) != "v2" {
		t.Errorf("Expected v2, got %q", v)
	}
}

func testApplyConcurrentCAS(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.Set(ctx, "test:race", []byte("start"))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var b kv.Batch
			b.Expect("test:race", []byte("start"))
			b.Set("test:race", []byte{byte('a' + i)})
			if err := store.Apply(ctx, &b); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, kv.ErrConflict) {
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}

func testHealthCheck(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
