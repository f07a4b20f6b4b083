// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// Besides plain string and set operations the Store supports Apply, which
// commits a Batch of writes atomically behind compare-and-set guards:
//
//	var b kv.Batch
//	b.Expect("lcr:system", prev) // nil means "must not exist"
//	b.Set("lcr:system", next)
//	b.SAdd("lcr:loans", []byte(addr))
//	if err := store.Apply(ctx, &b); errors.Is(err, kv.ErrConflict) {
//		// someone else wrote lcr:system first
//	}
//
// The in-memory implementation applies batches under its write lock; the
// Redis adapter uses WATCH and MULTI/EXEC.
package kv
