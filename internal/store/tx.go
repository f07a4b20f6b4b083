package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucra/lucra-backend/pkg/kv"
)

// ErrNotFound reports a record that does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrConflict reports that a record read by the transaction changed before
// commit.
var ErrConflict = errors.New("store: concurrent modification")

// Ledger is the record store behind the engine.
type Ledger struct {
	kv kv.Store
}

func NewLedger(store kv.Store) *Ledger {
	return &Ledger{kv: store}
}

// Begin opens a transaction overlay.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		kv:     l.kv,
		reads:  make(map[string][]byte),
		writes: make(map[string][]byte),
	}
}

// KV exposes the underlying store.
func (l *Ledger) KV() kv.Store {
	return l.kv
}

// Tx buffers writes over a kv.Store. Reads see the transaction's own writes;
// every key read from the store becomes a guard at commit.
type Tx struct {
	kv     kv.Store
	reads  map[string][]byte
	writes map[string][]byte
	order  []string
	sadds  []kv.SetAdd
	done   bool
}

// GetRaw returns the current bytes for key, or nil when absent.
func (tx *Tx) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if v, ok := tx.writes[key]; ok {
		return v, nil
	}
	if v, ok := tx.reads[key]; ok {
		return v, nil
	}
	v, err := tx.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		v, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	tx.reads[key] = v
	return v, nil
}

// PutRaw stages value for key. A nil value deletes the key.
func (tx *Tx) PutRaw(key string, value []byte) {
	if _, staged := tx.writes[key]; !staged {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = value
}

// Get decodes the record at key into v. It returns ErrNotFound when the key
// is absent.
func (tx *Tx) Get(ctx context.Context, key string, d Discriminant, v any) error {
	data, err := tx.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	return Decode(data, d, v)
}

// Put encodes v and stages it at key.
func (tx *Tx) Put(key string, d Discriminant, v any) error {
	data, err := Encode(d, v)
	if err != nil {
		return err
	}
	tx.PutRaw(key, data)
	return nil
}

// AddToSet stages a set insertion, applied with the rest of the batch.
func (tx *Tx) AddToSet(key string, members ...[]byte) {
	tx.sadds = append(tx.sadds, kv.SetAdd{Key: key, Members: members})
}

// Dirty reports whether the transaction staged anything.
func (tx *Tx) Dirty() bool {
	return len(tx.writes) > 0 || len(tx.sadds) > 0
}

// Commit applies every staged write atomically. It fails with ErrConflict if
// any key read by the transaction changed in the meantime.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("store: transaction already finished")
	}
	tx.done = true
	if !tx.Dirty() {
		return nil
	}

	var b kv.Batch
	for key, v := range tx.reads {
		b.Expect(key, v)
	}
	for _, key := range tx.order {
		if v := tx.writes[key]; v == nil {
			b.Delete(key)
		} else {
			b.Set(key, v)
		}
	}
	b.SetAdds = tx.sadds

	if err := tx.kv.Apply(ctx, &b); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the staged writes.
func (tx *Tx) Rollback() {
	tx.done = true
	tx.writes = nil
	tx.sadds = nil
	tx.order = nil
}
