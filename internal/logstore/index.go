package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/junyiacademy/learnlog/internal/storage"
)

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// indexRecord appends key to every index of the record's scope.
func (r *Repository) indexRecord(ctx context.Context, s Scope, key string) error {
	var (
		failed []string
		errs   []error
	)
	for _, idx := range indexKeysFor(s) {
		if err := r.appendIndex(ctx, idx, key); err != nil {
			failed = append(failed, idx)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &IndexError{RecordKey: key, IndexKeys: failed, Err: errors.Join(errs...)}
	}
	return nil
}

// appendIndex is a read-modify-write of one index list, serialized per index key.
func (r *Repository) appendIndex(ctx context.Context, indexKey, recordKey string) error {
	unlock := r.locks.Lock(indexKey)
	defer unlock()

	keys, err := r.readIndex(ctx, indexKey)
	if err != nil {
		return err
	}
	if slices.Contains(keys, recordKey) {
		return nil
	}
	return r.writeIndex(ctx, indexKey, append(keys, recordKey))
}

// readIndex returns the keys listed in an index; a missing index is empty.
func (r *Repository) readIndex(ctx context.Context, indexKey string) ([]string, error) {
	data, err := r.store.Get(ctx, indexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", indexKey, err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", indexKey, err)
	}
	return keys, nil
}

func (r *Repository) writeIndex(ctx context.Context, indexKey string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", indexKey, err)
	}
	if err := r.store.Set(ctx, indexKey, data); err != nil {
		return fmt.Errorf("write index %s: %w", indexKey, err)
	}
	return nil
}

// IndexKeys returns the record keys listed in the narrowest index of scope.
func (r *Repository) IndexKeys(ctx context.Context, s Scope) ([]string, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return r.readIndex(ctx, IndexKey(s))
}

// CleanupIndex compacts the narrowest index of scope, dropping entries whose
// record is missing or soft-deleted. It returns the number of entries removed.
func (r *Repository) CleanupIndex(ctx context.Context, s Scope) (int, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	indexKey := IndexKey(s)

	unlock := r.locks.Lock(indexKey)
	defer unlock()

	keys, err := r.readIndex(ctx, indexKey)
	if err != nil {
		return 0, err
	}
	recs, err := r.fetchAll(ctx, keys)
	if err != nil {
		return 0, err
	}

	live := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if !rec.Deleted() {
			live[rec.Key()] = true
		}
	}
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if live[k] {
			kept = append(kept, k)
			delete(live, k) // drop duplicates
		}
	}

	removed := len(keys) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := r.writeIndex(ctx, indexKey, kept); err != nil {
		return 0, err
	}
	r.log.Info("compacted index", "index", indexKey, "removed", removed, "kept", len(kept))
	return removed, nil
}

// RebuildIndex reconstructs the index of scope and every index nested below
// it from a prefix scan of live records. It repairs entries lost when several
// processes appended to the same index at once. Entries appended while the
// scan runs are kept. It returns the number of index lists written.
func (r *Repository) RebuildIndex(ctx context.Context, s Scope) (int, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}

	recs, err := r.scan(ctx, RecordPrefix(s))
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(recs))
	lists := map[string][]string{IndexKey(s): {}}
	for _, rec := range recs {
		key := rec.Key()
		seen[key] = true
		// indexKeysFor is ordered user, program, task; skip levels wider than s.
		// Every index under s is rewritten, even one left with only deleted records.
		for i, idx := range indexKeysFor(rec.Scope()) {
			if level(i+1) < s.level() {
				continue
			}
			if _, ok := lists[idx]; !ok {
				lists[idx] = []string{}
			}
			if !rec.Deleted() {
				lists[idx] = append(lists[idx], key)
			}
		}
	}

	for idx, keys := range lists {
		if err := r.replaceIndex(ctx, idx, keys, seen); err != nil {
			return 0, err
		}
	}
	r.log.Info("rebuilt index", "index", IndexKey(s), "lists", len(lists), "records", len(recs))
	return len(lists), nil
}

// replaceIndex overwrites an index with keys, carrying over current entries
// the scan never saw.
func (r *Repository) replaceIndex(ctx context.Context, indexKey string, keys []string, seen map[string]bool) error {
	unlock := r.locks.Lock(indexKey)
	defer unlock()

	current, err := r.readIndex(ctx, indexKey)
	if err != nil {
		return err
	}
	for _, k := range current {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	return r.writeIndex(ctx, indexKey, keys)
}
