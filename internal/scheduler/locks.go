package scheduler

import (
	"sort"
	"sync"
)

// KeyedLocks hands out one mutex per key. Holders of different keys never
// contend; holders of the same key are serialized.
type KeyedLocks struct {
	mu    sync.Mutex             // guards locks
	locks map[string]*keyedEntry // key -> entry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks creates an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the mutex for key is held.
func (k *KeyedLocks) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. Entries nobody waits on are dropped so
// the table does not grow with every execution or resource ever seen.
func (k *KeyedLocks) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// LockAll acquires every key in lexical order, so two callers with
// overlapping key sets cannot deadlock. Duplicate keys are locked once.
func (k *KeyedLocks) LockAll(keys []string) {
	for _, key := range sortedUnique(keys) {
		k.Lock(key)
	}
}

// UnlockAll releases keys taken by LockAll, in reverse order.
func (k *KeyedLocks) UnlockAll(keys []string) {
	sorted := sortedUnique(keys)
	for i := len(sorted) - 1; i >= 0; i-- {
		k.Unlock(sorted[i])
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func sortedUnique(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, key := range sorted[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}
