package services

import (
	"slices"
	"sync"
)

// keyedMutex serialises work per key while letting different keys proceed in
// parallel. Entries are dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires every key in sorted order and returns the release func.
func (k *keyedMutex) Lock(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	entries := make([]*keyedEntry, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		entry, ok := k.locks[key]
		if !ok {
			entry = &keyedEntry{}
			k.locks[key] = entry
		}
		entry.refs++
		k.mu.Unlock()

		entry.mu.Lock()
		entries = append(entries, entry)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
			k.mu.Lock()
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}
