// Package locks provides per-key mutual exclusion for the generation engines.
//
// Every engine follows the same double-checked pattern: inspect the on-disk
// artifact, and only when it is stale or absent enter the per-key critical
// section, re-inspect, and do the work. KeyedMutex is the critical-section
// half of that pattern; the re-inspection stays in the engines.
package locks

import "sync"

// KeyedMutex serializes work per key. Lock entries are created on first use
// and never removed; key cardinality is bounded by tickers and dates, and an
// entry is two words, so the map growing monotonically is acceptable.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	done bool
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

func (k *KeyedMutex) entryFor(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	return e
}

// Execute runs work while holding the exclusive lock for key.
//
// When once is true and a previous caller has already completed work for this
// key successfully, work is skipped and Execute returns nil immediately after
// acquiring the lock. Failed attempts do not count as completed, so the next
// caller retries.
//
// Panics inside work propagate to the caller; the lock is still released.
func (k *KeyedMutex) Execute(key string, once bool, work func() error) error {
	e := k.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if once && e.done {
		return nil
	}

	if err := work(); err != nil {
		return err
	}

	if once {
		e.done = true
	}
	return nil
}

// Do runs work under the key's lock without completion elision.
// Equivalent to Execute(key, false, work).
func (k *KeyedMutex) Do(key string, work func() error) error {
	return k.Execute(key, false, work)
}
