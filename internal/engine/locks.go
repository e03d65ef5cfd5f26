package engine

import "sync"

// keyedLocks serializes work per order ID. Two ticks for the same instrument
// may land on different workers concurrently; holding the order's lock across
// trigger evaluation, broker placement, and the executions_done increment is
// what prevents a double execution against the broker.
//
// Entries are reference counted so every waiter for an ID shares one mutex,
// even across retirement and re-admission of the same ID. The entry is
// removed once the last holder releases it.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*lockEntry)}
}

// lock acquires the mutex for id, creating it on first use, and returns the
// release function. The caller must call it exactly once.
func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	e, ok := k.m[id]
	if !ok {
		e = &lockEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}

// size reports the number of live entries.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
