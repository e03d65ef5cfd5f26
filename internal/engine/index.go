package engine

import "sync"

// instrumentIndex maps an instrument token to the set of order IDs
// interested in its ticks. Entries may briefly outlive their orders
// (cancellation tolerates lag); evaluation filters through the order cache
// and drops stale IDs.
type instrumentIndex struct {
	mu sync.RWMutex
	m  map[uint32][]string
}

func newInstrumentIndex() *instrumentIndex {
	return &instrumentIndex{m: make(map[uint32][]string)}
}

// Add appends orderID under token, ignoring duplicates.
func (idx *instrumentIndex) Add(token uint32, orderID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range idx.m[token] {
		if id == orderID {
			return
		}
	}
	idx.m[token] = append(idx.m[token], orderID)
}

// Remove deletes orderID from token's bucket.
func (idx *instrumentIndex) Remove(token uint32, orderID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := idx.m[token]
	for i, id := range ids {
		if id == orderID {
			idx.m[token] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(idx.m[token]) == 0 {
		delete(idx.m, token)
	}
}

// IDs returns a snapshot of the order IDs indexed under token.
func (idx *instrumentIndex) IDs(token uint32) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := idx.m[token]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Contains reports whether orderID is indexed under token.
func (idx *instrumentIndex) Contains(token uint32, orderID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, id := range idx.m[token] {
		if id == orderID {
			return true
		}
	}
	return false
}

// Size returns the total number of indexed order IDs.
func (idx *instrumentIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := 0
	for _, ids := range idx.m {
		n += len(ids)
	}
	return n
}
