package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocksSerializeWaiters(t *testing.T) {
	locks := newKeyedLocks()

	unlock := locks.lock("ord-1")

	acquired := make(chan struct{})
	go func() {
		u := locks.lock("ord-1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after release")
	}

	require.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, time.Millisecond)
}

// The entry for an ID is created and torn down repeatedly here, the same
// churn a retire-then-readmit of one order ID produces. Every holder must
// still exclude every other, whichever generation of the entry it joined.
func TestKeyedLocksMutualExclusionAcrossEntryChurn(t *testing.T) {
	locks := newKeyedLocks()

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				unlock := locks.lock("ord-reuse")
				if n := atomic.AddInt32(&inside, 1); n != 1 {
					t.Errorf("lock held by %d goroutines at once", n)
				}
				atomic.AddInt32(&inside, -1)
				unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, locks.size(), "all entries drain once released")
}
