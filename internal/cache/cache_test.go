package cache

import (
	"testing"
	"time"
)

func TestTTL_GetPut(t *testing.T) {
	c := NewTTL[string, uint32](10, 5*time.Minute)

	c.Put("RELIANCE", 738561)
	tok, ok := c.Get("RELIANCE")
	if !ok || tok != 738561 {
		t.Fatalf("expected 738561, got %d ok=%v", tok, ok)
	}

	if _, ok := c.Get("INFY"); ok {
		t.Fatal("miss expected for unknown key")
	}
}

func TestTTL_ExpiredIsAbsentBeforeSweep(t *testing.T) {
	now := time.Now()
	c := NewTTL[uint32, int64](10, 5*time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Put(256265, 100)

	// Just before the TTL the entry is still live.
	now = now.Add(5*time.Minute - time.Second)
	if _, ok := c.Get(256265); !ok {
		t.Fatal("entry should still be live before TTL")
	}

	// Re-put resets the TTL; step past it without sweeping.
	c.Put(256265, 101)
	now = now.Add(5*time.Minute + time.Second)
	if _, ok := c.Get(256265); ok {
		t.Fatal("expired entry must read as absent even before a sweep")
	}
}

func TestTTL_CapacityEvictsOldest(t *testing.T) {
	now := time.Now()
	c := NewTTL[int, int](2, time.Hour)
	c.SetClock(func() time.Time { return now })

	c.Put(1, 10)
	now = now.Add(time.Minute)
	c.Put(2, 20)
	now = now.Add(time.Minute)
	c.Put(3, 30) // evicts key 1, the entry closest to expiry

	if _, ok := c.Get(1); ok {
		t.Fatal("key 1 should have been evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("key 2 should survive")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatal("key 3 should survive")
	}
}

func TestTTL_Sweep(t *testing.T) {
	now := time.Now()
	c := NewTTL[int, int](10, time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Put(1, 1)
	c.Put(2, 2)
	now = now.Add(30 * time.Second)
	c.Put(3, 3)

	now = now.Add(45 * time.Second) // 1 and 2 expired, 3 still live
	if dropped := c.Sweep(); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if c.Len() != 1 {
		t.Fatalf("expected len=1 after sweep, got %d", c.Len())
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, string](2)

	c.Put("a", "1")
	c.Put("b", "2")

	// Touch "a" so "b" becomes the LRU entry.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}

	c.Put("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("c should survive")
	}
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("x", 1)
	c.Put("x", 2)
	if c.Len() != 1 {
		t.Fatalf("expected len=1, got %d", c.Len())
	}
	v, _ := c.Get("x")
	if v != 2 {
		t.Fatalf("expected updated value 2, got %d", v)
	}
}

func TestLRU_Remove(t *testing.T) {
	c := NewLRU[string, int](4)

	c.Put("x", 1)
	if !c.Remove("x") {
		t.Fatal("remove of present key should report true")
	}
	if c.Remove("x") {
		t.Fatal("remove of absent key should report false")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got len=%d", c.Len())
	}
}

func TestJanitor_SweepOnce(t *testing.T) {
	now := time.Now()
	ticks := NewTTL[uint32, int64](10, time.Minute)
	ticks.SetClock(func() time.Time { return now })
	instruments := NewTTL[string, uint32](10, time.Hour)
	instruments.SetClock(func() time.Time { return now })

	ticks.Put(1, 100)
	ticks.Put(2, 200)
	instruments.Put("SBIN", 779521)

	j := NewJanitor(time.Minute, map[string]Sweepable{
		"ticks":       ticks,
		"instruments": instruments,
	})

	var got map[string]int
	j.OnStats = func(sizes map[string]int) { got = sizes }

	now = now.Add(2 * time.Minute) // tick entries expired, instrument still live
	j.SweepOnce()

	if got["ticks"] != 0 {
		t.Fatalf("expected tick cache swept to 0, got %d", got["ticks"])
	}
	if got["instruments"] != 1 {
		t.Fatalf("expected instrument cache size 1, got %d", got["instruments"])
	}
}
