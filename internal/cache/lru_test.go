package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, int](10, time.Minute).WithClock(clock.now)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}

	clock.advance(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should expire after ttl")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry still counted, size=%d", c.Size())
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("Stats() = %d/%d, want 1/1", hits, misses)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestManager_CleanAll(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRUCache[int, string](10, time.Second).WithClock(clock.now)
	b := NewLRUCache[int, string](10, time.Hour).WithClock(clock.now)
	a.Set(1, "x")
	a.Set(2, "y")
	b.Set(1, "z")

	m := NewManager(a)
	m.Register(b)
	clock.advance(time.Minute)

	if n := m.CleanAll(); n != 2 {
		t.Fatalf("CleanAll() = %d, want 2", n)
	}
	if b.Size() != 1 {
		t.Fatalf("long-lived entry removed")
	}
}
