package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUEviction(t *testing.T) {
	c := New[int](2, time.Minute, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("Expected a to be evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Expected b=2, got %d (%t)", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Expected c=3, got %d (%t)", v, ok)
	}
}

func TestGetMarksMostRecentlyUsed(t *testing.T) {
	c := New[int](2, time.Minute, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // b is now least recently used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a to survive")
	}
}

func TestTTL(t *testing.T) {
	c := New[string](10, 50*time.Millisecond, nil)
	c.Set("k", "v")

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Expected k=v before the ttl elapsed")
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected k to be absent after the ttl elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be removed on access, len is %d", c.Len())
	}

	// overwriting refreshes the ttl
	c.Set("k", "v1")
	time.Sleep(30 * time.Millisecond)
	c.Set("k", "v2")
	time.Sleep(30 * time.Millisecond)
	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Errorf("Expected overwrite to refresh the ttl, got %q (%t)", v, ok)
	}
}

func TestValuesAreCopied(t *testing.T) {
	clone := func(b []byte) []byte { return append([]byte(nil), b...) }
	c := New[[]byte](10, time.Minute, clone)

	in := []byte("abc")
	c.Set("k", in)
	in[0] = 'x'

	out, _ := c.Get("k")
	if string(out) != "abc" {
		t.Errorf("Cache shares the stored value with the caller: %s", out)
	}
	out[1] = 'y'
	again, _ := c.Get("k")
	if string(again) != "abc" {
		t.Errorf("Cache shares the returned value with the caller: %s", again)
	}
}

func TestStats(t *testing.T) {
	c := New[int](1, time.Minute, nil)
	c.Set("a", 1)
	c.Get("a")
	c.Get("b")
	c.Set("b", 2)

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Evictions != 1 || s.Size != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
	if s.HitRate() != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", s.HitRate())
	}
}

func TestConcurrentAccess(t *testing.T) {
	const maxSize = 50
	c := New[int](maxSize, time.Minute, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("k%d", (g*1000+i)%200)
				c.Set(key, i)
				c.Get(key)
				if c.Len() > maxSize {
					t.Errorf("Cache exceeded max size: %d", c.Len())
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestSweepAndClose(t *testing.T) {
	c := New[int](10, 20*time.Millisecond, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	// expired entries are removed without being accessed
	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected the sweep to remove expired entries, len is %d", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := c.Stats(); s.Evictions != 0 {
		t.Errorf("Expected expiry not to count as eviction, got %d", s.Evictions)
	}

	c.Set("c", 3)
	c.Close()
	c.Close()
	if c.Len() != 0 {
		t.Errorf("Expected Close to remove all entries, len is %d", c.Len())
	}

	// usable after Close, expiry then happens on access
	c.Set("d", 4)
	if v, ok := c.Get("d"); !ok || v != 4 {
		t.Errorf("Expected d=4 after Close, got %d (%t)", v, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("d"); ok {
		t.Error("Expected d to expire after Close")
	}
}
