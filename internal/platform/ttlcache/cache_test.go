package ttlcache

import (
	"sync"
	"testing"
	"time"
)

func TestCacheExpiresEntries(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := New[string](WithClock[string](func() time.Time { return now }))

	cache.Set("token", "abc", time.Hour)
	if got, ok := cache.Get("token"); !ok || got != "abc" {
		t.Fatalf("expected cached token, got %q ok=%v", got, ok)
	}

	now = now.Add(59 * time.Minute)
	if _, ok := cache.Get("token"); !ok {
		t.Fatalf("expected token to survive until ttl")
	}

	now = now.Add(time.Minute)
	if _, ok := cache.Get("token"); ok {
		t.Fatalf("expected token to expire at ttl")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, len=%d", cache.Len())
	}
}

func TestCacheNonPositiveTTLDeletes(t *testing.T) {
	cache := New[int]()
	cache.Set("k", 1, time.Minute)
	cache.Set("k", 2, 0)
	if _, ok := cache.Get("k"); ok {
		t.Fatalf("expected key to be removed")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Set("shared", i, time.Minute)
			cache.Get("shared")
		}(i)
	}
	wg.Wait()
	if _, ok := cache.Get("shared"); !ok {
		t.Fatalf("expected shared key to be present")
	}
}
