package services

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	cache := NewReadCache(time.Minute)
	defer cache.Stop()

	cache.Set("match_state_m1", "payload")

	value, ok := cache.Get("match_state_m1")
	if !ok {
		t.Fatal("Expected a cache hit")
	}
	if value != "payload" {
		t.Errorf("Expected payload, got %v", value)
	}

	if _, ok := cache.Get("match_state_m2"); ok {
		t.Error("Expected a miss for an unknown key")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	cache := NewReadCache(time.Minute)
	defer cache.Stop()

	cache.SetTTL("match_state_m1", "payload", 20*time.Millisecond)

	if _, ok := cache.Get("match_state_m1"); !ok {
		t.Fatal("Expected a hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := cache.Get("match_state_m1"); ok {
		t.Error("Expected a miss after expiry")
	}
}

func TestCacheDeletePrefix(t *testing.T) {
	cache := NewReadCache(time.Minute)
	defer cache.Stop()

	cache.Set(CacheKeyLiveMatches("u1"), "a")
	cache.Set(CacheKeyLiveMatches("u2"), "b")
	cache.Set(CacheKeyMatchState("m1"), "c")

	cache.DeletePrefix("live_matches_")

	if _, ok := cache.Get(CacheKeyLiveMatches("u1")); ok {
		t.Error("Expected u1 listing to be evicted")
	}
	if _, ok := cache.Get(CacheKeyLiveMatches("u2")); ok {
		t.Error("Expected u2 listing to be evicted")
	}
	if _, ok := cache.Get(CacheKeyMatchState("m1")); !ok {
		t.Error("Expected match state entry to survive")
	}
}

func TestCacheClearAndSize(t *testing.T) {
	cache := NewReadCache(time.Minute)
	defer cache.Stop()

	cache.Set("a", 1)
	cache.Set("b", 2)
	if cache.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cache.Size())
	}

	cache.Delete("a")
	if cache.Size() != 1 {
		t.Errorf("Expected size 1 after delete, got %d", cache.Size())
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Size())
	}
}

func TestCacheStopIsIdempotent(t *testing.T) {
	cache := NewReadCache(time.Minute)
	cache.Stop()
	cache.Stop() // 第二次调用不应该 panic
}

func TestSideEffectsInvalidateMatch(t *testing.T) {
	cache := NewReadCache(time.Minute)
	defer cache.Stop()
	hub := NewBroadcastHub()
	defer hub.Close()

	effects := NewSideEffects(cache, hub, nil)

	cache.Set(CacheKeyMatchState("m1"), "stale")
	cache.Set(CacheKeyMatchSummary("m1"), "stale")
	cache.Set(CacheKeyLiveMatches("u1"), "stale")
	cache.Set(CacheKeyMatchState("m2"), "fresh")

	effects.InvalidateMatch("m1", "u1")

	for _, key := range []string{CacheKeyMatchState("m1"), CacheKeyMatchSummary("m1"), CacheKeyLiveMatches("u1")} {
		if _, ok := cache.Get(key); ok {
			t.Errorf("Expected %s to be invalidated", key)
		}
	}
	if _, ok := cache.Get(CacheKeyMatchState("m2")); !ok {
		t.Error("Expected other matches to keep their entries")
	}
}
