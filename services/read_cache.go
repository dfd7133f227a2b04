package services

import (
	"strings"
	"sync"
	"time"
)

// ReadCache 派生读结果缓存。短 TTL + 写路径显式失效，
// 只作加速用，丢失任何条目都不影响正确性。
type ReadCache struct {
	entries    map[string]*cacheEntry
	mu         sync.RWMutex
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// NewReadCache 创建缓存并启动清理协程
func NewReadCache(defaultTTL time.Duration) *ReadCache {
	c := &ReadCache{
		entries:    make(map[string]*cacheEntry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get 获取缓存
func (c *ReadCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	// 检查是否过期
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.data, true
}

// Set 以默认 TTL 设置缓存
func (c *ReadCache) Set(key string, data interface{}) {
	c.SetTTL(key, data, c.defaultTTL)
}

// SetTTL 以指定 TTL 设置缓存
func (c *ReadCache) SetTTL(key string, data interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete 删除单个键
func (c *ReadCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// DeletePrefix 删除所有带指定前缀的键
func (c *ReadCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear 清空缓存
func (c *ReadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
}

// Size 获取缓存条目数
func (c *ReadCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stop 停止清理协程 (服务关闭时调用)
func (c *ReadCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanupLoop 定期清理过期条目
func (c *ReadCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup 清理过期条目
func (c *ReadCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// 缓存键。live_matches 按用户分键，按前缀整体失效
func CacheKeyMatchState(matchID string) string {
	return "match_state_" + matchID
}

func CacheKeyMatchSummary(matchID string) string {
	return "match_summary_" + matchID
}

func CacheKeyLiveMatches(userID string) string {
	return "live_matches_" + userID
}
