package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
)

// 缓存键
const (
	CacheKeyStatisticsCharts = "statistics:charts"
	CacheKeyStatisticsCounts = "statistics:counts"
)

// Cache 全局缓存实例（统计图等页面级数据）
var Cache = cache.New(5*time.Minute, 10*time.Minute)

// InitCache 重新初始化缓存
func InitCache() {
	Cache = cache.New(5*time.Minute, 10*time.Minute)
}

// CacheGet 获取缓存值
func CacheGet(key string) (interface{}, bool) {
	return Cache.Get(key)
}

// CacheSet 设置缓存值
func CacheSet(key string, value interface{}, duration time.Duration) {
	Cache.Set(key, value, duration)
}

// CacheDelete 删除缓存
func CacheDelete(keys ...string) {
	for _, k := range keys {
		Cache.Delete(k)
	}
}

// InvalidateStatistics 电影数据变化后清除统计缓存
func InvalidateStatistics() {
	CacheDelete(CacheKeyStatisticsCharts, CacheKeyStatisticsCounts)
}

// CacheItem 带过期时间的缓存项
type CacheItem[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// SearchCache LRU + TTL 缓存，线程安全
type SearchCache[T any] struct {
	storage *lru.Cache[string, CacheItem[T]]
	ttl     time.Duration
}

// NewSearchCache size 为最大条数，ttl 为有效期
func NewSearchCache[T any](size int, ttl time.Duration) *SearchCache[T] {
	if size <= 0 {
		size = 128
	}
	c, _ := lru.New[string, CacheItem[T]](size)
	return &SearchCache[T]{
		storage: c,
		ttl:     ttl,
	}
}

// Set 写入（已存在则覆盖）
func (c *SearchCache[T]) Set(key string, value T) {
	c.storage.Add(key, CacheItem[T]{
		Value:     value,
		ExpiredAt: time.Now().Add(c.ttl),
	})
}

// Get 读取，过期的条目会被移除
func (c *SearchCache[T]) Get(key string) (T, bool) {
	var zero T
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}
	if time.Now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		return zero, false
	}
	return item.Value, true
}

// Delete 删除
func (c *SearchCache[T]) Delete(key string) {
	c.storage.Remove(key)
}

// Len 当前条数
func (c *SearchCache[T]) Len() int {
	return c.storage.Len()
}
