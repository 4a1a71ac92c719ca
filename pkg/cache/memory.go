package cache

import (
	"sync"
	"time"
)

// MemoryItem stores a cached value with its bookkeeping.
type MemoryItem struct {
	Value    interface{}
	StoredAt time.Time
	Hits     int64
}

// EvictionFunc is called with the key of an entry removed to make room.
type EvictionFunc func(key string)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// MemoryCache is a bounded TTL cache. When full it evicts the entry with the
// fewest hits; ties go to the oldest entry.
type MemoryCache struct {
	data      map[string]*MemoryItem
	mutex     sync.Mutex
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
	onEvict   EvictionFunc
	now       func() time.Time

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		TTL:             60 * time.Second,
		CleanupInterval: time.Minute,
		Clock:           time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}

	mc := &MemoryCache{
		data:    make(map[string]*MemoryItem, cfg.MaxSize),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		onEvict: cfg.OnEvict,
		now:     cfg.Clock,
		stopCh:  make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		mc.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
		go mc.cleanupExpired()
	}
	return mc
}

// Get returns the value for key. Expired entries are removed and count as a miss.
func (mc *MemoryCache) Get(key string) (interface{}, bool) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, exists := mc.data[key]
	if !exists {
		mc.misses++
		return nil, false
	}
	if mc.expired(item, mc.now()) {
		delete(mc.data, key)
		mc.misses++
		return nil, false
	}

	item.Hits++
	mc.hits++
	return item.Value, true
}

// Set stores value under key, evicting one entry first when the cache is full.
func (mc *MemoryCache) Set(key string, value interface{}) {
	var evicted string

	mc.mutex.Lock()
	if item, exists := mc.data[key]; exists {
		item.Value = value
		item.StoredAt = mc.now()
		mc.mutex.Unlock()
		return
	}
	if len(mc.data) >= mc.maxSize {
		evicted = mc.evictLeastUsed()
	}
	mc.data[key] = &MemoryItem{Value: value, StoredAt: mc.now()}
	mc.mutex.Unlock()

	if evicted != "" && mc.onEvict != nil {
		mc.onEvict(evicted)
	}
}

// Delete removes keys.
func (mc *MemoryCache) Delete(keys ...string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
}

// Len returns the number of stored entries, expired ones included until touched.
func (mc *MemoryCache) Len() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return len(mc.data)
}

// Hits returns the access counter of key, or -1 when absent.
func (mc *MemoryCache) Hits(key string) int64 {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	if item, ok := mc.data[key]; ok {
		return item.Hits
	}
	return -1
}

// Stats returns current counters.
func (mc *MemoryCache) Stats() Stats {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	s := Stats{
		Hits:      mc.hits,
		Misses:    mc.misses,
		Evictions: mc.evictions,
		Size:      len(mc.data),
		MaxSize:   mc.maxSize,
	}
	if total := mc.hits + mc.misses; total > 0 {
		s.HitRate = float64(mc.hits) / float64(total)
	}
	return s
}

// Clear drops every entry and resets counters.
func (mc *MemoryCache) Clear() {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.data = make(map[string]*MemoryItem, mc.maxSize)
	mc.hits = 0
	mc.misses = 0
	mc.evictions = 0
}

// evictLeastUsed must be called with the mutex held.
func (mc *MemoryCache) evictLeastUsed() string {
	var victim string
	var victimItem *MemoryItem

	for key, item := range mc.data {
		if victimItem == nil ||
			item.Hits < victimItem.Hits ||
			(item.Hits == victimItem.Hits && item.StoredAt.Before(victimItem.StoredAt)) {
			victim = key
			victimItem = item
		}
	}

	if victimItem != nil {
		delete(mc.data, victim)
		mc.evictions++
	}
	return victim
}

func (mc *MemoryCache) expired(item *MemoryItem, now time.Time) bool {
	return mc.ttl > 0 && now.Sub(item.StoredAt) > mc.ttl
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.stopCh:
			return
		case <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			now := mc.now()
			for key, item := range mc.data {
				if mc.expired(item, now) {
					delete(mc.data, key)
				}
			}
			mc.mutex.Unlock()
		}
	}
}

// Close stops the cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		if mc.cleanupTicker != nil {
			mc.cleanupTicker.Stop()
		}
		close(mc.stopCh)
	})
	return nil
}
