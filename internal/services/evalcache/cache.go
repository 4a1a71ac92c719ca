package evalcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/cache"
	"SignalEngine/pkg/config"
	"SignalEngine/pkg/logger"
)

const keyPrefix = "eval"

// Option configures Cache.
type Option func(*Cache)

// WithRemote sets a shared second-level cache consulted on local misses.
func WithRemote(svc cache.Service) Option {
	return func(c *Cache) { c.remote = svc }
}

// WithPublisher sets the sink for cache.eviction events.
func WithPublisher(p repository.EventPublisher) Option {
	return func(c *Cache) { c.pub = p }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache memoizes condition evaluation results per market context.
type Cache struct {
	mem         *cache.MemoryCache
	remote      cache.Service
	pub         repository.EventPublisher
	log         *logger.Logger
	now         func() time.Time
	ttl         time.Duration
	remoteHits  atomic.Int64
	remoteFails atomic.Int64
}

// New builds the evaluation cache from config.
func New(cfg config.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		log: logger.Nop(),
		now: time.Now,
		ttl: time.Duration(cfg.TTLSeconds) * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mem = cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.MaxSize),
		cache.WithMemoryTTL(c.ttl),
		cache.WithMemoryCleanup(cfg.CleanupInterval),
		cache.WithMemoryClock(c.now),
		cache.WithMemoryEviction(c.onEvict),
	)
	return c
}

// Key returns the cache key for a condition in an evaluation context.
func Key(conditionID string, ec *models.EvaluationContext) string {
	return cache.GenerateKeyWithParams(keyPrefix, conditionID, ec.Symbol, ec.Timeframe, ec.Timestamp.UnixMilli())
}

// Get returns a copy of the cached result with CacheHit set.
func (c *Cache) Get(ctx context.Context, conditionID string, ec *models.EvaluationContext) (models.ConditionEvaluationResult, bool) {
	key := Key(conditionID, ec)
	if v, ok := c.mem.Get(key); ok {
		res := v.(models.ConditionEvaluationResult).Clone()
		res.CacheHit = true
		return res, true
	}
	if c.remote == nil {
		return models.ConditionEvaluationResult{}, false
	}

	var res models.ConditionEvaluationResult
	if err := c.remote.Get(ctx, key, &res); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.remoteFails.Add(1)
			c.log.Warn("eval cache remote get failed", logger.String("key", key), logger.Error(err))
		}
		return models.ConditionEvaluationResult{}, false
	}
	c.remoteHits.Add(1)
	c.mem.Set(key, res.Clone())
	res.CacheHit = true
	return res, true
}

// Set stores result for the condition and context.
func (c *Cache) Set(ctx context.Context, conditionID string, ec *models.EvaluationContext, result models.ConditionEvaluationResult) {
	key := Key(conditionID, ec)
	result.CacheHit = false
	c.mem.Set(key, result.Clone())

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, result, c.ttl); err != nil {
			c.remoteFails.Add(1)
			c.log.Warn("eval cache remote set failed", logger.String("key", key), logger.Error(err))
		}
	}
}

// Clear drops local entries and counters, and remote entries when configured.
func (c *Cache) Clear(ctx context.Context) error {
	c.mem.Clear()
	c.remoteHits.Store(0)
	if c.remote == nil {
		return nil
	}
	return c.remote.DeleteByPattern(ctx, cache.BuildPattern(keyPrefix+":"))
}

// Stats returns the counters as seen by callers: a local miss served by the
// second level counts as a hit.
func (c *Cache) Stats() cache.Stats {
	remote := c.remoteHits.Load()
	s := c.mem.Stats()
	remote = min(remote, s.Misses)
	s.Hits += remote
	s.Misses -= remote
	s.HitRate = 0
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// HitRate is hits/(hits+misses) across both levels, 0 without accesses.
func (c *Cache) HitRate() float64 {
	return c.Stats().HitRate
}

// RemoteHits counts local misses served by the second level.
func (c *Cache) RemoteHits() int64 { return c.remoteHits.Load() }

func (c *Cache) Close() error {
	return c.mem.Close()
}

func (c *Cache) onEvict(key string) {
	c.log.Debug("eval cache eviction", logger.String("key", key))
	if c.pub != nil {
		c.pub.Publish(models.EventCacheEviction, models.CacheEvictionEvent{Key: key, Reason: "capacity"})
	}
}
