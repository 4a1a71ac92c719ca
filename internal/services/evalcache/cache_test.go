package evalcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/pkg/cache"
	"SignalEngine/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.CacheEvictionEvent
}

func (p *recordingPublisher) Publish(kind string, payload any) {
	if kind != models.EventCacheEviction {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, payload.(models.CacheEvictionEvent))
	p.mu.Unlock()
}

func evalCtx(ts time.Time) *models.EvaluationContext {
	return &models.EvaluationContext{Timestamp: ts, Symbol: "BTC-USD", Timeframe: models.TF1h}
}

func testConfig(ttl, maxSize int) config.CacheConfig {
	return config.CacheConfig{TTLSeconds: ttl, MaxSize: maxSize}
}

func TestCacheHitThenMissAfterTTL(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := New(testConfig(5, 2), WithClock(clk.Now))
	defer c.Close()
	ctx := context.Background()
	ctx1 := evalCtx(clk.Now())

	r1 := models.ConditionEvaluationResult{ConditionID: "A", Success: true, Value: true, Confidence: 0.8}
	c.Set(ctx, "A", ctx1, r1)

	clk.Advance(time.Second)
	got, ok := c.Get(ctx, "A", ctx1)
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, 0.8, got.Confidence)

	clk.Advance(5 * time.Second)
	_, ok = c.Get(ctx, "A", ctx1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestKeyDependsOnMarketCoordinates(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	a := Key("c1", evalCtx(ts))
	assert.Equal(t, "eval:c1:BTC-USD:1h:1700000000000", a)
	assert.NotEqual(t, a, Key("c1", evalCtx(ts.Add(time.Minute))))
	assert.NotEqual(t, a, Key("c2", evalCtx(ts)))
}

func TestEvictionPublishesEvent(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	pub := &recordingPublisher{}
	c := New(testConfig(60, 2), WithClock(clk.Now), WithPublisher(pub))
	defer c.Close()
	ctx := context.Background()
	ec := evalCtx(clk.Now())

	c.Set(ctx, "hot", ec, models.ConditionEvaluationResult{ConditionID: "hot"})
	clk.Advance(time.Millisecond)
	c.Set(ctx, "cold", ec, models.ConditionEvaluationResult{ConditionID: "cold"})
	_, _ = c.Get(ctx, "hot", ec)

	c.Set(ctx, "new", ec, models.ConditionEvaluationResult{ConditionID: "new"})

	require.Len(t, pub.events, 1)
	assert.Equal(t, Key("cold", ec), pub.events[0].Key)
	_, ok := c.Get(ctx, "hot", ec)
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Stats().Size, 2)
}

func TestCachedResultIsNotShared(t *testing.T) {
	c := New(testConfig(60, 10))
	defer c.Close()
	ctx := context.Background()
	ec := evalCtx(time.Unix(1_700_000_000, 0))

	c.Set(ctx, "A", ec, models.ConditionEvaluationResult{ConditionID: "A", Metadata: map[string]any{"k": 1}})
	got, _ := c.Get(ctx, "A", ec)
	got.Metadata["k"] = 2

	again, _ := c.Get(ctx, "A", ec)
	assert.Equal(t, 1, again.Metadata["k"])
}

func TestClearResetsCounters(t *testing.T) {
	c := New(testConfig(60, 10))
	defer c.Close()
	ctx := context.Background()
	ec := evalCtx(time.Unix(1_700_000_000, 0))

	c.Set(ctx, "A", ec, models.ConditionEvaluationResult{ConditionID: "A"})
	_, _ = c.Get(ctx, "A", ec)
	_, _ = c.Get(ctx, "B", ec)
	assert.InDelta(t, 0.5, c.HitRate(), 1e-9)

	require.NoError(t, c.Clear(ctx))
	s := c.Stats()
	assert.Zero(t, s.Size)
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
	assert.Zero(t, c.HitRate())
}

func TestRemoteLevelServesLocalMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote := cache.NewRedisCacheFromClient(client, "test")
	ctx := context.Background()
	ec := evalCtx(time.Unix(1_700_000_000, 0))

	writer := New(testConfig(60, 10), WithRemote(remote))
	defer writer.Close()
	writer.Set(ctx, "A", ec, models.ConditionEvaluationResult{ConditionID: "A", Success: true, Confidence: 0.7})

	reader := New(testConfig(60, 10), WithRemote(remote))
	defer reader.Close()
	got, ok := reader.Get(ctx, "A", ec)
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, 0.7, got.Confidence)
	assert.EqualValues(t, 1, reader.RemoteHits())

	st := reader.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.Zero(t, st.Misses)
	assert.Equal(t, 1.0, reader.HitRate())

	_, ok = reader.Get(ctx, "B", ec)
	require.False(t, ok)
	assert.InDelta(t, 0.5, reader.HitRate(), 1e-9)

	require.NoError(t, reader.Clear(ctx))
	assert.Zero(t, reader.RemoteHits())
	assert.Zero(t, reader.HitRate())

	writer.Set(ctx, "A", ec, models.ConditionEvaluationResult{ConditionID: "A", Success: true, Confidence: 0.7})
	require.NoError(t, writer.Clear(ctx))
	assert.False(t, mr.Exists("test:"+Key("A", ec)))
}
