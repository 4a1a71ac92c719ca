package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a keyed token bucket.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

// New creates a limiter. A nil clock means time.Now.
func New(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{m: make(map[string]*bucket), now: now}
}

// PerInterval returns the capacity and refill rate that allow n events per interval.
func PerInterval(n int, interval time.Duration) (capacity, refillPerSec float64) {
	if n <= 0 || interval <= 0 {
		return 0, 0
	}
	return float64(n), float64(n) / interval.Seconds()
}

// Allow consumes one token for key when available.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key, capacity, refillPerSec, now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining reports the whole tokens left for key without consuming.
func (l *Limiter) Remaining(key string, capacity, refillPerSec float64) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.refill(key, capacity, refillPerSec, now).tokens)
}

// must be called with the lock held
func (l *Limiter) refill(key string, capacity, refillPerSec float64, now time.Time) *bucket {
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
		return b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	return b
}
