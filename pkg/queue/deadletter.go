package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter is a terminally failed unit of work.
type DeadLetter struct {
	ID       string          `json:"id"`
	Source   string          `json:"source"`
	Reason   string          `json:"reason"`
	Retries  int             `json:"retries"`
	FailedAt time.Time       `json:"failed_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// DeadLetterStore keeps the most recent dead letters, newest first.
type DeadLetterStore interface {
	Push(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}

// RedisDeadLetter stores dead letters in a capped Redis list.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisDeadLetter(client *redis.Client, prefix string, maxLen int64) *RedisDeadLetter {
	if prefix == "" {
		prefix = "signalengine"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisDeadLetter{client: client, key: prefix + ":deadletters", maxLen: maxLen}
}

func (r *RedisDeadLetter) Push(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, r.key, data)
		p.LTrim(ctx, r.key, 0, r.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lpush dead letter: %w", err)
	}
	return nil
}

func (r *RedisDeadLetter) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, s := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(s), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// MemoryDeadLetter is the in-process store used when Redis is disabled.
type MemoryDeadLetter struct {
	mu     sync.Mutex
	items  []DeadLetter
	maxLen int
}

func NewMemoryDeadLetter(maxLen int) *MemoryDeadLetter {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryDeadLetter{maxLen: maxLen}
}

func (m *MemoryDeadLetter) Push(_ context.Context, dl DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, dl)
	if len(m.items) > m.maxLen {
		m.items = append([]DeadLetter(nil), m.items[len(m.items)-m.maxLen:]...)
	}
	return nil
}

func (m *MemoryDeadLetter) List(_ context.Context, limit int) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, 0, min(limit, len(m.items)))
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

var (
	_ DeadLetterStore = (*RedisDeadLetter)(nil)
	_ DeadLetterStore = (*MemoryDeadLetter)(nil)
)
