package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrFull is returned by Push once the queue holds capacity items.
var ErrFull = errors.New("queue: full")

// Item is a queued value with its scheduling bookkeeping.
type Item[T any] struct {
	Value      T
	Priority   int
	EnqueuedAt time.Time
	Retries    int
	MaxRetries int
}

// Tier names a priority tier.
type Tier string

const (
	TierHigh    Tier = "high"
	TierRegular Tier = "regular"
)

// PriorityQueue is a two-tier queue with a shared capacity. Items at or above
// the high-priority threshold are kept sorted by descending priority (FIFO
// among equals); the regular tier is FIFO.
type PriorityQueue[T any] struct {
	mu        sync.Mutex
	high      []Item[T]
	regular   []Item[T]
	threshold int
	capacity  int
}

// NewPriorityQueue creates a queue. Items with Priority >= threshold go to the high tier.
func NewPriorityQueue[T any](threshold, capacity int) *PriorityQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriorityQueue[T]{threshold: threshold, capacity: capacity}
}

// Push admits item unless the queue is full. It returns the tier used.
func (q *PriorityQueue[T]) Push(item Item[T]) (Tier, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.high)+len(q.regular) >= q.capacity {
		return "", ErrFull
	}
	if item.Priority >= q.threshold {
		i := sort.Search(len(q.high), func(i int) bool { return q.high[i].Priority < item.Priority })
		q.high = append(q.high, Item[T]{})
		copy(q.high[i+1:], q.high[i:])
		q.high[i] = item
		return TierHigh, nil
	}
	q.regular = append(q.regular, item)
	return TierRegular, nil
}

// PushRegular admits item on the regular tier regardless of its priority.
func (q *PriorityQueue[T]) PushRegular(item Item[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.high)+len(q.regular) >= q.capacity {
		return ErrFull
	}
	q.regular = append(q.regular, item)
	return nil
}

// PopN removes up to n items, high tier first.
func (q *PriorityQueue[T]) PopN(n int) []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return nil
	}
	out := make([]Item[T], 0, min(n, len(q.high)+len(q.regular)))
	take := min(n, len(q.high))
	out = append(out, q.high[:take]...)
	q.high = shift(q.high, take)

	take = min(n-len(out), len(q.regular))
	out = append(out, q.regular[:take]...)
	q.regular = shift(q.regular, take)
	return out
}

// Drain removes every item, high tier first.
func (q *PriorityQueue[T]) Drain() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item[T], 0, len(q.high)+len(q.regular))
	out = append(out, q.high...)
	out = append(out, q.regular...)
	q.high, q.regular = nil, nil
	return out
}

// Lens returns the depth of each tier.
func (q *PriorityQueue[T]) Lens() (high, regular int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high), len(q.regular)
}

func (q *PriorityQueue[T]) Len() int {
	h, r := q.Lens()
	return h + r
}

func (q *PriorityQueue[T]) Capacity() int { return q.capacity }

func shift[T any](s []Item[T], n int) []Item[T] {
	if n == len(s) {
		return nil
	}
	var zero Item[T]
	for i := 0; i < n; i++ {
		s[i] = zero
	}
	return s[n:]
}
