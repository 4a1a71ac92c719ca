package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SignalEngine/pkg/logger"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	Kind    string
	Time    time.Time
	Payload any
}

// Handler consumes events on the subscriber's own goroutine.
type Handler func(Event)

// Option configures Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

type subscription struct {
	name    string
	kinds   map[string]struct{}
	ch      chan Event
	handler Handler
	dropped atomic.Int64
}

func (s *subscription) wants(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus fans events out to subscribers. Publish never blocks: an event is dropped
// for a subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	closed  bool
	bufSize int
	dropped atomic.Int64
	wg      sync.WaitGroup
	log     *logger.Logger
	now     func() time.Time
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		bufSize: 256,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for the given kinds (all kinds when none given).
func (b *Bus) Subscribe(name string, handler Handler, kinds ...string) {
	sub := &subscription{
		name:    name,
		kinds:   make(map[string]struct{}, len(kinds)),
		ch:      make(chan Event, b.bufSize),
		handler: handler,
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	go b.run(sub)
}

// Publish delivers an event to every interested subscriber without blocking.
func (b *Bus) Publish(kind string, payload any) {
	ev := Event{Kind: kind, Time: b.now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events discarded because a subscriber was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops accepting events and waits until subscribers drain their buffers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for ev := range sub.ch {
		b.deliver(sub, ev)
	}
	if n := sub.dropped.Load(); n > 0 {
		b.log.Warn("subscriber dropped events",
			logger.String("subscriber", sub.name),
			logger.Int64("dropped", n))
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic",
				logger.String("subscriber", sub.name),
				logger.String("kind", ev.Kind),
				logger.Error(fmt.Errorf("%v", r)))
		}
	}()
	sub.handler(ev)
}
