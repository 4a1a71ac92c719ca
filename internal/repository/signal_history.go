package repository

import (
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/config"
)

// MemoryHistory is the bounded per-strategy signal history. Entries are kept
// oldest first and trimmed by count and retention age on every append.
type MemoryHistory struct {
	mu         sync.RWMutex
	byStrategy map[string][]models.SignalHistoryEntry
	maxSize    int
	retention  time.Duration
	now        func() time.Time
}

// NewMemoryHistory creates the history store. A nil clock means time.Now.
func NewMemoryHistory(cfg config.GeneratorConfig, now func() time.Time) *MemoryHistory {
	if now == nil {
		now = time.Now
	}
	maxSize := cfg.HistoryMaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryHistory{
		byStrategy: make(map[string][]models.SignalHistoryEntry),
		maxSize:    maxSize,
		retention:  time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
		now:        now,
	}
}

func (h *MemoryHistory) Append(strategyID string, entries ...models.SignalHistoryEntry) {
	if len(entries) == 0 {
		return
	}
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.byStrategy[strategyID]
	for _, e := range entries {
		if e.StoredAt.IsZero() {
			e.StoredAt = now
		}
		list = append(list, e)
	}
	list, _ = h.trim(list, now)
	h.byStrategy[strategyID] = list
}

// Query returns matching entries newest first.
func (h *MemoryHistory) Query(strategyID string, filter models.HistoryFilter) []models.SignalHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.byStrategy[strategyID]
	out := make([]models.SignalHistoryEntry, 0)
	for i := len(list) - 1; i >= 0; i-- {
		if !filter.Match(&list[i]) {
			continue
		}
		out = append(out, list[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Recent returns signals for symbol stored at or after since, oldest first.
// An empty symbol matches every symbol.
func (h *MemoryHistory) Recent(strategyID, symbol string, since time.Time) []models.StrategySignal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []models.StrategySignal
	for _, e := range h.byStrategy[strategyID] {
		if e.StoredAt.Before(since) {
			continue
		}
		if symbol != "" && e.Signal.Symbol != symbol {
			continue
		}
		out = append(out, e.Signal)
	}
	return out
}

// Prune applies the retention cutoff to every strategy and returns how many entries were removed.
func (h *MemoryHistory) Prune(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, list := range h.byStrategy {
		trimmed, n := h.trim(list, now)
		removed += n
		if len(trimmed) == 0 {
			delete(h.byStrategy, id)
			continue
		}
		h.byStrategy[id] = trimmed
	}
	return removed
}

// Len returns the number of entries held for a strategy.
func (h *MemoryHistory) Len(strategyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byStrategy[strategyID])
}

// trim must be called with the lock held.
func (h *MemoryHistory) trim(list []models.SignalHistoryEntry, now time.Time) ([]models.SignalHistoryEntry, int) {
	before := len(list)
	if h.retention > 0 {
		cutoff := now.Add(-h.retention)
		i := 0
		for i < len(list) && list[i].StoredAt.Before(cutoff) {
			i++
		}
		list = list[i:]
	}
	if len(list) > h.maxSize {
		list = list[len(list)-h.maxSize:]
	}
	if len(list) < before {
		list = append([]models.SignalHistoryEntry(nil), list...)
	}
	return list, before - len(list)
}

var _ repository.SignalHistory = (*MemoryHistory)(nil)
