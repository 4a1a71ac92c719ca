package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/events"
	"SignalEngine/pkg/logger"
)

// Execer is the write side of *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const archiveChunk = 2000

// ClickHouseSignalArchive buffers generated signals from the event bus and
// writes them to ClickHouse in multi-row inserts.
type ClickHouseSignalArchive struct {
	db            Execer
	table         string
	log           *logger.Logger
	flushSize     int
	flushInterval time.Duration

	mu  sync.Mutex
	buf []models.StrategySignal

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewClickHouseSignalArchive(db Execer, table string, flushSize int, flushInterval time.Duration, log *logger.Logger) *ClickHouseSignalArchive {
	if log == nil {
		log = logger.Nop()
	}
	if flushSize <= 0 {
		flushSize = 500
	}
	return &ClickHouseSignalArchive{
		db:            db,
		table:         table,
		log:           log,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Schema returns the DDL for the archive table.
func (a *ClickHouseSignalArchive) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    created_at DateTime64(3),
    id String,
    strategy_id LowCardinality(String),
    request_id String,
    symbol LowCardinality(String),
    timeframe LowCardinality(String),
    type LowCardinality(String),
    confidence Float64,
    strength Float64,
    entry_price Float64,
    stop_loss Float64,
    take_profit Float64,
    conditions Array(String),
    metadata String
) ENGINE = MergeTree
ORDER BY (strategy_id, symbol, created_at)`, a.table)}
}

// Archive inserts signals in chunks.
func (a *ClickHouseSignalArchive) Archive(ctx context.Context, signals []models.StrategySignal) error {
	for start := 0; start < len(signals); start += archiveChunk {
		end := start + archiveChunk
		if end > len(signals) {
			end = len(signals)
		}
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*14)
		for i := range signals[start:end] {
			s := &signals[start+i]
			meta, err := json.Marshal(s.Metadata)
			if err != nil {
				meta = []byte("{}")
			}
			conds := s.Conditions
			if conds == nil {
				conds = []string{}
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				s.CreatedAt, s.ID, s.StrategyID, s.RequestID, s.Symbol, string(s.Timeframe), string(s.Type),
				s.Confidence, s.Strength, s.EntryPrice, s.StopLoss, s.TakeProfit, conds, string(meta),
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (created_at, id, strategy_id, request_id, symbol, timeframe, type, confidence, strength, entry_price, stop_loss, take_profit, conditions, metadata) VALUES %s",
			a.table, strings.Join(values, ","))
		if _, err := a.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("archive signals: %w", err)
		}
	}
	return nil
}

// Handle buffers signal.generated events; subscribe it on the bus.
func (a *ClickHouseSignalArchive) Handle(ev events.Event) {
	sig, ok := ev.Payload.(models.StrategySignal)
	if !ok {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, sig)
	full := len(a.buf) >= a.flushSize
	a.mu.Unlock()
	if full {
		a.Flush(context.Background())
	}
}

// Start runs the periodic flush until Close.
func (a *ClickHouseSignalArchive) Start() {
	if a.flushInterval <= 0 {
		close(a.done)
		return
	}
	go func() {
		defer close(a.done)
		t := time.NewTicker(a.flushInterval)
		defer t.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-t.C:
				a.Flush(context.Background())
			}
		}
	}()
}

// Flush writes buffered signals. Failed batches are logged and dropped.
func (a *ClickHouseSignalArchive) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Archive(ctx, batch); err != nil {
		a.log.Error("signal archive flush failed", logger.Int("signals", len(batch)), logger.Error(err))
		return
	}
	a.log.Debug("signal archive flushed", logger.Int("signals", len(batch)))
}

// Close stops the flush loop and writes what is left.
func (a *ClickHouseSignalArchive) Close() error {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
	}
	a.Flush(context.Background())
	return nil
}

var _ repository.SignalArchive = (*ClickHouseSignalArchive)(nil)
