package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalEngine/pkg/logger"
)

// Group runs named periodic tasks and stops them together.
type Group struct {
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	names  []string
}

// NewGroup creates a task group bound to parent.
func NewGroup(parent context.Context, log *logger.Logger) *Group {
	if parent == nil {
		parent = context.Background()
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{log: log, ctx: ctx, cancel: cancel}
}

// Every runs task on each tick until the group is stopped. A panicking task is
// logged and the loop continues.
func (g *Group) Every(name string, interval time.Duration, task func(ctx context.Context)) {
	if interval <= 0 || task == nil {
		g.log.Warn("scheduler: task not started", logger.String("task", name), logger.Duration("interval_ms", interval))
		return
	}

	g.mu.Lock()
	g.names = append(g.names, name)
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.ctx.Done():
				return
			case <-ticker.C:
				g.runOnce(name, task)
			}
		}
	}()
}

func (g *Group) runOnce(name string, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("scheduler: task panic", logger.String("task", name), logger.Error(fmt.Errorf("%v", r)))
		}
	}()
	task(g.ctx)
}

// Tasks returns the names of started tasks.
func (g *Group) Tasks() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.names...)
}

// Stop cancels every task and waits for in-progress ticks to return.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
