package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEveryRunsUntilStopped(t *testing.T) {
	g := NewGroup(context.Background(), nil)
	var n atomic.Int32
	g.Every("count", 5*time.Millisecond, func(context.Context) { n.Add(1) })

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	g.Stop()

	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.Load(), "no ticks after Stop")
	assert.Equal(t, []string{"count"}, g.Tasks())
}

func TestPanickingTaskKeepsTicking(t *testing.T) {
	g := NewGroup(context.Background(), nil)
	defer g.Stop()

	var n atomic.Int32
	g.Every("flaky", 5*time.Millisecond, func(context.Context) {
		if n.Add(1) == 1 {
			panic("first tick fails")
		}
	})

	assert.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestInvalidIntervalIsIgnored(t *testing.T) {
	g := NewGroup(context.Background(), nil)
	g.Every("never", 0, func(context.Context) {})
	g.Stop()
	assert.Empty(t, g.Tasks())
}
