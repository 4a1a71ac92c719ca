package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushRoutesByThreshold(t *testing.T) {
	q := NewPriorityQueue[string](8, 10)

	for _, p := range []struct {
		v    string
		prio int
	}{{"r1", 5}, {"h8", 8}, {"h10", 10}, {"r2", 1}, {"h9", 9}, {"h8b", 8}} {
		_, err := q.Push(Item[string]{Value: p.v, Priority: p.prio})
		require.NoError(t, err)
	}
	high, regular := q.Lens()
	assert.Equal(t, 4, high)
	assert.Equal(t, 2, regular)

	got := q.PopN(5)
	vals := make([]string, len(got))
	for i, it := range got {
		vals[i] = it.Value
	}
	assert.Equal(t, []string{"h10", "h9", "h8", "h8b", "r1"}, vals)
	assert.Equal(t, 1, q.Len())
}

func TestBackpressureAtCapacity(t *testing.T) {
	q := NewPriorityQueue[int](8, 100)
	for i := 0; i < 100; i++ {
		_, err := q.Push(Item[int]{Value: i, Priority: i%10 + 1})
		require.NoError(t, err)
	}
	_, err := q.Push(Item[int]{Value: 101, Priority: 10})
	assert.ErrorIs(t, err, ErrFull)
	assert.ErrorIs(t, q.PushRegular(Item[int]{Value: 102}), ErrFull)
	assert.Equal(t, 100, q.Len())
}

func TestPushRegularIgnoresPriority(t *testing.T) {
	q := NewPriorityQueue[string](8, 10)
	require.NoError(t, q.PushRegular(Item[string]{Value: "retry", Priority: 9}))
	h, r := q.Lens()
	assert.Zero(t, h)
	assert.Equal(t, 1, r)
}

func TestDrainEmptiesBothTiers(t *testing.T) {
	q := NewPriorityQueue[string](8, 10)
	_, _ = q.Push(Item[string]{Value: "r", Priority: 1})
	_, _ = q.Push(Item[string]{Value: "h", Priority: 9})

	all := q.Drain()
	require.Len(t, all, 2)
	assert.Equal(t, "h", all[0].Value)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.PopN(3))
}
