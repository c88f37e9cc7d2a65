package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTick(t *testing.T) {
	c := New()
	require.EqualValues(t, 0, c.Value())
	require.EqualValues(t, 1, c.Tick())
}

func TestObserve(t *testing.T) {
	c := New()
	c.Tick() // value == 1
	got := c.Observe(5)
	require.EqualValues(t, 6, got)
	require.EqualValues(t, 6, c.Value())
}

func TestObserveDoesNotRegress(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	got := c.Observe(1)
	require.EqualValues(t, 11, got)
}

func TestMonotonicAcrossMixedOps(t *testing.T) {
	c := New()
	prev := c.Value()
	ops := []uint64{0, 2, 2, 9, 1, 0}
	for _, ts := range ops {
		next := c.Observe(ts)
		require.Greater(t, next, prev)
		prev = next
	}
}
