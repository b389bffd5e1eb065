package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestProfiler_ReportsOncePerInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithClock(clock.now), WithInterval(2*time.Second), WithMemStats(false))

	for i := 0; i < 9; i++ {
		clock.t = clock.t.Add(200 * time.Millisecond)
		_, ok := p.Tick(uint64(i))
		require.False(t, ok, "tick %d", i)
	}

	clock.t = clock.t.Add(200 * time.Millisecond)
	r, ok := p.Tick(20)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, r.Elapsed)
	assert.InDelta(t, 5.0, r.TickRate, 1e-9)
	assert.InDelta(t, 10.0, r.DispatchRate, 1e-9)
	assert.Equal(t, r, p.Last())

	clock.t = clock.t.Add(2 * time.Second)
	r, ok = p.Tick(24)
	require.True(t, ok)
	assert.InDelta(t, 0.5, r.TickRate, 1e-9)
	assert.InDelta(t, 2.0, r.DispatchRate, 1e-9)
}

func TestProfiler_MemStats(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithClock(clock.now), WithInterval(time.Millisecond))

	clock.t = clock.t.Add(time.Second)
	r, ok := p.Tick(0)
	require.True(t, ok)
	assert.Positive(t, r.HeapMB)
}
