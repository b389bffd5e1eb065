package tick

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTickable struct {
	ticks atomic.Int64
}

func (c *countingTickable) Tick(CommandContext) { c.ticks.Add(1) }

func startManual(t *testing.T) RenderThread {
	t.Helper()
	rt := NewRenderThread(WithName(t.Name()))
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

func TestRenderThread_StoppedRejectsWork(t *testing.T) {
	rt := NewRenderThread()
	assert.False(t, rt.Running())
	assert.ErrorIs(t, rt.Enqueue(func(CommandContext) {}), ErrStopped)
	assert.ErrorIs(t, rt.Flush(), ErrStopped)
	assert.ErrorIs(t, rt.Step(), ErrStopped)
	assert.ErrorIs(t, rt.Register(&countingTickable{}), ErrStopped)

	rt.Start()
	assert.True(t, rt.Running())
	rt.Stop()
	rt.Stop()
	assert.False(t, rt.Running())
	assert.ErrorIs(t, rt.Step(), ErrStopped)
}

func TestRenderThread_FlushRunsCommandsInOrder(t *testing.T) {
	rt := startManual(t)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		require.NoError(t, rt.Enqueue(func(CommandContext) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, rt.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestRenderThread_NestedEnqueue(t *testing.T) {
	rt := startManual(t)

	var ran atomic.Int64
	var nested atomic.Bool
	require.NoError(t, rt.Enqueue(func(ctx CommandContext) {
		ran.Add(1)
		assert.NoError(t, ctx.rt.Enqueue(func(CommandContext) { nested.Store(true) }))
	}))
	require.NoError(t, rt.Flush())
	require.NoError(t, rt.Flush())
	assert.Equal(t, int64(1), ran.Load())
	assert.True(t, nested.Load())
}

func TestRenderThread_StepTicksRegistered(t *testing.T) {
	rt := startManual(t)
	c := &countingTickable{}

	require.NoError(t, rt.Register(c))
	require.NoError(t, rt.Register(c))
	assert.Equal(t, 1, rt.Tickables())

	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Step())
	}
	assert.Equal(t, int64(3), c.ticks.Load())
	assert.Equal(t, uint64(3), rt.Frame())

	require.NoError(t, rt.Unregister(c))
	assert.Equal(t, 0, rt.Tickables())
	require.NoError(t, rt.Step())
	assert.Equal(t, int64(3), c.ticks.Load())
}

func TestRenderThread_UnregisterBlocksUntilApplied(t *testing.T) {
	rt := NewRenderThread(WithFrameRate(1000))
	rt.Start()
	defer rt.Stop()

	c := &countingTickable{}
	require.NoError(t, rt.Register(c))
	require.Eventually(t, func() bool { return c.ticks.Load() > 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, rt.Unregister(c))
	after := c.ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, c.ticks.Load())
}

type panickingTickable struct{}

func (panickingTickable) Tick(CommandContext) { panic("boom") }

func TestRenderThread_RecoversFromPanics(t *testing.T) {
	rt := startManual(t)
	c := &countingTickable{}

	require.NoError(t, rt.Register(&panickingTickable{}))
	require.NoError(t, rt.Register(c))
	require.NoError(t, rt.Enqueue(func(CommandContext) { panic("command") }))
	require.NoError(t, rt.Step())
	require.NoError(t, rt.Step())

	assert.True(t, rt.Running())
	assert.Equal(t, int64(2), c.ticks.Load())
}

func TestRenderThread_DeltaTimeAndFrame(t *testing.T) {
	rt := startManual(t)

	var frames []uint64
	var deltas []float32
	require.NoError(t, rt.Register(&funcTickable{fn: func(ctx CommandContext) {
		frames = append(frames, ctx.Frame)
		deltas = append(deltas, ctx.DeltaTime)
	}}))
	require.NoError(t, rt.Step())
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, rt.Step())

	// Step blocks until the frame finished, so reading here is ordered after the writes.
	assert.Equal(t, []uint64{1, 2}, frames)
	require.Len(t, deltas, 2)
	assert.GreaterOrEqual(t, deltas[1], float32(0.004))
}

type funcTickable struct {
	fn func(CommandContext)
}

func (f *funcTickable) Tick(ctx CommandContext) { f.fn(ctx) }
