// Package tick runs the execution thread: a goroutine locked to its OS thread that applies
// queued commands and ticks registered tickables once per frame.
package tick

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// ErrStopped is returned when work is submitted to a render thread that is not running.
var ErrStopped = errors.New("tick: render thread is not running")

// CommandContext is handed to commands and tickables running on the render thread.
type CommandContext struct {
	// Context carries the render thread's logger and is cancelled when the thread stops.
	Context context.Context
	// Frame is the index of the frame being ticked, starting at 1. Commands run between
	// frames see the index of the last ticked frame.
	Frame uint64
	// DeltaTime is the time in seconds since the previous frame.
	DeltaTime float32

	rt *renderThread
}

// Unregister removes t from the render thread immediately. It is the render-thread
// counterpart of RenderThread.Unregister and is safe to call from within a Tick.
//
// Parameters:
//   - t: the tickable to remove
func (c CommandContext) Unregister(t Tickable) {
	if c.rt != nil {
		c.rt.remove(t)
	}
}

// Command is work executed on the render thread.
type Command func(ctx CommandContext)

// Tickable receives one call per frame on the render thread while registered.
type Tickable interface {
	// Tick is called once per frame on the render thread.
	//
	// Parameters:
	//   - ctx: the frame's command context
	Tick(ctx CommandContext)
}

// renderThread is the implementation of the RenderThread interface.
type renderThread struct {
	name      string
	frameRate time.Duration

	mu      sync.Mutex
	queue   []Command
	running bool
	wake    chan struct{}
	stepCh  chan chan struct{}
	quit    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	tickables []Tickable
	frame     uint64
	lastFrame time.Time
	ctx       context.Context
}

// RenderThread is the single execution thread. All GPU command recording happens on it;
// other goroutines hand work over with Enqueue and wait for it with Flush.
type RenderThread interface {
	// Start launches the render goroutine. Calling Start on a running thread is a no-op.
	Start()

	// Stop signals the render goroutine to exit and waits for it. Queued commands that have
	// not run are dropped. Safe to call multiple times.
	Stop()

	// Running reports whether the render goroutine is running.
	//
	// Returns:
	//   - bool: true between Start and Stop
	Running() bool

	// Enqueue schedules cmd to run on the render thread before the next frame. It never
	// blocks and may be called from the render thread itself.
	//
	// Parameters:
	//   - cmd: the command to run
	//
	// Returns:
	//   - error: ErrStopped if the thread is not running
	Enqueue(cmd Command) error

	// Flush blocks until every command enqueued before the call has run. It must not be
	// called from the render thread.
	//
	// Returns:
	//   - error: ErrStopped if the thread stops before the commands ran
	Flush() error

	// Step runs one frame and blocks until it finished. It must not be called from the
	// render thread.
	//
	// Returns:
	//   - error: ErrStopped if the thread is not running
	Step() error

	// Register adds t to the tickables and blocks until the render thread applied it. From
	// the next frame on, t is ticked once per frame.
	//
	// Parameters:
	//   - t: the tickable to add
	//
	// Returns:
	//   - error: ErrStopped if the thread is not running
	Register(t Tickable) error

	// Unregister removes t and blocks until the render thread applied it. Once it returns
	// t is never ticked again. It must not be called from the render thread.
	//
	// Parameters:
	//   - t: the tickable to remove
	//
	// Returns:
	//   - error: ErrStopped if the thread is not running
	Unregister(t Tickable) error

	// Tickables returns the number of registered tickables.
	//
	// Returns:
	//   - int: the registered tickable count
	Tickables() int

	// Frame returns the number of frames ticked so far.
	//
	// Returns:
	//   - uint64: the frame count
	Frame() uint64
}

var _ RenderThread = &renderThread{}

// NewRenderThread creates a stopped render thread.
//
// Parameters:
//   - options: functional options for the render thread
//
// Returns:
//   - RenderThread: the new render thread
func NewRenderThread(options ...RenderThreadBuilderOption) RenderThread {
	rt := &renderThread{name: "render"}
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

func (rt *renderThread) Start() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.ctx = klog.NewContext(ctx, klog.Background().WithValues("thread", rt.name))
	rt.cancel = cancel
	rt.wake = make(chan struct{}, 1)
	rt.stepCh = make(chan chan struct{})
	rt.quit = make(chan struct{})
	rt.done = make(chan struct{})
	rt.running = true
	go rt.loop(rt.quit, rt.done, rt.wake, rt.stepCh)
}

func (rt *renderThread) Stop() {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return
	}
	rt.running = false
	rt.queue = nil
	close(rt.quit)
	done := rt.done
	rt.mu.Unlock()

	<-done
	rt.cancel()
}

func (rt *renderThread) Running() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.running
}

func (rt *renderThread) Enqueue(cmd Command) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.running {
		return ErrStopped
	}
	rt.queue = append(rt.queue, cmd)
	select {
	case rt.wake <- struct{}{}:
	default:
	}
	return nil
}

func (rt *renderThread) Flush() error {
	applied := make(chan struct{})
	if err := rt.Enqueue(func(CommandContext) { close(applied) }); err != nil {
		return err
	}
	rt.mu.Lock()
	done := rt.done
	rt.mu.Unlock()
	select {
	case <-applied:
		return nil
	case <-done:
		return ErrStopped
	}
}

func (rt *renderThread) Step() error {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return ErrStopped
	}
	stepCh, done := rt.stepCh, rt.done
	rt.mu.Unlock()

	reply := make(chan struct{})
	select {
	case stepCh <- reply:
	case <-done:
		return ErrStopped
	}
	select {
	case <-reply:
		return nil
	case <-done:
		return ErrStopped
	}
}

func (rt *renderThread) Frame() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.frame
}

// loop is the render goroutine, pinned to one OS thread.
func (rt *renderThread) loop(quit, done, wake chan struct{}, stepCh chan chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	var tickC <-chan time.Time
	if rt.frameRate > 0 {
		ticker := time.NewTicker(rt.frameRate)
		defer ticker.Stop()
		tickC = ticker.C
	}
	rt.lastFrame = time.Now()
	logger := klog.FromContext(rt.ctx)
	logger.V(2).Info("Render thread started", "frameRate", rt.frameRate)

	for {
		select {
		case <-quit:
			logger.V(2).Info("Render thread stopped", "frames", rt.Frame())
			return
		case <-wake:
			rt.drain()
		case <-tickC:
			rt.drain()
			rt.tick()
		case reply := <-stepCh:
			rt.drain()
			rt.tick()
			close(reply)
		}
	}
}

// drain runs every queued command, including commands queued by the commands themselves.
func (rt *renderThread) drain() {
	for {
		rt.mu.Lock()
		if len(rt.queue) == 0 || !rt.running {
			rt.mu.Unlock()
			return
		}
		cmds := rt.queue
		rt.queue = nil
		frame := rt.frame
		rt.mu.Unlock()

		ctx := CommandContext{Context: rt.ctx, Frame: frame, rt: rt}
		for _, cmd := range cmds {
			rt.safely("command", func() { cmd(ctx) })
		}
	}
}

func (rt *renderThread) tick() {
	now := time.Now()
	dt := float32(now.Sub(rt.lastFrame).Seconds())
	rt.lastFrame = now

	rt.mu.Lock()
	rt.frame++
	frame := rt.frame
	rt.mu.Unlock()

	ctx := CommandContext{Context: rt.ctx, Frame: frame, DeltaTime: dt, rt: rt}
	rt.mu.Lock()
	ticking := append([]Tickable(nil), rt.tickables...)
	rt.mu.Unlock()
	for _, t := range ticking {
		rt.safely("tick", func() { t.Tick(ctx) })
	}
	// Commands enqueued by tickables run before the next frame.
	rt.drain()
}

// safely runs fn, logging a panic instead of letting it take down the render thread.
func (rt *renderThread) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			klog.FromContext(rt.ctx).Error(fmt.Errorf("panic: %v", r), "Render thread recovered from panic", "in", what)
		}
	}()
	fn()
}

func (rt *renderThread) Register(t Tickable) error {
	if err := rt.Enqueue(func(CommandContext) { rt.add(t) }); err != nil {
		return err
	}
	return rt.Flush()
}

func (rt *renderThread) Unregister(t Tickable) error {
	if err := rt.Enqueue(func(CommandContext) { rt.remove(t) }); err != nil {
		return err
	}
	return rt.Flush()
}

func (rt *renderThread) Tickables() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.tickables)
}

func (rt *renderThread) add(t Tickable) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, x := range rt.tickables {
		if x == t {
			return
		}
	}
	rt.tickables = append(rt.tickables, t)
}

func (rt *renderThread) remove(t Tickable) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, x := range rt.tickables {
		if x == t {
			rt.tickables = append(rt.tickables[:i:i], rt.tickables[i+1:]...)
			return
		}
	}
}
