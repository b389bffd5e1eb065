// Package engine hosts the two loops of a compute run: a fixed-rate producer loop that
// builds parameter snapshots, and the render thread that dispatches them. A window is
// optional; without one the engine runs headless until it is asked to quit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/profiler"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
	"k8s.io/klog/v2"
)

// ErrAlreadyRunning is returned when Run is called a second time.
var ErrAlreadyRunning = errors.New("engine: already running")

// Manager is the part of a dispatch manager the engine drives: it is reported on by the
// profiler and closed before the render thread stops.
type Manager interface {
	// Name returns the manager name used in log output.
	//
	// Returns:
	//   - string: the name
	Name() string

	// Dispatches returns the number of successful dispatches so far.
	//
	// Returns:
	//   - uint64: the dispatch count
	Dispatches() uint64

	// Close unregisters the manager from the render thread and releases its resources.
	//
	// Returns:
	//   - error: if releasing resources failed
	Close() error
}

// engine implements the Engine interface.
type engine struct {
	tickRateChannel chan time.Duration

	running atomic.Bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once

	rt          tick.RenderThread
	renderRate  float64
	window      window.Window
	titlePrefix string

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool
	lastReport       atomic.Pointer[profiler.Report]

	engineTickRate time.Duration
	maxTicks       uint64
	ticks          atomic.Uint64
	tickCallback   func(deltaTime float32)
	resizeCallback func(width, height int)

	mu       sync.Mutex
	managers []Manager
}

// Engine is the main entry point of a compute run. It owns the render thread, runs the
// producer loop and shuts everything down in order.
type Engine interface {
	// RenderThread returns the engine's render thread. It is running from construction
	// until Run returns, so managers can register with it.
	//
	// Returns:
	//   - tick.RenderThread: the render thread
	RenderThread() tick.RenderThread

	// Window returns the window, or nil for a headless engine.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// AddManager hands a dispatch manager to the engine. The engine reports its dispatch
	// rate and closes it when Run returns, in reverse order of addition.
	//
	// Parameters:
	//   - m: the manager
	AddManager(m Manager)

	// EnableProfiler enables the periodic statistics report.
	EnableProfiler()

	// DisableProfiler disables the periodic statistics report.
	DisableProfiler()

	// SetTickRate sets the producer tick rate in ticks per second.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the producer function called each engine tick. It runs on
	// the producer goroutine, never on the render thread.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// Ticks returns the number of producer ticks run so far.
	//
	// Returns:
	//   - uint64: the tick count
	Ticks() uint64

	// Dispatches returns the total dispatch count of every added manager.
	//
	// Returns:
	//   - uint64: the dispatch count
	Dispatches() uint64

	// Run starts the producer loop and blocks until Quit is called, ctx is done, the
	// window closes or the tick limit is reached. It then closes the managers and stops
	// the render thread. With a window, Run must be called on the goroutine that created it.
	//
	// Parameters:
	//   - ctx: cancels the run
	//
	// Returns:
	//   - error: ErrAlreadyRunning, or the joined manager close errors
	Run(ctx context.Context) error

	// Quit signals the run to stop. Safe to call multiple times and from any goroutine.
	Quit()
}

// NewEngine creates an Engine and starts its render thread.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		renderRate:      60,
		titlePrefix:     "oxy-compute",
		profiler:        profiler.NewProfiler(profiler.WithName("engine")),
		engineTickRate:  time.Second / 60,
	}
	for _, opt := range options {
		opt(e)
	}

	e.rt = tick.NewRenderThread(tick.WithName("render"), tick.WithFrameRate(e.renderRate))
	e.rt.Start()

	if e.window != nil {
		e.titlePrefix = e.window.Title()
		e.window.SetCloseCallback(e.Quit)
		e.window.SetResizeCallback(func(width, height int) {
			if e.resizeCallback != nil {
				e.resizeCallback(width, height)
			}
		})
	}
	return e
}

func (e *engine) RenderThread() tick.RenderThread {
	return e.rt
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) AddManager(m Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.managers = append(e.managers, m)
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if !e.running.Load() {
		e.engineTickRate = newRate
		return
	}
	// Replace any pending update so the loop only sees the latest rate.
	for {
		select {
		case e.tickRateChannel <- newRate:
			return
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
		}
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) Ticks() uint64 {
	return e.ticks.Load()
}

func (e *engine) Dispatches() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n uint64
	for _, m := range e.managers {
		n += m.Dispatches()
	}
	return n
}

func (e *engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	logger := klog.FromContext(ctx).WithValues("engine", e.titlePrefix)
	logger.Info("Engine started", "tickRate", float64(time.Second)/float64(e.engineTickRate), "renderRate", e.renderRate, "windowed", e.window != nil)

	e.wg.Add(2)
	go e.handleEngine(logger)
	go e.handleContext(ctx)

	if e.window != nil {
		e.window.SetUpdateCallback(e.windowUpdate)
		e.window.ProcessMessages()
		e.Quit()
	}
	<-e.quitChannel
	e.wg.Wait()

	err := e.shutdown(logger)
	logger.Info("Engine stopped", "ticks", e.Ticks(), "frames", e.rt.Frame())
	return err
}

// shutdown closes the managers before stopping the render thread, so no tick runs
// against a released manager.
func (e *engine) shutdown(logger klog.Logger) error {
	e.mu.Lock()
	managers := slices.Clone(e.managers)
	e.mu.Unlock()

	var errs []error
	for _, m := range slices.Backward(managers) {
		if err := m.Close(); err != nil {
			logger.Error(err, "Failed to close manager", "manager", m.Name())
			errs = append(errs, fmt.Errorf("close %s: %w", m.Name(), err))
		}
	}
	e.rt.Stop()
	if e.window != nil {
		if err := e.window.Close(); err != nil {
			logger.Error(err, "Failed to close window")
		}
	}
	return errors.Join(errs...)
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handleEngine runs the fixed-rate producer loop. It fires the tick callback at the
// configured rate and listens for rate changes until quit.
func (e *engine) handleEngine(logger klog.Logger) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Producer loop recovered from panic")
			e.Quit()
		}
	}()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		case now := <-ticker.C:
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
			n := e.ticks.Add(1)

			if e.profilingEnabled.Load() {
				if r, ok := e.profiler.Tick(e.Dispatches()); ok {
					e.lastReport.Store(&r)
				}
			}
			if e.maxTicks > 0 && n >= e.maxTicks {
				logger.V(1).Info("Tick limit reached", "ticks", n)
				e.Quit()
				return
			}
		}
	}
}

func (e *engine) handleContext(ctx context.Context) {
	defer e.wg.Done()
	select {
	case <-ctx.Done():
		e.Quit()
	case <-e.quitChannel:
	}
}

// windowUpdate runs on the window goroutine each message loop iteration. It closes the
// window once the run was asked to quit, which ends ProcessMessages.
func (e *engine) windowUpdate() {
	select {
	case <-e.quitChannel:
		if err := e.window.Close(); err != nil {
			klog.Background().Error(err, "Failed to close window")
		}
		return
	default:
	}
	r := e.lastReport.Load()
	if r == nil {
		return
	}
	title := fmt.Sprintf("%s | %.1f ticks/s | %.1f dispatches/s", e.titlePrefix, r.TickRate, r.DispatchRate)
	if title != e.window.Title() {
		e.window.SetTitle(title)
	}
}
