package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/graph"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
	"k8s.io/klog/v2"
)

// errPipelineUnavailable marks a pipeline whose compilation already failed once.
var errPipelineUnavailable = errors.New("pipeline unavailable")

// Dispatch records the inputs of one executed dispatch for diagnostics.
type Dispatch struct {
	// Frame is the render thread frame the dispatch ran on.
	Frame uint64
	// Kernel is the kernel name.
	Kernel string
	// Uniforms is the encoded uniform block.
	Uniforms []byte
	// Spheres is the uploaded sphere buffer, empty for kernels without one.
	Spheres []byte
	// Samples is the uploaded random sample buffer, empty for kernels without one.
	Samples []byte
	// Readback holds the random sample buffer as read back after the dispatch, when the
	// diagnostic export is enabled.
	Readback []byte
	// Groups is the workgroup count.
	Groups [3]uint32
	// Passes are the executed pass names in execution order.
	Passes []string
}

// recorder records the kernel specific part of a dispatch into a graph.
type recorder[P any] interface {
	// descriptor returns the kernel descriptor a snapshot dispatches with.
	descriptor(p P) (*kernel.Descriptor, error)

	// record adds the kernel's resources and passes to b.
	record(b *graph.Builder, desc *kernel.Descriptor, pipeline device.PipelineID, p P) (Dispatch, error)
}

// Manager owns the latest parameter snapshot of one kernel use-site and dispatches it once
// per render thread frame while enabled. UpdateParameters, BeginRendering and
// EndRendering may be called from any goroutine.
type Manager[P Snapshot[P]] struct {
	name   string
	dev    device.Device
	rt     tick.RenderThread
	helper *tick.RenderTickHelper
	rec    recorder[P]

	mu     sync.Mutex
	params P
	valid  bool

	enabled    atomic.Bool
	closed     atomic.Bool
	supportErr error
	dispatches atomic.Uint64
	failures   atomic.Uint64

	lastMu sync.Mutex
	last   Dispatch
	hasRun bool

	// render thread only
	pipelines    map[*kernel.Descriptor]device.PipelineID
	pipelineErrs map[*kernel.Descriptor]error
	skipReason   string
}

// newManager runs the capability query against probe, then binds and registers the tick
// hook. It blocks until the render thread applied the registration.
func newManager[P Snapshot[P]](name string, dev device.Device, rt tick.RenderThread, probe *kernel.Descriptor, rec recorder[P]) (*Manager[P], error) {
	if dev == nil {
		panic("dispatch: manager requires a device")
	}
	if rt == nil {
		panic("dispatch: manager requires a render thread")
	}
	m := &Manager[P]{
		name:         name,
		dev:          dev,
		rt:           rt,
		rec:          rec,
		pipelines:    make(map[*kernel.Descriptor]device.PipelineID),
		pipelineErrs: make(map[*kernel.Descriptor]error),
	}
	if err := probe.Supported(dev); err != nil {
		m.supportErr = err
		m.logger().Error(err, "Compute dispatch unavailable, ticks are no-ops", "device", dev.Label())
	}

	m.helper = tick.NewRenderTickHelper(rt)
	m.helper.Bind(m.Tick)
	if err := m.helper.Register(); err != nil {
		m.helper.Unbind()
		return nil, fmt.Errorf("dispatch %s: register tick: %w", name, err)
	}
	return m, nil
}

func (m *Manager[P]) logger() klog.Logger {
	return klog.Background().WithValues("manager", m.name)
}

// Name returns the manager name used in log output.
func (m *Manager[P]) Name() string {
	return m.name
}

// Supported returns the cached capability query result: nil if the device can run the
// kernel.
func (m *Manager[P]) Supported() error {
	return m.supportErr
}

// BeginRendering enables dispatching from the next tick on.
func (m *Manager[P]) BeginRendering() {
	m.enabled.Store(true)
}

// EndRendering disables dispatching. A tick already running finishes its dispatch.
func (m *Manager[P]) EndRendering() {
	m.enabled.Store(false)
}

// Enabled reports whether the manager dispatches on tick.
func (m *Manager[P]) Enabled() bool {
	return m.enabled.Load()
}

// UpdateParameters replaces the cached snapshot with a copy of p. Only the most recent
// snapshot is ever dispatched.
//
// Parameters:
//   - p: the new snapshot
func (m *Manager[P]) UpdateParameters(p P) {
	p = p.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	m.valid = true
}

func (m *Manager[P]) snapshot() (P, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params, m.valid
}

// LastDispatch returns the record of the most recent successful dispatch.
//
// Returns:
//   - Dispatch: the record
//   - bool: false if nothing has been dispatched yet
func (m *Manager[P]) LastDispatch() (Dispatch, bool) {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return m.last, m.hasRun
}

// Dispatches returns the number of successful dispatches.
func (m *Manager[P]) Dispatches() uint64 {
	return m.dispatches.Load()
}

// Failures returns the number of dispatches that failed after passing their preconditions.
func (m *Manager[P]) Failures() uint64 {
	return m.failures.Load()
}

// State returns the registration state of the manager's tick hook.
func (m *Manager[P]) State() tick.TickState {
	return m.helper.State()
}

// Tick runs on the render thread once per frame. It dispatches the cached snapshot when
// the manager is enabled, the snapshot is valid and its preconditions hold.
//
// Parameters:
//   - ctx: the frame's command context
func (m *Manager[P]) Tick(ctx tick.CommandContext) {
	if m.supportErr != nil || !m.enabled.Load() {
		return
	}
	logger := klog.FromContext(ctx.Context).WithValues("manager", m.name)

	p, ok := m.snapshot()
	if !ok {
		m.skip(logger, "no parameters")
		return
	}
	if err := p.Dispatchable(); err != nil {
		m.skip(logger, err.Error())
		return
	}

	d, err := m.dispatch(p)
	if errors.Is(err, errPipelineUnavailable) {
		m.skip(logger, err.Error())
		return
	}
	if err != nil {
		m.failures.Add(1)
		logger.Error(err, "Dispatch failed", "frame", ctx.Frame)
		return
	}
	if m.skipReason != "" {
		logger.Info("Dispatch resumed", "frame", ctx.Frame)
		m.skipReason = ""
	}
	d.Frame = ctx.Frame
	m.dispatches.Add(1)

	m.lastMu.Lock()
	m.last, m.hasRun = d, true
	m.lastMu.Unlock()
	logger.V(4).Info("Dispatched", "frame", ctx.Frame, "groups", d.Groups, "passes", d.Passes)
}

// skip logs a precondition failure when the reason differs from the previous tick's.
func (m *Manager[P]) skip(logger klog.Logger, reason string) {
	if reason == m.skipReason {
		return
	}
	m.skipReason = reason
	logger.Info("Dispatch skipped", "reason", reason)
}

// dispatch builds and executes one graph for p.
func (m *Manager[P]) dispatch(p P) (Dispatch, error) {
	desc, err := m.rec.descriptor(p)
	if err != nil {
		return Dispatch{}, err
	}
	pipeline, err := m.pipeline(desc)
	if err != nil {
		return Dispatch{}, err
	}

	b := graph.NewBuilder(m.dev, m.name)
	d, err := m.rec.record(b, desc, pipeline, p)
	if err != nil {
		return Dispatch{}, err
	}
	if err := b.Execute(); err != nil {
		return Dispatch{}, err
	}
	d.Kernel = desc.Name()
	d.Passes = b.ExecutedPasses()
	return d, nil
}

// pipeline returns the compiled pipeline of desc, compiling it on first use. A failed
// compile is not retried; later calls return an error wrapping errPipelineUnavailable.
func (m *Manager[P]) pipeline(desc *kernel.Descriptor) (device.PipelineID, error) {
	if id, ok := m.pipelines[desc]; ok {
		return id, nil
	}
	if err, ok := m.pipelineErrs[desc]; ok {
		return 0, fmt.Errorf("%w: %w", errPipelineUnavailable, err)
	}
	id, err := m.dev.CreateComputePipeline(desc.Pipeline())
	if err != nil {
		err = fmt.Errorf("compile %s: %w", desc.Shader().Key(), err)
		m.pipelineErrs[desc] = err
		return 0, err
	}
	m.pipelines[desc] = id
	return id, nil
}

// Close unbinds and unregisters the tick hook, blocking until no tick can run, and then
// releases the compiled pipelines. Close is idempotent.
//
// Returns:
//   - error: the pipeline release error, if any
func (m *Manager[P]) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.enabled.Store(false)
	m.helper.Unbind()
	if err := m.helper.Unregister(); err != nil {
		m.logger().V(2).Info("Render thread already stopped", "err", err)
	}

	var (
		once       sync.Once
		releaseErr error
	)
	release := func(tick.CommandContext) {
		once.Do(func() {
			for desc, id := range m.pipelines {
				if err := m.dev.DestroyComputePipeline(id); err != nil && releaseErr == nil {
					releaseErr = fmt.Errorf("dispatch %s: release %s: %w", m.name, desc.Name(), err)
				}
				delete(m.pipelines, desc)
			}
		})
	}
	if err := m.rt.Enqueue(release); err == nil {
		err = m.rt.Flush()
		if err == nil {
			return releaseErr
		}
	}
	// The render thread is gone, so nothing else touches the device.
	release(tick.CommandContext{})
	return releaseErr
}
