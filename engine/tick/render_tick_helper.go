package tick

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// TickState is the registration state of a RenderTickHelper.
type TickState int

const (
	// TickStateUnregistered is not ticked by the render thread.
	TickStateUnregistered TickState = iota
	// TickStateRegisteredBound is ticked every frame and invokes its callback.
	TickStateRegisteredBound
	// TickStateRegisteredUnbound is registered without a callback and unregisters itself
	// on its next tick.
	TickStateRegisteredUnbound
)

func (s TickState) String() string {
	switch s {
	case TickStateUnregistered:
		return "unregistered"
	case TickStateRegisteredBound:
		return "registered (bound)"
	case TickStateRegisteredUnbound:
		return "registered (unbound)"
	default:
		return fmt.Sprintf("TickState(%d)", int(s))
	}
}

// RenderTickHelper is a per-frame hook on the render thread with a bindable callback.
// Register and Unregister block until the render thread applied the change. While
// registered without a callback the helper removes itself on its next tick.
type RenderTickHelper struct {
	rt RenderThread

	mu       sync.Mutex
	state    TickState
	callback Command
}

var _ Tickable = &RenderTickHelper{}

// NewRenderTickHelper creates an unregistered, unbound helper for rt.
//
// Parameters:
//   - rt: the render thread the helper registers with
//
// Returns:
//   - *RenderTickHelper: the new helper
func NewRenderTickHelper(rt RenderThread) *RenderTickHelper {
	if rt == nil {
		panic("tick: NewRenderTickHelper requires a render thread")
	}
	return &RenderTickHelper{rt: rt}
}

// State returns the current registration state.
func (h *RenderTickHelper) State() TickState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Bind sets the callback invoked every frame. A registered, unbound helper becomes bound.
func (h *RenderTickHelper) Bind(cb Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = cb
	if h.state == TickStateRegisteredUnbound && cb != nil {
		h.state = TickStateRegisteredBound
	}
}

// Unbind detaches the callback. It does not unregister the helper.
func (h *RenderTickHelper) Unbind() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = nil
	if h.state == TickStateRegisteredBound {
		h.state = TickStateRegisteredUnbound
	}
}

// Register starts per-frame ticks, blocking until the render thread applied the
// registration. Registering a registered helper is a no-op.
//
// Returns:
//   - error: ErrStopped if the render thread is not running
func (h *RenderTickHelper) Register() error {
	h.mu.Lock()
	if h.state != TickStateUnregistered {
		h.mu.Unlock()
		return nil
	}
	h.state = TickStateRegisteredUnbound
	if h.callback != nil {
		h.state = TickStateRegisteredBound
	}
	h.mu.Unlock()

	if err := h.rt.Register(h); err != nil {
		h.mu.Lock()
		h.state = TickStateUnregistered
		h.mu.Unlock()
		return err
	}
	return nil
}

// Unregister stops per-frame ticks, blocking until the render thread applied it. After it
// returns the callback is never invoked again. It must not be called from the render thread.
//
// Returns:
//   - error: ErrStopped if the render thread is not running; the helper is then unregistered
func (h *RenderTickHelper) Unregister() error {
	err := h.rt.Unregister(h)
	h.mu.Lock()
	h.state = TickStateUnregistered
	h.mu.Unlock()
	return err
}

// Tick runs on the render thread. A bound helper invokes its callback; an unbound helper
// unregisters itself.
func (h *RenderTickHelper) Tick(ctx CommandContext) {
	h.mu.Lock()
	state, cb := h.state, h.callback
	if state == TickStateRegisteredUnbound {
		h.state = TickStateUnregistered
	}
	h.mu.Unlock()

	switch state {
	case TickStateRegisteredBound:
		cb(ctx)
	case TickStateRegisteredUnbound:
		ctx.Unregister(h)
		klog.FromContext(ctx.Context).V(2).Info("Idle tick helper unregistered", "frame", ctx.Frame)
	}
}
