package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-compute/engine/profiler"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables the periodic statistics report.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfilerInterval sets how often the profiler reports.
//
// Parameters:
//   - interval: the report interval
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfilerInterval(interval time.Duration) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = profiler.NewProfiler(profiler.WithName("engine"), profiler.WithInterval(interval))
	}
}

// WithTickRate sets the producer tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithRenderFrameRate sets the render thread frame rate. Values <= 0 leave the render
// thread in manual mode, where frames only run when stepped.
//
// Parameters:
//   - fps: render frames per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.renderRate = fps
	}
}

// WithMaxTicks makes Run return after n producer ticks. 0 runs until quit.
//
// Parameters:
//   - n: the tick limit
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaxTicks(n uint64) EngineBuilderOption {
	return func(e *engine) {
		e.maxTicks = n
	}
}

// WithWindow runs the engine windowed. The window's title is used as the prefix of the
// statistics shown in it, and closing it ends the run.
//
// Parameters:
//   - w: a created Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithResizeCallback sets the function called with the new framebuffer size when the
// window is resized. It runs on the window goroutine.
//
// Parameters:
//   - callback: function receiving the new width and height in pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithResizeCallback(callback func(width, height int)) EngineBuilderOption {
	return func(e *engine) {
		e.resizeCallback = callback
	}
}
