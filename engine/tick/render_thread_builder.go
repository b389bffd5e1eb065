package tick

import "time"

// RenderThreadBuilderOption is a functional option for configuring a RenderThread.
type RenderThreadBuilderOption func(*renderThread)

// WithName sets the thread name used in log output.
//
// Parameters:
//   - name: the thread name
//
// Returns:
//   - RenderThreadBuilderOption: option function to apply
func WithName(name string) RenderThreadBuilderOption {
	return func(rt *renderThread) {
		rt.name = name
	}
}

// WithFrameRate sets the rate at which frames tick on their own. Values <= 0 leave the
// thread in manual mode, where frames only run through Step.
//
// Parameters:
//   - fps: frames per second
//
// Returns:
//   - RenderThreadBuilderOption: option function to apply
func WithFrameRate(fps float64) RenderThreadBuilderOption {
	return func(rt *renderThread) {
		if fps <= 0 {
			rt.frameRate = 0
			return
		}
		rt.frameRate = time.Duration(float64(time.Second) / fps)
	}
}
