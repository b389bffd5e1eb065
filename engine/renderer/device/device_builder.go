package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// Backend selects the Device implementation.
type Backend int

const (
	// BackendSoftware runs kernels on the CPU through their Go implementation.
	BackendSoftware Backend = iota

	// BackendWGPU runs kernels on a WebGPU adapter.
	BackendWGPU
)

func (b Backend) String() string {
	switch b {
	case BackendSoftware:
		return "software"
	case BackendWGPU:
		return "wgpu"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend resolves a backend name as accepted on the command line.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "software", "cpu":
		return BackendSoftware, nil
	case "wgpu", "gpu", "webgpu":
		return BackendWGPU, nil
	default:
		return 0, fmt.Errorf("device: unknown backend %q", s)
	}
}

// deviceConfig holds the options shared by every backend.
type deviceConfig struct {
	label                string
	memoryLimit          int64
	workers              int
	forceFallbackAdapter bool
	limits               *Limits
	surface              *wgpu.SurfaceDescriptor
}

// DeviceBuilderOption is a functional option for configuring a Device.
type DeviceBuilderOption func(*deviceConfig)

// WithLabel sets the device label used in logs.
//
// Parameters:
//   - label: the device label
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithLabel(label string) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.label = label
	}
}

// WithMemoryLimit caps the total bytes of live buffers and textures. Allocations beyond
// the cap fail with ErrOutOfMemory. 0 disables the cap. Only the software backend
// enforces it.
//
// Parameters:
//   - bytes: the memory budget in bytes
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithMemoryLimit(bytes int64) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.memoryLimit = bytes
	}
}

// WithWorkers sets how many goroutines the software backend runs workgroups on.
// Values <= 0 use one worker per CPU.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithWorkers(n int) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.workers = n
	}
}

// WithForceFallbackAdapter requests the WebGPU fallback (software) adapter.
//
// Parameters:
//   - force: if true, only the fallback adapter is accepted
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.forceFallbackAdapter = force
	}
}

// WithLimits overrides the limits reported by the software backend.
//
// Parameters:
//   - l: the limits to report
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithLimits(l Limits) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.limits = &l
	}
}

// WithCompatibleSurface makes the WebGPU backend pick an adapter that can present to the
// given surface. The software backend ignores it.
//
// Parameters:
//   - desc: the platform surface descriptor, typically from the window
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithCompatibleSurface(desc *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.surface = desc
	}
}

func newDeviceConfig(defaultLabel string, options []DeviceBuilderOption) deviceConfig {
	c := deviceConfig{
		label:   defaultLabel,
		workers: max(runtime.NumCPU()-1, 1),
	}
	for _, opt := range options {
		opt(&c)
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}
	return c
}

// New creates a Device for the given backend.
//
// Parameters:
//   - backend: the backend to create
//   - options: functional options for the device
//
// Returns:
//   - Device: the created device
//   - error: an error if the backend could not be initialized
func New(backend Backend, options ...DeviceBuilderOption) (Device, error) {
	switch backend {
	case BackendSoftware:
		return NewSoftwareDevice(options...), nil
	case BackendWGPU:
		return NewWGPUDevice(options...)
	default:
		return nil, fmt.Errorf("device: %v: %w", backend, ErrUnsupported)
	}
}
