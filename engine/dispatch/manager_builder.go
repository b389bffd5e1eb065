package dispatch

import "github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"

type managerConfig struct {
	name        string
	sampleCount int
	seed        uint64
	readback    bool
	probeFormat device.PixelFormat
}

// ManagerBuilderOption is a functional option for configuring a dispatch manager.
type ManagerBuilderOption func(*managerConfig)

// WithName sets the manager name used in log output and graph labels.
//
// Parameters:
//   - name: the manager name
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithName(name string) ManagerBuilderOption {
	return func(c *managerConfig) {
		c.name = name
	}
}

// WithSampleCount sets how many anti-aliasing samples the ray tracer averages per pixel.
// Values below 1 use 1.
//
// Parameters:
//   - n: samples per pixel
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithSampleCount(n int) ManagerBuilderOption {
	return func(c *managerConfig) {
		c.sampleCount = n
	}
}

// WithSeed sets the seed of the ray tracer's sub-pixel sample generator. Together with the
// snapshot's frame counter it fully determines the uploaded samples.
//
// Parameters:
//   - seed: the generator seed
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithSeed(seed uint64) ManagerBuilderOption {
	return func(c *managerConfig) {
		c.seed = seed
	}
}

// WithSampleReadback enables the diagnostic readback of the ray tracer's random sample
// buffer into CPU memory after every dispatch.
//
// Parameters:
//   - enabled: true to read the buffer back
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithSampleReadback(enabled bool) ManagerBuilderOption {
	return func(c *managerConfig) {
		c.readback = enabled
	}
}

// WithProbeFormat sets the output format the ray tracer's capability query compiles the
// kernel for. Snapshots may still use any supported format.
//
// Parameters:
//   - format: the output format to probe
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithProbeFormat(format device.PixelFormat) ManagerBuilderOption {
	return func(c *managerConfig) {
		c.probeFormat = format
	}
}

func newManagerConfig(name string, options []ManagerBuilderOption) managerConfig {
	c := managerConfig{
		name:        name,
		sampleCount: 1,
		seed:        1,
		probeFormat: device.PixelFormatRGBA8Unorm,
	}
	for _, opt := range options {
		opt(&c)
	}
	c.sampleCount = max(c.sampleCount, 1)
	return c
}
