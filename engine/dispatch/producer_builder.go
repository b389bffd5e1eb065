package dispatch

import (
	"github.com/Carmen-Shannon/oxy-compute/engine/camera"
	"github.com/Carmen-Shannon/oxy-compute/engine/game_object"
)

// RayTracingProducerOption is a functional option for configuring a RayTracingProducer.
type RayTracingProducerOption func(*RayTracingProducer)

// WithCamera sets the camera the producer reads view and projection from.
//
// Parameters:
//   - c: the camera
//
// Returns:
//   - RayTracingProducerOption: option function to apply
func WithCamera(c camera.Camera) RayTracingProducerOption {
	return func(p *RayTracingProducer) {
		p.camera = c
	}
}

// WithObjects sets the registry searched for sphere objects.
//
// Parameters:
//   - r: the scene object registry
//
// Returns:
//   - RayTracingProducerOption: option function to apply
func WithObjects(r game_object.Registry) RayTracingProducerOption {
	return func(p *RayTracingProducer) {
		p.objects = r
	}
}

// WithRenderTarget sets the texture the ray tracer writes into. Its extent and format
// become the workload extent and output format.
//
// Parameters:
//   - t: the render target
//
// Returns:
//   - RayTracingProducerOption: option function to apply
func WithRenderTarget(t *Texture) RayTracingProducerOption {
	return func(p *RayTracingProducer) {
		p.target = t
	}
}

// WithSkybox sets the equirectangular environment texture.
//
// Parameters:
//   - t: the skybox texture
//
// Returns:
//   - RayTracingProducerOption: option function to apply
func WithSkybox(t *Texture) RayTracingProducerOption {
	return func(p *RayTracingProducer) {
		p.skybox = t
	}
}

// WithColour sets the tint applied to the traced sky colour.
//
// Parameters:
//   - c: RGBA tint
//
// Returns:
//   - RayTracingProducerOption: option function to apply
func WithColour(c [4]float32) RayTracingProducerOption {
	return func(p *RayTracingProducer) {
		p.colour = c
	}
}
