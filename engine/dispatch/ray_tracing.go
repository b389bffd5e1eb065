package dispatch

import (
	"fmt"
	"math/rand/v2"

	"github.com/Carmen-Shannon/oxy-compute/engine/camera"
	"github.com/Carmen-Shannon/oxy-compute/engine/game_object"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/graph"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
)

const (
	// SphereNameTag selects the scene objects a RayTracingProducer turns into spheres.
	SphereNameTag = "Sphere"
	// SphereRadiusScale converts an object's Z scale into a sphere radius.
	SphereRadiusScale = 50
)

// RayTracingManager dispatches the sphere ray-tracing kernel.
type RayTracingManager struct {
	*Manager[RayTracingParams]
}

// NewRayTracingManager creates a ray-tracing manager and registers its tick hook with rt.
// The manager starts disabled.
//
// Parameters:
//   - dev: the execution backend
//   - rt: the render thread, which must be running
//   - options: functional options for the manager
//
// Returns:
//   - *RayTracingManager: the new manager
//   - error: if the kernel cannot be built or the tick hook cannot be registered
func NewRayTracingManager(dev device.Device, rt tick.RenderThread, options ...ManagerBuilderOption) (*RayTracingManager, error) {
	cfg := newManagerConfig(kernel.RayTracingKernel, options)
	probe, err := kernel.RayTracing(cfg.probeFormat)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", cfg.name, err)
	}
	rec := &rayTracingRecorder{sampleCount: cfg.sampleCount, seed: cfg.seed, readback: cfg.readback}
	m, err := newManager[RayTracingParams](cfg.name, dev, rt, probe, rec)
	if err != nil {
		return nil, err
	}
	return &RayTracingManager{Manager: m}, nil
}

// RandomSamples returns the random sample buffer read back by the most recent dispatch,
// or nil if no dispatch ran or the readback is disabled (see WithSampleReadback).
func (m *RayTracingManager) RandomSamples() [][2]float32 {
	d, ok := m.LastDispatch()
	if !ok || d.Readback == nil {
		return nil
	}
	return DecodeSamples(d.Readback)
}

type rayTracingRecorder struct {
	sampleCount int
	seed        uint64
	readback    bool
}

func (r *rayTracingRecorder) descriptor(p RayTracingParams) (*kernel.Descriptor, error) {
	return kernel.RayTracing(p.Format)
}

func (r *rayTracingRecorder) record(b *graph.Builder, desc *kernel.Descriptor, pipeline device.PipelineID, p RayTracingParams) (Dispatch, error) {
	w, h := p.Extent.Width, p.Extent.Height
	uniforms, err := desc.NewUniforms().
		SetMat4(kernel.SlotCameraToWorld, p.CameraToWorld).
		SetMat4(kernel.SlotCameraInverseProjection, p.CameraInverseProjection).
		SetVec4(kernel.SlotColour, p.Colour).
		SetVec2i(kernel.SlotDimensions, [2]int32{int32(w), int32(h)}).
		SetUint32(kernel.SlotSampleCount, uint32(r.sampleCount)).
		Bytes()
	if err != nil {
		return Dispatch{}, err
	}
	spheres := EncodeSpheres(p.Spheres)
	samples := GenerateSamples(r.seed, p.FrameCounter, r.sampleCount)
	groups := kernel.GroupCount(w, h, desc.GroupExtent())

	params := b.CreateUniformBuffer("params", uniforms)
	out := b.CreateTexture("output", w, h, p.Format, device.TextureUsageStorage|device.TextureUsageCopySrc)
	sky := b.RegisterExternalTexture("skybox", p.Skybox.ID)
	smp := b.CreateSampler("skybox_sampler", device.SamplerDescriptor{Filter: device.FilterModeLinear, AddressMode: device.AddressModeRepeat})
	sph := b.CreateStructuredBuffer("spheres", kernel.SphereStride, spheres)
	rnd := b.CreateStructuredBuffer("random_samples", kernel.RandomSampleStride, samples)
	target := b.RegisterExternalTexture("render_target", p.RenderTarget.ID)

	b.AddComputePass(desc.Name(), pipeline, desc.Pipeline().Layout, []graph.PassBinding{
		{Binding: desc.MustBinding(kernel.SlotCameraToWorld), Resource: params},
		{Binding: desc.MustBinding(kernel.SlotOutputTexture), Resource: out},
		{Binding: desc.MustBinding(kernel.SlotSkybox), Resource: sky},
		{Binding: desc.MustBinding(kernel.SlotSkyboxSampler), Resource: smp},
		{Binding: desc.MustBinding(kernel.SlotSpheres), Resource: sph},
		{Binding: desc.MustBinding(kernel.SlotRandomSamples), Resource: rnd},
	}, groups)
	b.AddReadbackTexturePass("readback_output", out, target)

	d := Dispatch{Uniforms: uniforms, Spheres: spheres, Samples: samples, Groups: groups}
	if r.readback {
		d.Readback = make([]byte, len(samples))
		b.AddReadbackBufferPass("readback_samples", rnd, d.Readback)
	}
	return d, nil
}

// GenerateSamples returns n sub-pixel offsets in [0, 1)² encoded as vec2<f32>. The
// offsets depend only on seed and frame.
//
// Parameters:
//   - seed: the generator seed
//   - frame: the snapshot's frame counter
//   - n: the number of samples, at least 1 is generated
//
// Returns:
//   - []byte: kernel.RandomSampleStride bytes per sample
func GenerateSamples(seed, frame uint64, n int) []byte {
	n = max(n, 1)
	rng := rand.New(rand.NewPCG(seed, frame))
	buf := make([]byte, n*kernel.RandomSampleStride)
	for i := 0; i < n; i++ {
		o := i * kernel.RandomSampleStride
		putFloat32(buf[o:], rng.Float32())
		putFloat32(buf[o+4:], rng.Float32())
	}
	return buf
}

// RayTracingProducer builds one RayTracingParams per producer tick from the camera, the
// scene's sphere objects and the configured textures. It is not safe for concurrent use.
type RayTracingProducer struct {
	camera  camera.Camera
	objects game_object.Registry
	target  *Texture
	skybox  *Texture
	colour  [4]float32
	frame   uint64
}

// NewRayTracingProducer creates a producer.
//
// Parameters:
//   - options: functional options for the producer
//
// Returns:
//   - *RayTracingProducer: the new producer
func NewRayTracingProducer(options ...RayTracingProducerOption) *RayTracingProducer {
	p := &RayTracingProducer{colour: [4]float32{1, 1, 1, 1}}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Produce returns the next snapshot. Missing inputs still yield a snapshot; its
// Dispatchable method reports what is missing.
func (p *RayTracingProducer) Produce() RayTracingParams {
	params := RayTracingParams{
		FrameCounter: p.frame,
		Colour:       p.colour,
		Skybox:       p.skybox,
		RenderTarget: p.target,
	}
	p.frame++

	if p.target != nil {
		params.Extent = p.target.Extent
		params.Format = p.target.Format
	}
	if p.camera != nil {
		params.HasCamera = true
		params.CameraToWorld = p.camera.CameraToWorld()
		params.CameraInverseProjection = p.camera.InverseProjectionMatrix(params.Extent.Aspect())
	}
	if p.objects != nil {
		for _, o := range p.objects.Named(SphereNameTag) {
			pos, scale := o.Transform()
			params.Spheres = append(params.Spheres, Sphere{Center: pos, Radius: scale[2] * SphereRadiusScale})
		}
	}
	return params
}
