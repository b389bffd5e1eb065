package kernel

import (
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/chewxy/math32"
)

// Ray-tracing slot names.
const (
	SlotCameraToWorld           = "camera_to_world"
	SlotCameraInverseProjection = "camera_inverse_projection"
	SlotColour                  = "colour"
	SlotSampleCount             = "sample_count"
	SlotSkybox                  = "skybox"
	SlotSkyboxSampler           = "skybox_sampler"
	SlotSpheres                 = "spheres"
	SlotRandomSamples           = "random_samples"
)

const (
	// SphereStride is the size in bytes of one Sphere element: vec3<f32> centre then f32 radius.
	SphereStride = 16
	// RandomSampleStride is the size in bytes of one vec2<f32> sub-pixel offset.
	RandomSampleStride = 8
)

const (
	pi    = float32(math.Pi)
	noHit = float32(math.MaxFloat32)
)

var rayTracingSlots = []Slot{
	{Name: SlotCameraToWorld, Kind: SlotKindMatrix, DataType: "mat4x4<f32>", Binding: 0},
	{Name: SlotCameraInverseProjection, Kind: SlotKindMatrix, DataType: "mat4x4<f32>", Binding: 0},
	{Name: SlotColour, Kind: SlotKindScalar, DataType: "vec4<f32>", Binding: 0},
	{Name: SlotDimensions, Kind: SlotKindScalar, DataType: "vec2<i32>", Binding: 0},
	{Name: SlotSampleCount, Kind: SlotKindScalar, DataType: "u32", Binding: 0},
	{Name: SlotOutputTexture, Kind: SlotKindWritableTexture, DataType: "texture_storage_2d", Binding: 1},
	{Name: SlotSkybox, Kind: SlotKindReadOnlyTexture, DataType: "texture_2d<f32>", Binding: 2},
	{Name: SlotSkyboxSampler, Kind: SlotKindSampler, DataType: "sampler", Binding: 3},
	{Name: SlotSpheres, Kind: SlotKindReadOnlyBuffer, DataType: "array<Sphere>", Binding: 4},
	{Name: SlotRandomSamples, Kind: SlotKindWritableBuffer, DataType: "array<vec2<f32>>", Binding: 5},
}

var (
	rayTracingMu    sync.Mutex
	rayTracingCache = map[device.PixelFormat]*Descriptor{}
)

// RayTracing returns the sphere ray-tracing kernel descriptor for an output format.
// Descriptors are built once per format and shared.
//
// Parameters:
//   - format: the texel format of the output texture
//
// Returns:
//   - *Descriptor: the shared descriptor
//   - error: if the format is invalid or the embedded kernel fails to process
func RayTracing(format device.PixelFormat) (*Descriptor, error) {
	rayTracingMu.Lock()
	defer rayTracingMu.Unlock()
	if d, ok := rayTracingCache[format]; ok {
		return d, nil
	}
	d, err := newDescriptor(RayTracingKernel, format, rayTracingSlots, rayTracingKernel)
	if err != nil {
		return nil, err
	}
	rayTracingCache[format] = d
	return d, nil
}

type cpuSphere struct {
	center [3]float32
	radius float32
}

// rayScene is the per-dispatch state of the CPU ray tracer.
type rayScene struct {
	cameraToWorld [16]float32
	invProjection [16]float32
	colour        [4]float32
	width, height uint32
	origin        [3]float32
	spheres       []cpuSphere
	offsets       [][2]float32
	skybox        *device.TextureData
	sampler       device.SamplerDescriptor
}

func rayTracingKernel(params shader.StructLayout) device.Kernel {
	c2wOff := fieldOffset(params, SlotCameraToWorld)
	invOff := fieldOffset(params, SlotCameraInverseProjection)
	colourOff := fieldOffset(params, SlotColour)
	dimOff := fieldOffset(params, SlotDimensions)
	countOff := fieldOffset(params, SlotSampleCount)

	return func(b device.Bindings) (func(device.Invocation), error) {
		p, err := b.Buffer(0)
		if err != nil {
			return nil, fmt.Errorf("ray tracing params: %w", err)
		}
		out, err := b.Texture(1)
		if err != nil {
			return nil, fmt.Errorf("ray tracing output: %w", err)
		}
		sky, err := b.Texture(2)
		if err != nil {
			return nil, fmt.Errorf("ray tracing skybox: %w", err)
		}
		smp, err := b.Sampler(3)
		if err != nil {
			return nil, fmt.Errorf("ray tracing sampler: %w", err)
		}
		sphereBuf, err := b.Buffer(4)
		if err != nil {
			return nil, fmt.Errorf("ray tracing spheres: %w", err)
		}
		sampleBuf, err := b.Buffer(5)
		if err != nil {
			return nil, fmt.Errorf("ray tracing random samples: %w", err)
		}

		s := &rayScene{
			cameraToWorld: p.Mat4(c2wOff),
			invProjection: p.Mat4(invOff),
			colour:        p.Vec4(colourOff),
			width:         uint32(p.Int32(dimOff)),
			height:        uint32(p.Int32(dimOff + 4)),
			skybox:        sky,
			sampler:       smp,
		}
		count := max(p.Uint32(countOff), 1)
		if int(count)*RandomSampleStride > sampleBuf.Len() {
			return nil, fmt.Errorf("ray tracing: %d samples need %d bytes, buffer has %d: %w",
				count, int(count)*RandomSampleStride, sampleBuf.Len(), device.ErrSizeMismatch)
		}
		for i := 0; i < int(count); i++ {
			o := i * RandomSampleStride
			s.offsets = append(s.offsets, [2]float32{sampleBuf.Float32(o), sampleBuf.Float32(o + 4)})
		}
		for o := 0; o+SphereStride <= sphereBuf.Len(); o += SphereStride {
			v := sphereBuf.Vec4(o)
			s.spheres = append(s.spheres, cpuSphere{center: [3]float32{v[0], v[1], v[2]}, radius: v[3]})
		}
		o := common.Transform(s.cameraToWorld[:], [4]float32{0, 0, 0, 1})
		s.origin = [3]float32{o[0], o[1], o[2]}

		return func(inv device.Invocation) {
			x, y := inv.GlobalID[0], inv.GlobalID[1]
			if x >= s.width || y >= s.height {
				return
			}
			out.Store(int(x), int(y), s.shade(x, y))
		}, nil
	}
}

// shade averages the traced colour of every sub-pixel sample of pixel (x, y).
func (s *rayScene) shade(x, y uint32) [4]float32 {
	var acc [3]float32
	for _, off := range s.offsets {
		u := ((float32(x)+off[0])/float32(s.width))*2 - 1
		v := -(((float32(y)+off[1])/float32(s.height))*2 - 1)
		view := common.Transform(s.invProjection[:], [4]float32{u, v, 0, 1})
		world := common.Transform(s.cameraToWorld[:], [4]float32{view[0], view[1], view[2], 0})
		dir := common.Normalize([3]float32{world[0], world[1], world[2]})
		acc = common.Add(acc, s.trace(dir))
	}
	n := float32(len(s.offsets))
	return [4]float32{acc[0] / n, acc[1] / n, acc[2] / n, 1}
}

func (s *rayScene) trace(dir [3]float32) [3]float32 {
	nearest := noHit
	var normal [3]float32
	for _, sp := range s.spheres {
		t := hitSphere(s.origin, dir, sp)
		if t > 0 && t < nearest {
			nearest = t
			normal = common.Normalize(common.Sub(common.Add(s.origin, common.Scale(dir, t)), sp.center))
		}
	}
	if nearest == noHit {
		return s.sky(dir)
	}
	c := s.sky(common.Reflect(dir, normal))
	return [3]float32{c[0] * s.colour[0], c[1] * s.colour[1], c[2] * s.colour[2]}
}

func (s *rayScene) sky(dir [3]float32) [3]float32 {
	u := 0.5 + math32.Atan2(dir[2], dir[0])/(2*pi)
	v := math32.Acos(clamp(dir[1], -1, 1)) / pi
	c := s.skybox.Sample(s.sampler, u, v)
	return [3]float32{c[0], c[1], c[2]}
}

// hitSphere returns the distance along dir to the nearest intersection in front of origin, or -1.
func hitSphere(origin, dir [3]float32, sp cpuSphere) float32 {
	oc := common.Sub(origin, sp.center)
	b := common.Dot(oc, dir)
	c := common.Dot(oc, oc) - sp.radius*sp.radius
	h := b*b - c
	if h < 0 {
		return -1
	}
	root := math32.Sqrt(h)
	t := -b - root
	if t < 0 {
		t = -b + root
	}
	return t
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
