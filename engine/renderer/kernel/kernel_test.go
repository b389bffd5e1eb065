package kernel

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCount(t *testing.T) {
	cases := []struct {
		w, h int
		g    uint32
		want [3]uint32
	}{
		{1024, 1024, 32, [3]uint32{32, 32, 1}},
		{1000, 1, 32, [3]uint32{32, 1, 1}},
		{64, 64, 32, [3]uint32{2, 2, 1}},
		{33, 31, 32, [3]uint32{2, 1, 1}},
		{1, 1, 1, [3]uint32{1, 1, 1}},
		{0, 10, 32, [3]uint32{0, 0, 1}},
		{10, 10, 0, [3]uint32{0, 0, 1}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, GroupCount(c.w, c.h, c.g), "%dx%d/%d", c.w, c.h, c.g)
	}
}

func TestGroupCountCoversWorkload(t *testing.T) {
	for w := 1; w < 100; w += 7 {
		for h := 1; h < 100; h += 11 {
			g := GroupCount(w, h, ThreadsPerGroupDimension)
			assert.GreaterOrEqual(t, int(g[0]*ThreadsPerGroupDimension), w)
			assert.GreaterOrEqual(t, int(g[1]*ThreadsPerGroupDimension), h)
			assert.Less(t, int((g[0]-1)*ThreadsPerGroupDimension), w)
			assert.Less(t, int((g[1]-1)*ThreadsPerGroupDimension), h)
		}
	}
}

func TestRegistry(t *testing.T) {
	src, ok := Lookup(WhiteNoiseKernel)
	require.True(t, ok)
	assert.Contains(t, src, "@oxy:workgroup_size")
	_, ok = Lookup("does_not_exist")
	assert.False(t, ok)
	assert.Subset(t, Names(), []string{WhiteNoiseKernel, RayTracingKernel})
}

func TestWorkgroupSizeMatchesGroupExtent(t *testing.T) {
	wn, err := WhiteNoise()
	require.NoError(t, err)
	rt, err := RayTracing(device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)

	want := [3]uint32{ThreadsPerGroupDimension, ThreadsPerGroupDimension, 1}
	for _, d := range []*Descriptor{wn, rt} {
		assert.Equal(t, want, d.WorkgroupSize(), d.Name())
		assert.Equal(t, ThreadsPerGroupDimension, d.GroupExtent(), d.Name())
		assert.Contains(t, d.Shader().Source(), "@workgroup_size(32, 32, 1)")
	}
}

func TestDescriptorsAreShared(t *testing.T) {
	a, err := WhiteNoise()
	require.NoError(t, err)
	b, err := WhiteNoise()
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := RayTracing(device.PixelFormatRGBA32Float)
	require.NoError(t, err)
	d, err := RayTracing(device.PixelFormatRGBA32Float)
	require.NoError(t, err)
	e, err := RayTracing(device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)
	assert.Same(t, c, d)
	assert.NotSame(t, c, e)
	assert.Contains(t, c.Shader().Source(), "texture_storage_2d<rgba32float, write>")

	_, err = RayTracing(device.PixelFormatUndefined)
	assert.Error(t, err)
}

func TestSlotsMatchShaderBindings(t *testing.T) {
	rt, err := RayTracing(device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)

	for _, s := range rt.Slots() {
		if s.Kind.InUniformBlock() {
			assert.Equal(t, "params", rt.Shader().BindGroupVarName(0, int(s.Binding)), s.Name)
			continue
		}
		assert.Equal(t, s.Name, rt.Shader().BindGroupVarName(0, int(s.Binding)))
	}

	layout := rt.Pipeline().Layout
	require.Len(t, layout, 6)
	kinds := []device.BindingKind{
		device.BindingKindUniform,
		device.BindingKindStorageTexture,
		device.BindingKindSampledTexture,
		device.BindingKindSampler,
		device.BindingKindReadOnlyStorage,
		device.BindingKindStorage,
	}
	for i, l := range layout {
		assert.Equal(t, uint32(i), l.Binding)
		assert.Equal(t, kinds[i], l.Kind, l.Name)
	}
	assert.Equal(t, device.PixelFormatRGBA8Unorm, layout[1].Format)
	assert.Equal(t, 160, layout[0].MinSize)
	assert.Equal(t, SphereStride, layout[4].MinSize)
	assert.Equal(t, RandomSampleStride, layout[5].MinSize)
}

func TestUniformOffsets(t *testing.T) {
	rt, err := RayTracing(device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)
	want := map[string]uint64{
		SlotCameraToWorld:           0,
		SlotCameraInverseProjection: 64,
		SlotColour:                  128,
		SlotDimensions:              144,
		SlotSampleCount:             152,
	}
	for name, offset := range want {
		s, ok := rt.Slot(name)
		require.True(t, ok, name)
		assert.Equal(t, offset, s.Offset, name)
	}
	assert.Equal(t, 160, rt.UniformSize())

	wn, err := WhiteNoise()
	require.NoError(t, err)
	ts, ok := wn.Slot(SlotTimeStamp)
	require.True(t, ok)
	assert.Equal(t, uint64(8), ts.Offset)
	assert.Equal(t, 16, wn.UniformSize())
	assert.Equal(t, device.PixelFormatR32Float, wn.OutputFormat())
	assert.Equal(t, uint32(1), wn.MustBinding(SlotOutputTexture))
	assert.Panics(t, func() { wn.MustBinding("nope") })
}

func TestUniformsPacking(t *testing.T) {
	wn, err := WhiteNoise()
	require.NoError(t, err)

	data, err := wn.NewUniforms().
		SetVec2i(SlotDimensions, [2]int32{64, 32}).
		SetUint32(SlotTimeStamp, 7).
		Bytes()
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, uint32(64), binary.LittleEndian.Uint32(data[0:]))
	assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(data[4:]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[8:]))

	_, err = wn.NewUniforms().SetUint32("missing", 1).Bytes()
	assert.Error(t, err)
	_, err = wn.NewUniforms().SetMat4(SlotTimeStamp, [16]float32{}).Bytes()
	assert.Error(t, err)
}

func TestPCGHash(t *testing.T) {
	assert.NotEqual(t, PCGHash(0), PCGHash(1))
	assert.Equal(t, PCGHash(12345), PCGHash(12345))
	v := WhiteNoiseValue(3, 4, 64, 9)
	assert.GreaterOrEqual(t, v, float32(0))
	assert.LessOrEqual(t, v, float32(1))
	assert.NotEqual(t, WhiteNoiseValue(3, 4, 64, 9), WhiteNoiseValue(3, 4, 64, 10))
}

func TestWhiteNoiseCPUKernel(t *testing.T) {
	wn, err := WhiteNoise()
	require.NoError(t, err)
	dev := device.NewSoftwareDevice(device.WithWorkers(2))
	defer dev.Release()

	pipe, err := dev.CreateComputePipeline(wn.Pipeline())
	require.NoError(t, err)
	params, err := dev.CreateBuffer("params", wn.UniformSize(), device.BufferUsageUniform)
	require.NoError(t, err)
	data, err := wn.NewUniforms().SetVec2i(SlotDimensions, [2]int32{40, 8}).SetUint32(SlotTimeStamp, 3).Bytes()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBuffer(params, data))
	out, err := dev.CreateTexture("out", 40, 8, device.PixelFormatR32Float, device.TextureUsageStorage|device.TextureUsageCopySrc)
	require.NoError(t, err)

	err = dev.Dispatch(pipe, []device.BindGroupEntry{
		{Binding: 0, Buffer: params},
		{Binding: 1, Texture: out},
	}, GroupCount(40, 8, wn.GroupExtent()))
	require.NoError(t, err)

	pixels, err := dev.ReadTexture(out)
	require.NoError(t, err)
	require.Len(t, pixels, 40*8*4)
	for y := 0; y < 8; y++ {
		for x := 0; x < 40; x++ {
			got := math.Float32frombits(binary.LittleEndian.Uint32(pixels[(y*40+x)*4:]))
			assert.Equal(t, WhiteNoiseValue(uint32(x), uint32(y), 40, 3), got)
		}
	}
}

func TestRayTracingCPUKernel(t *testing.T) {
	const size = 64
	rt, err := RayTracing(device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)
	dev := device.NewSoftwareDevice(device.WithWorkers(4))
	defer dev.Release()

	var view, c2w, proj, invProj [16]float32
	common.LookAt(view[:], [3]float32{0, 0, 300}, [3]float32{0, 0, 0}, [3]float32{0, 1, 0})
	require.True(t, common.Invert4(c2w[:], view[:]))
	common.ReversedZPerspective(proj[:], math.Pi/4, 1, 0.1)
	require.True(t, common.Invert4(invProj[:], proj[:]))

	uniforms, err := rt.NewUniforms().
		SetMat4(SlotCameraToWorld, c2w).
		SetMat4(SlotCameraInverseProjection, invProj).
		SetVec4(SlotColour, [4]float32{1, 0, 0, 1}).
		SetVec2i(SlotDimensions, [2]int32{size, size}).
		SetUint32(SlotSampleCount, 1).
		Bytes()
	require.NoError(t, err)

	params := mustBuffer(t, dev, uniforms)
	spheres := mustBuffer(t, dev, floats(0, 0, 50, 50))
	samples := mustBuffer(t, dev, floats(0.5, 0.5))

	sky, err := dev.CreateTexture("sky", 4, 4, device.PixelFormatRGBA8Unorm, device.TextureUsageSampled|device.TextureUsageCopyDst)
	require.NoError(t, err)
	blue := make([]byte, 4*4*4)
	for i := 0; i < len(blue); i += 4 {
		blue[i+2], blue[i+3] = 255, 255
	}
	require.NoError(t, dev.WriteTexture(sky, blue))
	smp, err := dev.CreateSampler("sky", device.SamplerDescriptor{Filter: device.FilterModeLinear, AddressMode: device.AddressModeRepeat})
	require.NoError(t, err)
	out, err := dev.CreateTexture("out", size, size, device.PixelFormatRGBA8Unorm, device.TextureUsageStorage|device.TextureUsageCopySrc)
	require.NoError(t, err)

	pipe, err := dev.CreateComputePipeline(rt.Pipeline())
	require.NoError(t, err)
	err = dev.Dispatch(pipe, []device.BindGroupEntry{
		{Binding: 0, Buffer: params},
		{Binding: 1, Texture: out},
		{Binding: 2, Texture: sky},
		{Binding: 3, Sampler: smp},
		{Binding: 4, Buffer: spheres},
		{Binding: 5, Buffer: samples},
	}, GroupCount(size, size, rt.GroupExtent()))
	require.NoError(t, err)

	pixels, err := dev.ReadTexture(out)
	require.NoError(t, err)
	pixel := func(x, y int) []byte {
		i := (y*size + x) * 4
		return pixels[i : i+4]
	}
	// Centre hits the sphere: blue sky reflected through a red tint.
	assert.Equal(t, []byte{0, 0, 0, 255}, pixel(size/2, size/2))
	// Corner misses and sees the sky.
	assert.Equal(t, []byte{0, 0, 255, 255}, pixel(0, 0))
}

func mustBuffer(t *testing.T, dev device.Device, data []byte) device.BufferID {
	t.Helper()
	id, err := dev.CreateBuffer("test", len(data), device.BufferUsageStorage|device.BufferUsageCopyDst)
	require.NoError(t, err)
	require.NoError(t, dev.WriteBuffer(id, data))
	return id
}

func floats(v ...float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func TestDescriptorsCompileForEveryFormat(t *testing.T) {
	wn, err := WhiteNoise()
	require.NoError(t, err)
	_, err = shader.Validate(wn.Shader().Source())
	assert.NoError(t, err)

	for _, f := range []device.PixelFormat{device.PixelFormatRGBA8Unorm, device.PixelFormatRGBA32Float} {
		rt, err := RayTracing(f)
		require.NoError(t, err, f.String())
		_, err = shader.Validate(rt.Shader().Source())
		assert.NoError(t, err, f.String())
	}
}

func TestNewDescriptorRejectsUncompilableKernel(t *testing.T) {
	src, ok := Lookup(WhiteNoiseKernel)
	require.True(t, ok)
	broken := strings.Replace(src, "let v = f32(pcg_hash(seed)) / 4294967295.0;", "let v = undefined_fn(seed) + true;", 1)
	require.NotEqual(t, src, broken)
	Register("white_noise_broken", broken)

	_, err := newDescriptor("white_noise_broken", device.PixelFormatR32Float, whiteNoiseSlots, whiteNoiseKernel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile wgsl")
}
