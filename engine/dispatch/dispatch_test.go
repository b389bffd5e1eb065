package dispatch

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/camera"
	"github.com/Carmen-Shannon/oxy-compute/engine/game_object"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const size = 64

func newThread(t *testing.T) tick.RenderThread {
	t.Helper()
	rt := tick.NewRenderThread(tick.WithName(t.Name()))
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

func newDevice(t *testing.T, options ...device.DeviceBuilderOption) device.Device {
	t.Helper()
	dev := device.NewSoftwareDevice(append([]device.DeviceBuilderOption{device.WithWorkers(2)}, options...)...)
	t.Cleanup(dev.Release)
	return dev
}

func newTarget(t *testing.T, dev device.Device, format device.PixelFormat) *Texture {
	t.Helper()
	tex, err := NewTexture(dev, "target", common.Extent{Width: size, Height: size}, format)
	require.NoError(t, err)
	return tex
}

func newWhiteNoise(t *testing.T, dev device.Device, rt tick.RenderThread) *WhiteNoiseManager {
	t.Helper()
	m, err := NewWhiteNoiseManager(dev, rt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func readFloats(t *testing.T, dev device.Device, tex *Texture) []float32 {
	t.Helper()
	data, err := dev.ReadTexture(tex.ID)
	require.NoError(t, err)
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func TestEncodeSpheres(t *testing.T) {
	assert.Equal(t, []Sphere{DefaultSphere}, DecodeSpheres(EncodeSpheres(nil)))
	assert.Len(t, EncodeSpheres(nil), kernel.SphereStride)

	in := []Sphere{
		{Center: [3]float32{1, 2, 3}, Radius: 4},
		{Center: [3]float32{-5, 0, 5}, Radius: 0.5},
		{Center: [3]float32{9, 9, 9}, Radius: 90},
	}
	buf := EncodeSpheres(in)
	assert.Len(t, buf, len(in)*kernel.SphereStride)
	assert.Equal(t, in, DecodeSpheres(buf))
}

func TestGenerateSamples(t *testing.T) {
	a := GenerateSamples(7, 3, 8)
	assert.Equal(t, a, GenerateSamples(7, 3, 8))
	assert.NotEqual(t, a, GenerateSamples(7, 4, 8))
	assert.Len(t, GenerateSamples(7, 3, 0), kernel.RandomSampleStride)

	for _, s := range DecodeSamples(a) {
		for _, v := range s {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.Less(t, v, float32(1))
		}
	}
}

func TestDispatchable(t *testing.T) {
	extent := common.Extent{Width: size, Height: size}
	rgba := &Texture{ID: 1, Extent: extent, Format: device.PixelFormatRGBA8Unorm}
	r32 := &Texture{ID: 2, Extent: extent, Format: device.PixelFormatR32Float}
	sky := &Texture{ID: 3, Extent: common.Extent{Width: 4, Height: 2}, Format: device.PixelFormatRGBA8Unorm}

	assert.NoError(t, WhiteNoiseParams{Extent: extent, RenderTarget: r32}.Dispatchable())
	assert.ErrorIs(t, WhiteNoiseParams{Extent: extent}.Dispatchable(), ErrNoRenderTarget)
	assert.ErrorIs(t, WhiteNoiseParams{RenderTarget: r32}.Dispatchable(), ErrInvalidExtent)
	assert.ErrorIs(t, WhiteNoiseParams{Extent: extent, RenderTarget: rgba}.Dispatchable(), ErrTargetMismatch)
	assert.ErrorIs(t, WhiteNoiseParams{Extent: common.Extent{Width: 1, Height: size}, RenderTarget: r32}.Dispatchable(), ErrTargetMismatch)

	ok := RayTracingParams{Extent: extent, HasCamera: true, Format: device.PixelFormatRGBA8Unorm, Skybox: sky, RenderTarget: rgba}
	assert.NoError(t, ok.Dispatchable())

	p := ok
	p.HasCamera = false
	assert.ErrorIs(t, p.Dispatchable(), ErrNoCamera)
	p = ok
	p.Skybox = nil
	assert.ErrorIs(t, p.Dispatchable(), ErrNoSkybox)
	p = ok
	p.RenderTarget = nil
	assert.ErrorIs(t, p.Dispatchable(), ErrNoRenderTarget)
	p = ok
	p.Format = device.PixelFormatR32Float
	assert.ErrorIs(t, p.Dispatchable(), ErrUnsupportedFormat)
	p = ok
	p.Extent = common.Extent{Width: 0, Height: size}
	assert.ErrorIs(t, p.Dispatchable(), ErrInvalidExtent)
}

func TestWhiteNoiseProducer_Wraps(t *testing.T) {
	target := &Texture{ID: 1, Extent: common.Extent{Width: 8, Height: 4}, Format: device.PixelFormatR32Float}
	p := NewWhiteNoiseProducer(target)

	first := p.Produce()
	assert.Equal(t, uint32(0), first.TimeStamp)
	assert.Equal(t, target.Extent, first.Extent)
	assert.Equal(t, uint32(1), p.Produce().TimeStamp)

	p.timeStamp = WhiteNoiseTimeStampWrap
	assert.Equal(t, uint32(WhiteNoiseTimeStampWrap), p.Produce().TimeStamp)
	assert.Equal(t, uint32(0), p.Produce().TimeStamp)

	assert.ErrorIs(t, NewWhiteNoiseProducer(nil).Produce().Dispatchable(), ErrInvalidExtent)
}

func TestRayTracingProducer(t *testing.T) {
	objects := game_object.NewRegistry()
	objects.Add(game_object.NewGameObject(game_object.WithName("SphereA"), game_object.WithPosition([3]float32{1, 2, 3}), game_object.WithScale([3]float32{1, 1, 2})))
	objects.Add(game_object.NewGameObject(game_object.WithName("Cube"), game_object.WithPosition([3]float32{9, 9, 9})))
	objects.Add(game_object.NewGameObject(game_object.WithName("BigSphere"), game_object.WithScale([3]float32{4, 4, 0.5})))

	target := &Texture{ID: 1, Extent: common.Extent{Width: 32, Height: 16}, Format: device.PixelFormatRGBA32Float}
	cam := camera.NewCamera(camera.WithLookAt([3]float32{0, 0, 100}, [3]float32{}))
	p := NewRayTracingProducer(WithCamera(cam), WithObjects(objects), WithRenderTarget(target), WithColour([4]float32{1, 0, 0, 1}))

	s := p.Produce()
	assert.Equal(t, uint64(0), s.FrameCounter)
	assert.Equal(t, uint64(1), p.Produce().FrameCounter)
	assert.True(t, s.HasCamera)
	assert.Equal(t, target.Extent, s.Extent)
	assert.Equal(t, device.PixelFormatRGBA32Float, s.Format)
	assert.Equal(t, cam.CameraToWorld(), s.CameraToWorld)
	assert.Equal(t, cam.InverseProjectionMatrix(2), s.CameraInverseProjection)
	assert.Equal(t, []Sphere{
		{Center: [3]float32{1, 2, 3}, Radius: 100},
		{Center: [3]float32{}, Radius: 25},
	}, s.Spheres)
	assert.ErrorIs(t, s.Dispatchable(), ErrNoSkybox)

	bare := NewRayTracingProducer(WithRenderTarget(target)).Produce()
	assert.False(t, bare.HasCamera)
	assert.Empty(t, bare.Spheres)
}

func TestWhiteNoiseManager_EndToEnd(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	require.NoError(t, m.Supported())
	assert.Equal(t, tick.TickStateRegisteredBound, m.State())

	m.BeginRendering()
	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, TimeStamp: 42, RenderTarget: target})
	require.NoError(t, rt.Step())

	require.Equal(t, uint64(1), m.Dispatches())
	first, ok := m.LastDispatch()
	require.True(t, ok)
	assert.Equal(t, [3]uint32{2, 2, 1}, first.Groups)
	assert.Equal(t, kernel.WhiteNoiseKernel, first.Kernel)
	assert.Equal(t, []string{kernel.WhiteNoiseKernel, "readback_output"}, first.Passes)

	pixels := readFloats(t, dev, target)
	require.Len(t, pixels, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			want := kernel.WhiteNoiseValue(uint32(x), uint32(y), size, 42)
			require.Equal(t, want, pixels[y*size+x], "pixel %d,%d", x, y)
		}
	}

	// The cached snapshot is dispatched again with identical inputs.
	require.NoError(t, rt.Step())
	assert.Equal(t, uint64(2), m.Dispatches())
	second, _ := m.LastDispatch()
	assert.Equal(t, first.Uniforms, second.Uniforms)
	assert.Equal(t, first.Groups, second.Groups)
	assert.Greater(t, second.Frame, first.Frame)

	stats := dev.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Equal(t, 1, stats.Textures)
	assert.Equal(t, 1, stats.Pipelines)
}

func TestManager_LatestSnapshotWins(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	m.BeginRendering()
	for ts := uint32(1); ts <= 3; ts++ {
		m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, TimeStamp: ts, RenderTarget: target})
	}
	require.NoError(t, rt.Step())

	desc, err := kernel.WhiteNoise()
	require.NoError(t, err)
	want, err := desc.NewUniforms().
		SetVec2i(kernel.SlotDimensions, [2]int32{size, size}).
		SetUint32(kernel.SlotTimeStamp, 3).
		Bytes()
	require.NoError(t, err)
	d, _ := m.LastDispatch()
	assert.Equal(t, want, d.Uniforms)
	assert.Equal(t, uint64(1), m.Dispatches())
}

func TestManager_DisabledLeavesTargetUntouched(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, TimeStamp: 1, RenderTarget: target})
	m.BeginRendering()
	m.EndRendering()
	require.NoError(t, rt.Step())
	require.NoError(t, rt.Step())

	assert.False(t, m.Enabled())
	assert.Zero(t, m.Dispatches())
	_, ok := m.LastDispatch()
	assert.False(t, ok)
	for _, v := range readFloats(t, dev, target) {
		require.Zero(t, v)
	}
	assert.Zero(t, dev.Stats().Dispatches)
}

func TestManager_SkipsUndispatchableSnapshot(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)

	m.BeginRendering()
	require.NoError(t, rt.Step())
	m.UpdateParameters(WhiteNoiseParams{Extent: common.Extent{Width: size, Height: size}})
	require.NoError(t, rt.Step())
	require.NoError(t, rt.Step())

	assert.Zero(t, m.Dispatches())
	assert.Zero(t, m.Failures())
	stats := dev.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Textures)
	assert.Zero(t, stats.Pipelines)
}

func TestManager_AllocationFailureRunsNothing(t *testing.T) {
	targetBytes := int64(size * size * device.PixelFormatR32Float.BytesPerPixel())
	dev := newDevice(t, device.WithMemoryLimit(targetBytes+64))
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	m.BeginRendering()
	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, TimeStamp: 9, RenderTarget: target})
	require.NoError(t, rt.Step())
	require.NoError(t, rt.Step())

	assert.Zero(t, m.Dispatches())
	assert.Equal(t, uint64(2), m.Failures())
	stats := dev.Stats()
	assert.Zero(t, stats.Dispatches)
	assert.Zero(t, stats.Buffers)
	assert.Equal(t, 1, stats.Textures)
	assert.Equal(t, targetBytes, stats.BytesAllocated)
	for _, v := range readFloats(t, dev, target) {
		require.Zero(t, v)
	}
}

// brokenPipelineDevice fails every pipeline compile and counts the attempts.
type brokenPipelineDevice struct {
	device.Device
	compiles atomic.Int64
}

func (d *brokenPipelineDevice) CreateComputePipeline(device.PipelineDescriptor) (device.PipelineID, error) {
	d.compiles.Add(1)
	return 0, errors.New("driver rejected module")
}

func TestManager_PipelineCompileFailureIsNotRetried(t *testing.T) {
	dev := &brokenPipelineDevice{Device: newDevice(t)}
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	m.BeginRendering()
	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, RenderTarget: target})
	for range 5 {
		require.NoError(t, rt.Step())
	}

	assert.Equal(t, int64(1), dev.compiles.Load())
	assert.Equal(t, uint64(1), m.Failures())
	assert.Zero(t, m.Dispatches())
	assert.Zero(t, dev.Stats().Dispatches)
}

func TestManager_UnsupportedDeviceNeverDispatches(t *testing.T) {
	dev := newDevice(t, device.WithLimits(device.Limits{
		MaxWorkgroupSize:           [3]uint32{16, 16, 1},
		MaxInvocationsPerWorkgroup: 256,
		MaxBufferSize:              1 << 20,
	}))
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	assert.ErrorIs(t, m.Supported(), device.ErrUnsupported)
	m.BeginRendering()
	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, RenderTarget: target})
	require.NoError(t, rt.Step())

	assert.Zero(t, m.Dispatches())
	assert.Zero(t, m.Failures())
	assert.Zero(t, dev.Stats().Pipelines)
}

func TestManager_CloseUnregistersAndReleases(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m := newWhiteNoise(t, dev, rt)
	target := newTarget(t, dev, device.PixelFormatR32Float)

	m.BeginRendering()
	m.UpdateParameters(WhiteNoiseParams{Extent: target.Extent, RenderTarget: target})
	require.NoError(t, rt.Step())
	require.Equal(t, 1, dev.Stats().Pipelines)

	require.NoError(t, m.Close())
	assert.Equal(t, tick.TickStateUnregistered, m.State())
	assert.Zero(t, rt.Tickables())
	assert.Zero(t, dev.Stats().Pipelines)

	require.NoError(t, rt.Step())
	assert.Equal(t, uint64(1), m.Dispatches())
	assert.NoError(t, m.Close())
}

func TestNewManager_StoppedThread(t *testing.T) {
	dev := newDevice(t)
	_, err := NewWhiteNoiseManager(dev, tick.NewRenderThread())
	assert.ErrorIs(t, err, tick.ErrStopped)
}

func newSkybox(t *testing.T, dev device.Device) *Texture {
	t.Helper()
	sky, err := NewTexture(dev, "skybox", common.Extent{Width: 4, Height: 4}, device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)
	blue := make([]byte, 4*4*4)
	for i := 0; i < len(blue); i += 4 {
		blue[i+2], blue[i+3] = 255, 255
	}
	require.NoError(t, dev.WriteTexture(sky.ID, blue))
	return sky
}

func TestRayTracingManager_EndToEnd(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m, err := NewRayTracingManager(dev, rt, WithSampleCount(4), WithSeed(11), WithSampleReadback(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	target := newTarget(t, dev, device.PixelFormatRGBA8Unorm)
	sky := newSkybox(t, dev)
	objects := game_object.NewRegistry()
	objects.Add(game_object.NewGameObject(game_object.WithName("Sphere1"), game_object.WithPosition([3]float32{0, 0, 50})))
	cam := camera.NewCamera(camera.WithFov(camera.Radians(45)), camera.WithLookAt([3]float32{0, 0, 300}, [3]float32{}))
	producer := NewRayTracingProducer(
		WithCamera(cam),
		WithObjects(objects),
		WithRenderTarget(target),
		WithSkybox(sky),
		WithColour([4]float32{1, 0, 0, 1}),
	)

	m.BeginRendering()
	snapshot := producer.Produce()
	require.NoError(t, snapshot.Dispatchable())
	m.UpdateParameters(snapshot)
	require.NoError(t, rt.Step())
	require.Equal(t, uint64(1), m.Dispatches(), "failures: %d", m.Failures())

	d, _ := m.LastDispatch()
	assert.Equal(t, [3]uint32{2, 2, 1}, d.Groups)
	assert.Equal(t, []Sphere{{Center: [3]float32{0, 0, 50}, Radius: 50}}, DecodeSpheres(d.Spheres))
	assert.Equal(t, GenerateSamples(11, 0, 4), d.Samples)
	assert.Equal(t, DecodeSamples(d.Samples), m.RandomSamples())
	assert.ElementsMatch(t, []string{kernel.RayTracingKernel, "readback_output", "readback_samples"}, d.Passes)
	assert.Equal(t, kernel.RayTracingKernel, d.Passes[0])

	pixels, err := dev.ReadTexture(target.ID)
	require.NoError(t, err)
	pixel := func(x, y int) []byte {
		i := (y*size + x) * 4
		return pixels[i : i+4]
	}
	assert.Equal(t, []byte{0, 0, 0, 255}, pixel(size/2, size/2))
	assert.Equal(t, []byte{0, 0, 255, 255}, pixel(0, 0))
	for i := 3; i < len(pixels); i += 4 {
		require.Equal(t, byte(255), pixels[i], "alpha of pixel %d", i/4)
	}

	stats := dev.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Samplers)
	assert.Equal(t, 2, stats.Textures)
}

func TestRayTracingManager_DefaultSphereAndSnapshotCopy(t *testing.T) {
	dev := newDevice(t)
	rt := newThread(t)
	m, err := NewRayTracingManager(dev, rt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	target := newTarget(t, dev, device.PixelFormatRGBA8Unorm)
	cam := camera.NewCamera(camera.WithLookAt([3]float32{0, 0, 300}, [3]float32{}))
	params := RayTracingParams{
		Extent:                  target.Extent,
		HasCamera:               true,
		CameraToWorld:           cam.CameraToWorld(),
		CameraInverseProjection: cam.InverseProjectionMatrix(1),
		Format:                  device.PixelFormatRGBA8Unorm,
		Skybox:                  newSkybox(t, dev),
		RenderTarget:            target,
	}

	m.BeginRendering()
	m.UpdateParameters(params)
	require.NoError(t, rt.Step())
	d, ok := m.LastDispatch()
	require.True(t, ok)
	assert.Equal(t, []Sphere{DefaultSphere}, DecodeSpheres(d.Spheres))
	assert.Len(t, d.Samples, kernel.RandomSampleStride)
	assert.Nil(t, m.RandomSamples())

	spheres := []Sphere{{Radius: 1}, {Radius: 2}}
	params.Spheres = spheres
	m.UpdateParameters(params)
	spheres[0].Radius = 99
	require.NoError(t, rt.Step())
	d, _ = m.LastDispatch()
	assert.Equal(t, []Sphere{{Radius: 1}, {Radius: 2}}, DecodeSpheres(d.Spheres))
}
