package graph

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexPipeline creates a pipeline that writes each invocation's x index into a storage
// buffer of u32 at binding 0.
func indexPipeline(t *testing.T, dev device.Device) (device.PipelineID, []device.BindingLayout) {
	t.Helper()
	layout := []device.BindingLayout{{Binding: 0, Name: "values", Kind: device.BindingKindStorage, MinSize: 4}}
	id, err := dev.CreateComputePipeline(device.PipelineDescriptor{
		Label:         "index",
		EntryPoint:    "main",
		WorkgroupSize: [3]uint32{4, 1, 1},
		Layout:        layout,
		Kernel: func(b device.Bindings) (func(device.Invocation), error) {
			buf, err := b.Buffer(0)
			if err != nil {
				return nil, err
			}
			return func(inv device.Invocation) {
				x := inv.GlobalID[0]
				if int(x*4) < buf.Len() {
					buf.SetUint32(int(x*4), x+1)
				}
			}, nil
		},
	})
	require.NoError(t, err)
	return id, layout
}

func TestReadbackRunsAfterWriterRegardlessOfRecordOrder(t *testing.T) {
	dev := device.NewSoftwareDevice(device.WithWorkers(2))
	defer dev.Release()
	pipe, layout := indexPipeline(t, dev)

	b := NewBuilder(dev, "test")
	values := b.CreateBuffer("values", 8*4, device.BufferUsageStorage|device.BufferUsageCopySrc)
	out := make([]byte, 8*4)
	b.AddReadbackBufferPass("readback", values, out)
	b.AddComputePass("index", pipe, layout, []PassBinding{{Binding: 0, Resource: values}}, [3]uint32{2, 1, 1})

	require.NoError(t, b.Execute())
	assert.Equal(t, []string{"index", "readback"}, b.ExecutedPasses())
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(i+1), binary.LittleEndian.Uint32(out[i*4:]))
	}
}

func TestPassesFollowRecordOrderOnConflicts(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "order")
	x := b.CreateBuffer("x", 4, device.BufferUsageStorage)
	y := b.CreateBuffer("y", 4, device.BufferUsageStorage)
	noop := func(*PassContext) error { return nil }
	b.AddPass("write-x", nil, []Handle{x}, noop)
	b.AddPass("read-x-write-y", []Handle{x}, []Handle{y}, noop)
	b.AddPass("read-y", []Handle{y}, nil, noop)
	b.AddPass("overwrite-x", nil, []Handle{x}, noop)

	require.NoError(t, b.Execute())
	got := b.ExecutedPasses()
	index := func(name string) int {
		for i, n := range got {
			if n == name {
				return i
			}
		}
		return -1
	}
	require.Len(t, got, 4)
	assert.Less(t, index("write-x"), index("read-x-write-y"))
	assert.Less(t, index("read-x-write-y"), index("read-y"))
	assert.Less(t, index("read-x-write-y"), index("overwrite-x"))
}

func TestUploadsInitialData(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "upload")
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := b.CreateStructuredBuffer("data", 4, data)
	out := make([]byte, len(data))
	b.AddReadbackBufferPass("readback", buf, out)
	require.NoError(t, b.Execute())
	assert.Equal(t, data, out)
}

func TestAllocationFailureRunsNoPass(t *testing.T) {
	dev := device.NewSoftwareDevice(device.WithMemoryLimit(64))
	defer dev.Release()

	b := NewBuilder(dev, "oom")
	small := b.CreateBuffer("small", 32, device.BufferUsageStorage)
	big := b.CreateBuffer("big", 1024, device.BufferUsageStorage)
	ran := false
	b.AddPass("touch", []Handle{small, big}, nil, func(*PassContext) error {
		ran = true
		return nil
	})

	err := b.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrOutOfMemory))
	assert.False(t, ran)
	assert.Empty(t, b.ExecutedPasses())
	assert.Equal(t, 0, dev.Stats().Buffers)
	assert.Equal(t, int64(0), dev.Stats().BytesAllocated)
}

func TestTransientResourcesReleased(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	target, err := dev.CreateTexture("target", 4, 4, device.PixelFormatRGBA8Unorm, device.TextureUsageCopyDst)
	require.NoError(t, err)

	b := NewBuilder(dev, "release")
	tex := b.CreateTexture("tex", 4, 4, device.PixelFormatRGBA8Unorm, device.TextureUsageStorage|device.TextureUsageCopySrc)
	ext := b.RegisterExternalTexture("target", target)
	b.CreateSampler("sampler", device.SamplerDescriptor{})
	b.CreateUniformBuffer("params", make([]byte, 16))
	b.AddReadbackTexturePass("copy", tex, ext)
	require.NoError(t, b.Execute())

	stats := dev.Stats()
	assert.Equal(t, 0, stats.Buffers)
	assert.Equal(t, 1, stats.Textures)
	assert.Equal(t, 0, stats.Samplers)
	_, err = dev.TextureInfo(target)
	assert.NoError(t, err)
}

func TestReleasedAfterPassFailure(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "fail")
	buf := b.CreateBuffer("buf", 16, device.BufferUsageStorage)
	boom := errors.New("boom")
	b.AddPass("first", nil, []Handle{buf}, func(*PassContext) error { return boom })
	b.AddPass("second", []Handle{buf}, nil, func(*PassContext) error { return nil })

	err := b.Execute()
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.ExecutedPasses())
	assert.Equal(t, 0, dev.Stats().Buffers)
}

func TestExecuteTwice(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "twice")
	b.CreateBuffer("buf", 4, device.BufferUsageStorage)
	require.NoError(t, b.Execute())
	assert.ErrorIs(t, b.Execute(), ErrAlreadyExecuted)
}

func TestNoCrossBuilderHandles(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	a := NewBuilder(dev, "a")
	h := a.CreateBuffer("buf", 4, device.BufferUsageStorage)

	b := NewBuilder(dev, "b")
	b.AddPass("steal", []Handle{h}, nil, func(*PassContext) error { return nil })
	assert.ErrorIs(t, b.Execute(), ErrForeignHandle)
}

func TestEachBuildAllocatesFreshResources(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	seen := map[device.BufferID]bool{}
	for i := 0; i < 3; i++ {
		b := NewBuilder(dev, "fresh")
		h := b.CreateBuffer("buf", 4, device.BufferUsageStorage)
		b.AddPass("record", []Handle{h}, nil, func(ctx *PassContext) error {
			id, err := ctx.Buffer(h)
			if err != nil {
				return err
			}
			assert.False(t, seen[id])
			seen[id] = true
			return nil
		})
		require.NoError(t, b.Execute())
	}
	assert.Len(t, seen, 3)
}

func TestReadbackSizeMismatch(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "mismatch")
	buf := b.CreateStructuredBuffer("buf", 4, make([]byte, 16))
	b.AddReadbackBufferPass("readback", buf, make([]byte, 8))
	assert.ErrorIs(t, b.Execute(), device.ErrSizeMismatch)
}

func TestDependencyCycle(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "cycle")
	src := b.CreateBuffer("src", 4, device.BufferUsageStorage)
	dst := b.CreateTexture("dst", 1, 1, device.PixelFormatRGBA8Unorm, device.TextureUsageCopyDst)
	tex := b.CreateTexture("tex", 1, 1, device.PixelFormatRGBA8Unorm, device.TextureUsageCopySrc)
	b.AddReadbackTexturePass("copy", tex, dst)
	// Reads the readback's destination after it, but also writes its source.
	b.AddPass("loop", []Handle{dst}, []Handle{tex, src}, func(*PassContext) error { return nil })

	err := b.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, 0, dev.Stats().Textures)
}

func TestRecordingErrors(t *testing.T) {
	dev := device.NewSoftwareDevice()
	defer dev.Release()

	b := NewBuilder(dev, "bad")
	b.CreateBuffer("empty", 0, device.BufferUsageStorage)
	assert.Error(t, b.Err())
	assert.Error(t, b.Execute())

	c := NewBuilder(dev, "unbound")
	pipe, layout := indexPipeline(t, dev)
	c.AddComputePass("index", pipe, layout, nil, [3]uint32{1, 1, 1})
	assert.Error(t, c.Execute())

	assert.Panics(t, func() { NewBuilder(nil, "nil") })
}
