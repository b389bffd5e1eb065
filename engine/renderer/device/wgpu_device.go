package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"k8s.io/klog/v2"
)

// textureRowAlignment is the WebGPU requirement for bytesPerRow in texture/buffer copies.
const textureRowAlignment = 256

// bufferCopyAlignment is the WebGPU requirement for queue write and buffer copy sizes.
const bufferCopyAlignment = 4

// wgpuDevice runs compute pipelines on a WebGPU adapter.
type wgpuDevice struct {
	mu *sync.Mutex

	label    string
	limits   Limits
	nextID   uint64
	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	allocated  int64
	dispatches uint64

	buffers   map[BufferID]*wgpuBuffer
	textures  map[TextureID]*wgpuTexture
	samplers  map[SamplerID]*wgpu.Sampler
	pipelines map[PipelineID]*wgpuPipeline
}

type wgpuBuffer struct {
	label string
	// size is the requested size; alloc is size rounded up to bufferCopyAlignment.
	size   int
	alloc  int
	buffer *wgpu.Buffer
}

type wgpuTexture struct {
	label   string
	info    TextureInfo
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

type wgpuPipeline struct {
	label    string
	layout   []BindingLayout
	groupBGL *wgpu.BindGroupLayout
	pipeline *wgpu.ComputePipeline
}

var _ Device = &wgpuDevice{}

// wgpuTextureFormats maps pixel formats to their WebGPU texture formats.
var wgpuTextureFormats = map[PixelFormat]wgpu.TextureFormat{
	PixelFormatR32Float:    wgpu.TextureFormatR32Float,
	PixelFormatRGBA8Unorm:  wgpu.TextureFormatRGBA8Unorm,
	PixelFormatRGBA32Float: wgpu.TextureFormatRGBA32Float,
}

// NewWGPUDevice requests a WebGPU adapter and device. The workgroup limits are raised
// to 1024 invocations; if the adapter refuses, the device is created with the default
// limits and reports them, so pipelines needing larger groups fail the capability check.
//
// Parameters:
//   - options: functional options for the device
//
// Returns:
//   - Device: the WebGPU device
//   - error: an error if no adapter or device is available
func NewWGPUDevice(options ...DeviceBuilderOption) (Device, error) {
	cfg := newDeviceConfig("WebGPU Device", options)

	d := &wgpuDevice{
		mu:        &sync.Mutex{},
		label:     cfg.label,
		instance:  wgpu.CreateInstance(nil),
		buffers:   make(map[BufferID]*wgpuBuffer),
		textures:  make(map[TextureID]*wgpuTexture),
		samplers:  make(map[SamplerID]*wgpu.Sampler),
		pipelines: make(map[PipelineID]*wgpuPipeline),
	}

	if cfg.surface != nil {
		d.surface = d.instance.CreateSurface(cfg.surface)
	}
	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
		PowerPreference:      wgpu.PowerPreferenceHighPerformance,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		if d.surface != nil {
			d.surface.Release()
		}
		d.instance.Release()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	d.adapter = a

	// Start from the WebGPU default limits and raise the compute workgroup limits so
	// 32x32 groups are allowed.
	limits := wgpu.DefaultLimits()
	limits.MaxComputeInvocationsPerWorkgroup = 1024
	limits.MaxComputeWorkgroupSizeX = 1024
	limits.MaxComputeWorkgroupSizeY = 1024

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          cfg.label,
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		klog.Background().Info("Adapter refused raised compute limits, using defaults", "device", cfg.label, "err", err)
		limits = wgpu.DefaultLimits()
		dev, err = a.RequestDevice(&wgpu.DeviceDescriptor{
			Label:          cfg.label,
			RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
		})
		if err != nil {
			a.Release()
			if d.surface != nil {
				d.surface.Release()
			}
			d.instance.Release()
			return nil, fmt.Errorf("failed to request device: %w", err)
		}
	}
	d.device = dev
	d.queue = dev.GetQueue()
	d.limits = Limits{
		MaxWorkgroupSize: [3]uint32{
			limits.MaxComputeWorkgroupSizeX,
			limits.MaxComputeWorkgroupSizeY,
			limits.MaxComputeWorkgroupSizeZ,
		},
		MaxInvocationsPerWorkgroup: limits.MaxComputeInvocationsPerWorkgroup,
		MaxBufferSize:              int64(limits.MaxBufferSize),
	}

	return d, nil
}

func (d *wgpuDevice) Label() string {
	return d.label
}

func (d *wgpuDevice) SupportsCompute() bool {
	return d.device != nil
}

func (d *wgpuDevice) Limits() Limits {
	return d.limits
}

func (d *wgpuDevice) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Buffers:        len(d.buffers),
		Textures:       len(d.textures),
		Samplers:       len(d.samplers),
		Pipelines:      len(d.pipelines),
		BytesAllocated: d.allocated,
		Dispatches:     d.dispatches,
	}
}

func (d *wgpuDevice) newID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *wgpuDevice) CreateBuffer(label string, size int, usage BufferUsage) (BufferID, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%s: invalid buffer size %d", label, size)
	}
	if int64(copySize(size)) > d.limits.MaxBufferSize {
		return 0, fmt.Errorf("%s: %d bytes exceeds max allocation of %d: %w", label, size, d.limits.MaxBufferSize, ErrOutOfMemory)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	wu := wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	if usage&BufferUsageUniform != 0 {
		wu |= wgpu.BufferUsageUniform
	}
	if usage&BufferUsageStorage != 0 {
		wu |= wgpu.BufferUsageStorage
	}

	alloc := copySize(size)
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(alloc),
		Usage: wu,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", label, ErrOutOfMemory, err)
	}

	id := BufferID(d.newID())
	d.buffers[id] = &wgpuBuffer{label: label, size: size, alloc: alloc, buffer: buf}
	d.allocated += int64(alloc)
	return id, nil
}

func (d *wgpuDevice) WriteBuffer(id BufferID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if len(data) > buf.size {
		return fmt.Errorf("%s: write of %d bytes into %d: %w", buf.label, len(data), buf.size, ErrSizeMismatch)
	}
	if len(data) == 0 {
		return nil
	}

	if n := copySize(len(data)); n != len(data) {
		padded := make([]byte, n)
		copy(padded, data)
		data = padded
	}
	return d.queue.WriteBuffer(buf.buffer, 0, data)
}

func (d *wgpuDevice) ReadBuffer(id BufferID, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if len(dst) > buf.size {
		return fmt.Errorf("%s: read of %d bytes from %d: %w", buf.label, len(dst), buf.size, ErrSizeMismatch)
	}
	if len(dst) == 0 {
		return nil
	}

	size := uint64(copySize(len(dst)))
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: buf.label + " Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to create readback buffer: %w", buf.label, err)
	}
	defer staging.Release()

	err = d.submit(buf.label+" Readback", func(encoder *wgpu.CommandEncoder) error {
		return encoder.CopyBufferToBuffer(buf.buffer, 0, staging, 0, size)
	})
	if err != nil {
		return err
	}

	mapped, err := d.mapRead(staging, size)
	if err != nil {
		return fmt.Errorf("%s: %w", buf.label, err)
	}
	copy(dst, mapped)
	return staging.Unmap()
}

func (d *wgpuDevice) DestroyBuffer(id BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	buf.buffer.Release()
	d.allocated -= int64(buf.alloc)
	delete(d.buffers, id)
	return nil
}

func (d *wgpuDevice) CreateTexture(label string, width, height int, format PixelFormat, usage TextureUsage) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%s: invalid texture extent %dx%d", label, width, height)
	}
	wf, ok := wgpuTextureFormats[format]
	if !ok {
		return 0, fmt.Errorf("%s: %v: %w", label, format, ErrUnsupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	wu := wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst
	if usage&TextureUsageSampled != 0 {
		wu |= wgpu.TextureUsageTextureBinding
	}
	if usage&TextureUsageStorage != 0 {
		wu |= wgpu.TextureUsageStorageBinding
	}

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     wu,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		Format:        wf,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", label, ErrOutOfMemory, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("%s: failed to create texture view: %w", label, err)
	}

	info := TextureInfo{Width: width, Height: height, Format: format}
	id := TextureID(d.newID())
	d.textures[id] = &wgpuTexture{label: label, info: info, texture: tex, view: view}
	d.allocated += int64(info.Size())
	return id, nil
}

func (d *wgpuDevice) WriteTexture(id TextureID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	if len(data) != tex.info.Size() {
		return fmt.Errorf("%s: texture data is %d bytes, want %d: %w", tex.label, len(data), tex.info.Size(), ErrSizeMismatch)
	}

	return d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(tex.info.Width * tex.info.Format.BytesPerPixel()),
			RowsPerImage: uint32(tex.info.Height),
		},
		&wgpu.Extent3D{
			Width:              uint32(tex.info.Width),
			Height:             uint32(tex.info.Height),
			DepthOrArrayLayers: 1,
		},
	)
}

func (d *wgpuDevice) ReadTexture(id TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}

	rowBytes := tex.info.Width * tex.info.Format.BytesPerPixel()
	paddedRow := roundUp(rowBytes, textureRowAlignment)
	size := uint64(paddedRow * tex.info.Height)

	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: tex.label + " Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create readback buffer: %w", tex.label, err)
	}
	defer staging.Release()

	err = d.submit(tex.label+" Readback", func(encoder *wgpu.CommandEncoder) error {
		return encoder.CopyTextureToBuffer(
			&wgpu.ImageCopyTexture{Texture: tex.texture, Aspect: wgpu.TextureAspectAll},
			&wgpu.ImageCopyBuffer{
				Buffer: staging,
				Layout: wgpu.TextureDataLayout{
					BytesPerRow:  uint32(paddedRow),
					RowsPerImage: uint32(tex.info.Height),
				},
			},
			&wgpu.Extent3D{Width: uint32(tex.info.Width), Height: uint32(tex.info.Height), DepthOrArrayLayers: 1},
		)
	})
	if err != nil {
		return nil, err
	}

	mapped, err := d.mapRead(staging, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tex.label, err)
	}
	out := make([]byte, rowBytes*tex.info.Height)
	for y := 0; y < tex.info.Height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], mapped[y*paddedRow:])
	}
	return out, staging.Unmap()
}

func (d *wgpuDevice) CopyTexture(src, dst TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.textures[src]
	if !ok {
		return fmt.Errorf("source texture %d: %w", src, ErrUnknownResource)
	}
	t, ok := d.textures[dst]
	if !ok {
		return fmt.Errorf("destination texture %d: %w", dst, ErrUnknownResource)
	}
	if s.info != t.info {
		return fmt.Errorf("copy %dx%d %v into %dx%d %v: %w", s.info.Width, s.info.Height, s.info.Format, t.info.Width, t.info.Height, t.info.Format, ErrSizeMismatch)
	}

	return d.submit(s.label+" Copy", func(encoder *wgpu.CommandEncoder) error {
		return encoder.CopyTextureToTexture(
			&wgpu.ImageCopyTexture{Texture: s.texture, Aspect: wgpu.TextureAspectAll},
			&wgpu.ImageCopyTexture{Texture: t.texture, Aspect: wgpu.TextureAspectAll},
			&wgpu.Extent3D{Width: uint32(s.info.Width), Height: uint32(s.info.Height), DepthOrArrayLayers: 1},
		)
	})
}

func (d *wgpuDevice) TextureInfo(id TextureID) (TextureInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return TextureInfo{}, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	return tex.info, nil
}

func (d *wgpuDevice) DestroyTexture(id TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	tex.view.Release()
	tex.texture.Release()
	d.allocated -= int64(tex.info.Size())
	delete(d.textures, id)
	return nil
}

func (d *wgpuDevice) CreateSampler(label string, desc SamplerDescriptor) (SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	address := wgpu.AddressModeRepeat
	if desc.AddressMode == AddressModeClampToEdge {
		address = wgpu.AddressModeClampToEdge
	}
	filter := wgpu.FilterModeLinear
	if desc.Filter == FilterModeNearest {
		filter = wgpu.FilterModeNearest
	}

	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label,
		AddressModeU:  address,
		AddressModeV:  address,
		AddressModeW:  address,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}

	id := SamplerID(d.newID())
	d.samplers[id] = samp
	return id, nil
}

func (d *wgpuDevice) DestroySampler(id SamplerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	samp, ok := d.samplers[id]
	if !ok {
		return fmt.Errorf("sampler %d: %w", id, ErrUnknownResource)
	}
	samp.Release()
	delete(d.samplers, id)
	return nil
}

func (d *wgpuDevice) CreateComputePipeline(desc PipelineDescriptor) (PipelineID, error) {
	if err := CheckWorkgroupSize(d, desc.WorkgroupSize); err != nil {
		return 0, fmt.Errorf("%s: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Source,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create shader module: %w", desc.Label, err)
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Layout))
	for _, l := range desc.Layout {
		entry, err := bindGroupLayoutEntry(l)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", desc.Label, err)
		}
		entries = append(entries, entry)
	}
	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label + " Bind Group Layout",
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create bind group layout: %w", desc.Label, err)
	}

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return 0, fmt.Errorf("%s: failed to create pipeline layout: %w", desc.Label, err)
	}
	defer layout.Release()

	created, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		bgl.Release()
		return 0, fmt.Errorf("%s: failed to create compute pipeline: %w", desc.Label, err)
	}

	id := PipelineID(d.newID())
	d.pipelines[id] = &wgpuPipeline{label: desc.Label, layout: desc.Layout, groupBGL: bgl, pipeline: created}
	return id, nil
}

func (d *wgpuDevice) DestroyComputePipeline(id PipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pipelines[id]
	if !ok {
		return fmt.Errorf("pipeline %d: %w", id, ErrUnknownResource)
	}
	p.pipeline.Release()
	p.groupBGL.Release()
	delete(d.pipelines, id)
	return nil
}

func (d *wgpuDevice) Dispatch(pipeline PipelineID, entries []BindGroupEntry, groups [3]uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pipelines[pipeline]
	if !ok {
		return fmt.Errorf("pipeline %d: %w", pipeline, ErrUnknownResource)
	}

	bgEntries, err := d.bindGroupEntries(p, entries)
	if err != nil {
		return err
	}
	bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.label + " Bind Group",
		Layout:  p.groupBGL,
		Entries: bgEntries,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to create bind group: %w", p.label, err)
	}
	defer bindGroup.Release()

	err = d.submit(p.label, func(encoder *wgpu.CommandEncoder) error {
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
		return pass.End()
	})
	if err != nil {
		return err
	}
	d.dispatches++
	return nil
}

// bindGroupEntries resolves IDs into WebGPU bind group entries. Caller holds d.mu.
func (d *wgpuDevice) bindGroupEntries(p *wgpuPipeline, entries []BindGroupEntry) ([]wgpu.BindGroupEntry, error) {
	byBinding := make(map[uint32]BindGroupEntry, len(entries))
	for _, e := range entries {
		byBinding[e.Binding] = e
	}

	out := make([]wgpu.BindGroupEntry, 0, len(p.layout))
	for _, l := range p.layout {
		e, ok := byBinding[l.Binding]
		if !ok {
			return nil, fmt.Errorf("%s: binding %d (%s) is not bound", p.label, l.Binding, l.Name)
		}
		switch {
		case l.Kind.IsBuffer():
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) buffer %d: %w", p.label, l.Binding, l.Name, e.Buffer, ErrUnknownResource)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: l.Binding, Buffer: buf.buffer, Offset: 0, Size: wgpu.WholeSize})
		case l.Kind.IsTexture():
			tex, ok := d.textures[e.Texture]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) texture %d: %w", p.label, l.Binding, l.Name, e.Texture, ErrUnknownResource)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: l.Binding, TextureView: tex.view})
		case l.Kind == BindingKindSampler:
			samp, ok := d.samplers[e.Sampler]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) sampler %d: %w", p.label, l.Binding, l.Name, e.Sampler, ErrUnknownResource)
			}
			out = append(out, wgpu.BindGroupEntry{Binding: l.Binding, Sampler: samp})
		}
	}
	return out, nil
}

// submit records commands into a fresh encoder, submits them and waits for the queue
// to drain. Caller holds d.mu.
func (d *wgpuDevice) submit(label string, record func(encoder *wgpu.CommandEncoder) error) error {
	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create command encoder: %w", label, err)
	}
	defer encoder.Release()

	if err := record(encoder); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("%s: failed to finish command encoder: %w", label, err)
	}
	defer commandBuffer.Release()

	d.queue.Submit(commandBuffer)
	d.device.Poll(true, nil)
	return nil
}

// mapRead maps a MapRead buffer and blocks until the mapping completes.
func (d *wgpuDevice) mapRead(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	var status wgpu.BufferMapAsyncStatus
	done := false
	err := buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to map readback buffer: %w", err)
	}
	for !done {
		d.device.Poll(true, nil)
		runtime.Gosched()
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, errors.New("readback buffer map was not successful: " + status.String())
	}
	return buf.GetMappedRange(0, uint(size)), nil
}

func (d *wgpuDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pipelines {
		p.pipeline.Release()
		p.groupBGL.Release()
	}
	for _, s := range d.samplers {
		s.Release()
	}
	for _, t := range d.textures {
		t.view.Release()
		t.texture.Release()
	}
	for _, b := range d.buffers {
		b.buffer.Release()
	}
	clear(d.pipelines)
	clear(d.samplers)
	clear(d.textures)
	clear(d.buffers)
	d.allocated = 0

	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.surface != nil {
		d.surface.Release()
	}
	d.instance.Release()
}

// bindGroupLayoutEntry converts a binding layout into its WebGPU layout entry.
func bindGroupLayoutEntry(l BindingLayout) (wgpu.BindGroupLayoutEntry, error) {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    l.Binding,
		Visibility: wgpu.ShaderStageCompute,
	}
	switch l.Kind {
	case BindingKindUniform:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		entry.Buffer.MinBindingSize = uint64(l.MinSize)
	case BindingKindReadOnlyStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		entry.Buffer.MinBindingSize = uint64(l.MinSize)
	case BindingKindStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		entry.Buffer.MinBindingSize = uint64(l.MinSize)
	case BindingKindSampledTexture:
		entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	case BindingKindStorageTexture:
		format, ok := wgpuTextureFormats[l.Format]
		if !ok {
			return entry, fmt.Errorf("binding %d (%s): storage format %v: %w", l.Binding, l.Name, l.Format, ErrUnsupported)
		}
		entry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
		entry.StorageTexture.Format = format
		entry.StorageTexture.ViewDimension = wgpu.TextureViewDimension2D
	case BindingKindSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	default:
		return entry, fmt.Errorf("binding %d (%s): %v: %w", l.Binding, l.Name, l.Kind, ErrUnsupported)
	}
	return entry, nil
}

// copySize returns the size of a queue write or buffer copy covering n bytes. Buffers are
// allocated at copySize of their requested size so every transfer fits.
func copySize(n int) int {
	return roundUp(n, bufferCopyAlignment)
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}
