package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"k8s.io/klog/v2"
)

// softwareDevice runs compute pipelines on the CPU. Workgroups of a dispatch are fanned
// out across a worker pool and the dispatch returns once all of them have finished.
type softwareDevice struct {
	mu *sync.Mutex

	label       string
	limits      Limits
	memoryLimit int64
	allocated   int64
	nextID      uint64
	dispatches  uint64

	buffers   map[BufferID]*softwareBuffer
	textures  map[TextureID]*TextureData
	samplers  map[SamplerID]SamplerDescriptor
	pipelines map[PipelineID]PipelineDescriptor

	pool worker.DynamicWorkerPool
}

type softwareBuffer struct {
	label string
	usage BufferUsage
	data  *BufferData
}

// softwareBindings resolves the resources of a single dispatch for a CPU kernel.
type softwareBindings struct {
	buffers  map[uint32]*BufferData
	textures map[uint32]*TextureData
	samplers map[uint32]SamplerDescriptor
}

var _ Device = &softwareDevice{}
var _ Bindings = &softwareBindings{}

// NewSoftwareDevice creates a Device that executes the CPU Kernel of each pipeline.
//
// Parameters:
//   - options: functional options for the device
//
// Returns:
//   - Device: the software device
func NewSoftwareDevice(options ...DeviceBuilderOption) Device {
	cfg := newDeviceConfig("Software Device", options)
	limits := Limits{
		MaxWorkgroupSize:           [3]uint32{1024, 1024, 64},
		MaxInvocationsPerWorkgroup: 1024,
		MaxBufferSize:              1 << 30,
	}
	if cfg.limits != nil {
		limits = *cfg.limits
	}

	return &softwareDevice{
		mu:          &sync.Mutex{},
		label:       cfg.label,
		limits:      limits,
		memoryLimit: cfg.memoryLimit,
		buffers:     make(map[BufferID]*softwareBuffer),
		textures:    make(map[TextureID]*TextureData),
		samplers:    make(map[SamplerID]SamplerDescriptor),
		pipelines:   make(map[PipelineID]PipelineDescriptor),
		pool:        worker.NewDynamicWorkerPool(cfg.workers, 256, 1*time.Second),
	}
}

func (d *softwareDevice) Label() string {
	return d.label
}

func (d *softwareDevice) SupportsCompute() bool {
	return true
}

func (d *softwareDevice) Limits() Limits {
	return d.limits
}

func (d *softwareDevice) Stats() Stats {
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

// reserve accounts for size bytes against the memory budget. Caller holds d.mu.
func (d *softwareDevice) reserve(label string, size int64) error {
	if size > d.limits.MaxBufferSize {
		return fmt.Errorf("%s: %d bytes exceeds max allocation of %d: %w", label, size, d.limits.MaxBufferSize, ErrOutOfMemory)
	}
	if d.memoryLimit > 0 && d.allocated+size > d.memoryLimit {
		return fmt.Errorf("%s: %d bytes requested with %d of %d in use: %w", label, size, d.allocated, d.memoryLimit, ErrOutOfMemory)
	}
	d.allocated += size
	return nil
}

func (d *softwareDevice) newID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *softwareDevice) CreateBuffer(label string, size int, usage BufferUsage) (BufferID, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%s: invalid buffer size %d", label, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reserve(label, int64(size)); err != nil {
		return 0, err
	}
	id := BufferID(d.newID())
	d.buffers[id] = &softwareBuffer{
		label: label,
		usage: usage,
		data:  &BufferData{bytes: make([]byte, size)},
	}
	return id, nil
}

func (d *softwareDevice) WriteBuffer(id BufferID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if len(data) > buf.data.Len() {
		return fmt.Errorf("%s: write of %d bytes into %d: %w", buf.label, len(data), buf.data.Len(), ErrSizeMismatch)
	}
	copy(buf.data.bytes, data)
	return nil
}

func (d *softwareDevice) ReadBuffer(id BufferID, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if len(dst) > buf.data.Len() {
		return fmt.Errorf("%s: read of %d bytes from %d: %w", buf.label, len(dst), buf.data.Len(), ErrSizeMismatch)
	}
	copy(dst, buf.data.bytes)
	return nil
}

func (d *softwareDevice) DestroyBuffer(id BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	d.allocated -= int64(buf.data.Len())
	delete(d.buffers, id)
	return nil
}

func (d *softwareDevice) CreateTexture(label string, width, height int, format PixelFormat, usage TextureUsage) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%s: invalid texture extent %dx%d", label, width, height)
	}
	if format.BytesPerPixel() == 0 {
		return 0, fmt.Errorf("%s: %v: %w", label, format, ErrUnsupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reserve(label, int64(width*height*format.BytesPerPixel())); err != nil {
		return 0, err
	}
	id := TextureID(d.newID())
	d.textures[id] = newTextureData(width, height, format)
	return id, nil
}

func (d *softwareDevice) WriteTexture(id TextureID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	return tex.decode(data)
}

func (d *softwareDevice) ReadTexture(id TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	return tex.encode(), nil
}

func (d *softwareDevice) CopyTexture(src, dst TextureID) error {
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
	if s.width != t.width || s.height != t.height || s.format != t.format {
		return fmt.Errorf("copy %dx%d %v into %dx%d %v: %w", s.width, s.height, s.format, t.width, t.height, t.format, ErrSizeMismatch)
	}
	copy(t.texels, s.texels)
	return nil
}

func (d *softwareDevice) TextureInfo(id TextureID) (TextureInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return TextureInfo{}, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	return TextureInfo{Width: tex.width, Height: tex.height, Format: tex.format}, nil
}

func (d *softwareDevice) DestroyTexture(id TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	d.allocated -= int64(tex.width * tex.height * tex.format.BytesPerPixel())
	delete(d.textures, id)
	return nil
}

func (d *softwareDevice) CreateSampler(label string, desc SamplerDescriptor) (SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := SamplerID(d.newID())
	d.samplers[id] = desc
	return id, nil
}

func (d *softwareDevice) DestroySampler(id SamplerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.samplers[id]; !ok {
		return fmt.Errorf("sampler %d: %w", id, ErrUnknownResource)
	}
	delete(d.samplers, id)
	return nil
}

func (d *softwareDevice) CreateComputePipeline(desc PipelineDescriptor) (PipelineID, error) {
	if desc.Kernel == nil {
		return 0, fmt.Errorf("%s: no CPU kernel: %w", desc.Label, ErrUnsupported)
	}
	if err := CheckWorkgroupSize(d, desc.WorkgroupSize); err != nil {
		return 0, fmt.Errorf("%s: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := PipelineID(d.newID())
	d.pipelines[id] = desc
	return id, nil
}

func (d *softwareDevice) DestroyComputePipeline(id PipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pipelines[id]; !ok {
		return fmt.Errorf("pipeline %d: %w", id, ErrUnknownResource)
	}
	delete(d.pipelines, id)
	return nil
}

func (d *softwareDevice) Dispatch(pipeline PipelineID, entries []BindGroupEntry, groups [3]uint32) error {
	d.mu.Lock()
	desc, ok := d.pipelines[pipeline]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("pipeline %d: %w", pipeline, ErrUnknownResource)
	}
	bindings, err := d.resolve(desc, entries)
	if err == nil {
		d.dispatches++
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	run, err := desc.Kernel(bindings)
	if err != nil {
		return fmt.Errorf("%s: %w", desc.Label, err)
	}
	return d.runWorkgroups(desc, run, groups)
}

// resolve maps every binding of the pipeline layout to the bound resource. Caller holds d.mu.
func (d *softwareDevice) resolve(desc PipelineDescriptor, entries []BindGroupEntry) (*softwareBindings, error) {
	byBinding := make(map[uint32]BindGroupEntry, len(entries))
	for _, e := range entries {
		byBinding[e.Binding] = e
	}

	b := &softwareBindings{
		buffers:  make(map[uint32]*BufferData),
		textures: make(map[uint32]*TextureData),
		samplers: make(map[uint32]SamplerDescriptor),
	}
	for _, layout := range desc.Layout {
		e, ok := byBinding[layout.Binding]
		if !ok {
			return nil, fmt.Errorf("%s: binding %d (%s) is not bound", desc.Label, layout.Binding, layout.Name)
		}
		switch {
		case layout.Kind.IsBuffer():
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) buffer %d: %w", desc.Label, layout.Binding, layout.Name, e.Buffer, ErrUnknownResource)
			}
			if buf.data.Len() < layout.MinSize {
				return nil, fmt.Errorf("%s: binding %d (%s) is %d bytes, want at least %d: %w", desc.Label, layout.Binding, layout.Name, buf.data.Len(), layout.MinSize, ErrSizeMismatch)
			}
			b.buffers[layout.Binding] = buf.data
		case layout.Kind.IsTexture():
			tex, ok := d.textures[e.Texture]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) texture %d: %w", desc.Label, layout.Binding, layout.Name, e.Texture, ErrUnknownResource)
			}
			if layout.Kind == BindingKindStorageTexture && tex.format != layout.Format {
				return nil, fmt.Errorf("%s: binding %d (%s) is %v, want %v: %w", desc.Label, layout.Binding, layout.Name, tex.format, layout.Format, ErrSizeMismatch)
			}
			b.textures[layout.Binding] = tex
		case layout.Kind == BindingKindSampler:
			s, ok := d.samplers[e.Sampler]
			if !ok {
				return nil, fmt.Errorf("%s: binding %d (%s) sampler %d: %w", desc.Label, layout.Binding, layout.Name, e.Sampler, ErrUnknownResource)
			}
			b.samplers[layout.Binding] = s
		}
	}
	return b, nil
}

// runWorkgroups submits one task per workgroup to the pool and waits for all of them.
// A per-dispatch WaitGroup is the barrier since the pool's own Wait only returns once
// workers idle out.
func (d *softwareDevice) runWorkgroups(desc PipelineDescriptor, run func(inv Invocation), groups [3]uint32) error {
	size := desc.WorkgroupSize

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	taskID := 0
	for gz := uint32(0); gz < groups[2]; gz++ {
		for gy := uint32(0); gy < groups[1]; gy++ {
			for gx := uint32(0); gx < groups[0]; gx++ {
				group := [3]uint32{gx, gy, gz}
				wg.Add(1)
				id := taskID
				taskID++
				d.pool.SubmitTask(worker.Task{
					ID: id,
					Do: func() (any, error) {
						defer wg.Done()
						defer func() {
							if r := recover(); r != nil {
								errMu.Lock()
								if firstErr == nil {
									firstErr = fmt.Errorf("%s: workgroup %v panicked: %v", desc.Label, group, r)
								}
								errMu.Unlock()
							}
						}()
						runWorkgroup(run, group, size)
						return nil, nil
					},
				})
			}
		}
	}
	wg.Wait()

	if firstErr != nil {
		klog.Background().Error(firstErr, "Software dispatch failed", "device", d.label, "pipeline", desc.Label)
	}
	return firstErr
}

func runWorkgroup(run func(inv Invocation), group, size [3]uint32) {
	for lz := uint32(0); lz < size[2]; lz++ {
		for ly := uint32(0); ly < size[1]; ly++ {
			for lx := uint32(0); lx < size[0]; lx++ {
				run(Invocation{
					GlobalID:    [3]uint32{group[0]*size[0] + lx, group[1]*size[1] + ly, group[2]*size[2] + lz},
					LocalID:     [3]uint32{lx, ly, lz},
					WorkgroupID: group,
				})
			}
		}
	}
}

func (d *softwareDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.buffers)
	clear(d.textures)
	clear(d.samplers)
	clear(d.pipelines)
	d.allocated = 0
}

func (b *softwareBindings) Buffer(binding uint32) (*BufferData, error) {
	buf, ok := b.buffers[binding]
	if !ok {
		return nil, fmt.Errorf("no buffer at binding %d: %w", binding, ErrUnknownResource)
	}
	return buf, nil
}

func (b *softwareBindings) Texture(binding uint32) (*TextureData, error) {
	tex, ok := b.textures[binding]
	if !ok {
		return nil, fmt.Errorf("no texture at binding %d: %w", binding, ErrUnknownResource)
	}
	return tex, nil
}

func (b *softwareBindings) Sampler(binding uint32) (SamplerDescriptor, error) {
	s, ok := b.samplers[binding]
	if !ok {
		return SamplerDescriptor{}, fmt.Errorf("no sampler at binding %d: %w", binding, ErrUnknownResource)
	}
	return s, nil
}
