package kernel

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// paramsStruct is the WGSL struct every kernel uses for its uniform block.
const paramsStruct = "Params"

// SlotKind is the category of a kernel input or output slot.
type SlotKind int

const (
	SlotKindReadOnlyTexture SlotKind = iota
	SlotKindWritableTexture
	SlotKindReadOnlyBuffer
	SlotKindWritableBuffer
	SlotKindSampler
	SlotKindScalar
	SlotKindMatrix
)

func (k SlotKind) String() string {
	switch k {
	case SlotKindReadOnlyTexture:
		return "read-only texture"
	case SlotKindWritableTexture:
		return "writable texture"
	case SlotKindReadOnlyBuffer:
		return "read-only buffer"
	case SlotKindWritableBuffer:
		return "writable buffer"
	case SlotKindSampler:
		return "sampler"
	case SlotKindScalar:
		return "scalar"
	case SlotKindMatrix:
		return "matrix"
	default:
		return fmt.Sprintf("SlotKind(%d)", int(k))
	}
}

// InUniformBlock reports whether values of this kind live in the kernel's uniform block.
func (k SlotKind) InUniformBlock() bool {
	return k == SlotKindScalar || k == SlotKindMatrix
}

// bindingKind maps a slot kind to the pipeline binding kind that serves it.
func (k SlotKind) bindingKind() device.BindingKind {
	switch k {
	case SlotKindReadOnlyTexture:
		return device.BindingKindSampledTexture
	case SlotKindWritableTexture:
		return device.BindingKindStorageTexture
	case SlotKindReadOnlyBuffer:
		return device.BindingKindReadOnlyStorage
	case SlotKindWritableBuffer:
		return device.BindingKindStorage
	case SlotKindSampler:
		return device.BindingKindSampler
	default:
		return device.BindingKindUniform
	}
}

// Slot is one named input or output of a kernel.
type Slot struct {
	// Name is the WGSL variable name, or the Params member name for scalars and matrices.
	Name string
	// Kind is the slot category.
	Kind SlotKind
	// DataType is the WGSL type of the slot.
	DataType string
	// Binding is the @binding index in group 0. Scalars and matrices share the uniform binding.
	Binding uint32
	// Offset is the byte offset within the uniform block for scalars and matrices.
	Offset uint64
}

// Descriptor is the immutable compile-time contract of a kernel: its processed source, its
// slots, its output format and its CPU implementation. One instance exists per kernel and
// output format, shared by every dispatch.
type Descriptor struct {
	name        string
	format      device.PixelFormat
	groupExtent uint32
	shader      shader.Shader
	params      shader.StructLayout
	slots       []Slot
	layout      []device.BindingLayout
	kernel      device.Kernel
}

// newDescriptor processes the named kernel source for the output format, compiles it with
// naga and checks the declared slots against the parsed bindings.
func newDescriptor(name string, format device.PixelFormat, slots []Slot, cpu func(shader.StructLayout) device.Kernel) (*Descriptor, error) {
	source, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("kernel %s: not registered", name)
	}
	if format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("kernel %s: invalid output format %s", name, format)
	}

	pp := shader.NewPreProcessor(
		shader.WithWorkgroupSize([3]uint32{ThreadsPerGroupDimension, ThreadsPerGroupDimension, 1}),
		shader.WithOutputFormat(format.WGSL()),
	)
	sh, err := shader.NewShader(name+"/"+format.String(), source, pp)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}
	if _, err := shader.Validate(sh.Source()); err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}
	params, ok := sh.StructLayout(paramsStruct)
	if !ok {
		return nil, fmt.Errorf("kernel %s: no %s struct", name, paramsStruct)
	}

	d := &Descriptor{
		name:        name,
		format:      format,
		groupExtent: ThreadsPerGroupDimension,
		shader:      sh,
		params:      params,
		slots:       make([]Slot, len(slots)),
	}
	copy(d.slots, slots)
	for i, s := range d.slots {
		if !s.Kind.InUniformBlock() {
			continue
		}
		f, ok := params.Field(s.Name)
		if !ok {
			return nil, fmt.Errorf("kernel %s: %s has no member %q", name, paramsStruct, s.Name)
		}
		d.slots[i].Offset = f.Offset
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}
	d.layout = d.buildLayout()
	d.kernel = cpu(params)
	return d, nil
}

// validate checks that the slots and the workgroup size agree with the processed WGSL.
func (d *Descriptor) validate() error {
	want := [3]uint32{d.groupExtent, d.groupExtent, 1}
	if got := d.shader.WorkgroupSize(); got != want {
		return fmt.Errorf("workgroup size %v does not match group extent %v", got, want)
	}

	entries := map[uint32]wgpu.BindGroupLayoutEntry{}
	for _, e := range d.shader.BindGroupLayoutDescriptor(0).Entries {
		entries[e.Binding] = e
	}
	covered := map[uint32]bool{}
	for _, s := range d.slots {
		e, ok := entries[s.Binding]
		if !ok {
			return fmt.Errorf("slot %s: no binding %d in shader", s.Name, s.Binding)
		}
		covered[s.Binding] = true

		if s.Kind.InUniformBlock() {
			if e.Buffer.Type != wgpu.BufferBindingTypeUniform {
				return fmt.Errorf("slot %s: binding %d is not a uniform buffer", s.Name, s.Binding)
			}
			f, _ := d.params.Field(s.Name)
			if f.Type != s.DataType {
				return fmt.Errorf("slot %s: shader type %s, slot type %s", s.Name, f.Type, s.DataType)
			}
			continue
		}
		if varName := d.shader.BindGroupVarName(0, int(s.Binding)); varName != s.Name {
			return fmt.Errorf("slot %s: binding %d is %q in shader", s.Name, s.Binding, varName)
		}
		if !entryMatches(s.Kind, e) {
			return fmt.Errorf("slot %s: binding %d is not a %s", s.Name, s.Binding, s.Kind)
		}
	}
	for b := range entries {
		if !covered[b] {
			return fmt.Errorf("binding %d (%s) has no slot", b, d.shader.BindGroupVarName(0, int(b)))
		}
	}
	return nil
}

func entryMatches(kind SlotKind, e wgpu.BindGroupLayoutEntry) bool {
	switch kind {
	case SlotKindReadOnlyTexture:
		return e.Texture.SampleType != wgpu.TextureSampleTypeUndefined
	case SlotKindWritableTexture:
		return e.StorageTexture.Access == wgpu.StorageTextureAccessWriteOnly
	case SlotKindReadOnlyBuffer:
		return e.Buffer.Type == wgpu.BufferBindingTypeReadOnlyStorage
	case SlotKindWritableBuffer:
		return e.Buffer.Type == wgpu.BufferBindingTypeStorage
	case SlotKindSampler:
		return e.Sampler.Type != wgpu.SamplerBindingTypeUndefined
	}
	return false
}

// buildLayout converts the shader's group 0 bindings to the device binding layout, one
// entry per binding in binding order.
func (d *Descriptor) buildLayout() []device.BindingLayout {
	kinds := map[uint32]SlotKind{}
	for _, s := range d.slots {
		kinds[s.Binding] = s.Kind
	}
	entries := d.shader.BindGroupLayoutDescriptor(0).Entries
	layout := make([]device.BindingLayout, 0, len(entries))
	for _, e := range entries {
		kind := kinds[e.Binding]
		bl := device.BindingLayout{
			Binding: e.Binding,
			Name:    d.shader.BindGroupVarName(0, int(e.Binding)),
			Kind:    kind.bindingKind(),
			MinSize: int(e.Buffer.MinBindingSize),
		}
		if kind == SlotKindWritableTexture {
			bl.Format = d.format
		}
		layout = append(layout, bl)
	}
	return layout
}

// Name returns the registry name of the kernel.
func (d *Descriptor) Name() string {
	return d.name
}

// OutputFormat returns the texel format of the kernel's output texture.
func (d *Descriptor) OutputFormat() device.PixelFormat {
	return d.format
}

// GroupExtent returns the per-axis thread extent of one workgroup.
func (d *Descriptor) GroupExtent() uint32 {
	return d.groupExtent
}

// WorkgroupSize returns the workgroup size parsed from the processed WGSL.
func (d *Descriptor) WorkgroupSize() [3]uint32 {
	return d.shader.WorkgroupSize()
}

// Shader returns the processed and parsed kernel shader.
func (d *Descriptor) Shader() shader.Shader {
	return d.shader
}

// Slots returns a copy of the kernel's slots in declaration order.
func (d *Descriptor) Slots() []Slot {
	out := make([]Slot, len(d.slots))
	copy(out, d.slots)
	return out
}

// Slot looks up a slot by name.
func (d *Descriptor) Slot(name string) (Slot, bool) {
	for _, s := range d.slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// MustBinding returns the binding index of a named slot, panicking if the slot does not exist.
func (d *Descriptor) MustBinding(name string) uint32 {
	s, ok := d.Slot(name)
	if !ok {
		panic(fmt.Sprintf("kernel: %s has no slot %q", d.name, name))
	}
	return s.Binding
}

// UniformSize returns the size in bytes of the kernel's uniform block.
func (d *Descriptor) UniformSize() int {
	return int(d.params.Size)
}

// NewUniforms returns an empty, zero-filled uniform block for this kernel.
func (d *Descriptor) NewUniforms() *Uniforms {
	return newUniforms(d.name, d.params)
}

// Pipeline returns the device pipeline descriptor of the kernel.
func (d *Descriptor) Pipeline() device.PipelineDescriptor {
	return device.PipelineDescriptor{
		Label:         d.shader.Key(),
		Source:        d.shader.Source(),
		EntryPoint:    d.shader.EntryPoint(),
		WorkgroupSize: d.shader.WorkgroupSize(),
		Layout:        append([]device.BindingLayout(nil), d.layout...),
		Kernel:        d.kernel,
	}
}

// Supported reports whether dev can run this kernel.
//
// Parameters:
//   - dev: the execution backend
//
// Returns:
//   - error: nil if supported, otherwise an error wrapping device.ErrUnsupported
func (d *Descriptor) Supported(dev device.Device) error {
	if err := device.CheckWorkgroupSize(dev, d.WorkgroupSize()); err != nil {
		return fmt.Errorf("kernel %s: %w", d.name, err)
	}
	return nil
}
