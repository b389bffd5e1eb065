package device

import (
	"fmt"
	"strings"
)

// PixelFormat is the texel format of a texture.
type PixelFormat int

const (
	// PixelFormatUndefined is the zero value and is never valid for allocation.
	PixelFormatUndefined PixelFormat = iota

	// PixelFormatR32Float is a single 32-bit float channel.
	PixelFormatR32Float

	// PixelFormatRGBA8Unorm is four 8-bit normalized channels.
	PixelFormatRGBA8Unorm

	// PixelFormatRGBA32Float is four 32-bit float channels.
	PixelFormatRGBA32Float
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatR32Float:    "r32float",
	PixelFormatRGBA8Unorm:  "rgba8unorm",
	PixelFormatRGBA32Float: "rgba32float",
}

// BytesPerPixel returns the size of one texel in bytes, or 0 for an undefined format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatR32Float, PixelFormatRGBA8Unorm:
		return 4
	case PixelFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// Channels returns the number of colour channels stored per texel.
func (f PixelFormat) Channels() int {
	switch f {
	case PixelFormatR32Float:
		return 1
	case PixelFormatRGBA8Unorm, PixelFormatRGBA32Float:
		return 4
	default:
		return 0
	}
}

// WGSL returns the WGSL texel format keyword used in storage texture declarations.
func (f PixelFormat) WGSL() string {
	return pixelFormatNames[f]
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat resolves a WGSL texel format keyword (case-insensitive).
//
// Parameters:
//   - s: the format name, e.g. "rgba8unorm"
//
// Returns:
//   - PixelFormat: the matching format
//   - error: an error if the name is not a supported format
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range pixelFormatNames {
		if name == s {
			return f, nil
		}
	}
	return PixelFormatUndefined, fmt.Errorf("device: unsupported pixel format %q", s)
}

// BufferUsage is a bit set describing how a buffer is used.
type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageCopySrc
	BufferUsageCopyDst
)

// TextureUsage is a bit set describing how a texture is used.
type TextureUsage uint32

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageCopySrc
	TextureUsageCopyDst
)

// BindingKind is the resource category of a pipeline binding.
type BindingKind int

const (
	BindingKindUniform BindingKind = iota
	BindingKindReadOnlyStorage
	BindingKindStorage
	BindingKindSampledTexture
	BindingKindStorageTexture
	BindingKindSampler
)

func (k BindingKind) String() string {
	switch k {
	case BindingKindUniform:
		return "uniform"
	case BindingKindReadOnlyStorage:
		return "read-only storage"
	case BindingKindStorage:
		return "storage"
	case BindingKindSampledTexture:
		return "sampled texture"
	case BindingKindStorageTexture:
		return "storage texture"
	case BindingKindSampler:
		return "sampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", int(k))
	}
}

// IsBuffer reports whether the binding is backed by a buffer.
func (k BindingKind) IsBuffer() bool {
	return k == BindingKindUniform || k == BindingKindReadOnlyStorage || k == BindingKindStorage
}

// IsTexture reports whether the binding is backed by a texture.
func (k BindingKind) IsTexture() bool {
	return k == BindingKindSampledTexture || k == BindingKindStorageTexture
}

// BindingLayout describes one binding of a compute pipeline in bind group 0.
type BindingLayout struct {
	// Binding is the @binding index.
	Binding uint32
	// Name is the WGSL variable name, used in error messages.
	Name string
	// Kind is the resource category.
	Kind BindingKind
	// Format is the texel format for storage textures.
	Format PixelFormat
	// MinSize is the minimum size in bytes for buffer bindings, 0 if unknown.
	MinSize int
}

// Invocation identifies one shader invocation within a dispatch.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32
}

// Bindings resolves bound resources for a CPU kernel.
type Bindings interface {
	// Buffer returns the storage of the buffer bound at binding.
	Buffer(binding uint32) (*BufferData, error)
	// Texture returns the storage of the texture bound at binding.
	Texture(binding uint32) (*TextureData, error)
	// Sampler returns the state of the sampler bound at binding.
	Sampler(binding uint32) (SamplerDescriptor, error)
}

// Kernel is the CPU implementation of a compute shader, used by the software device.
// It is called once per dispatch with the bound resources and returns the function run
// for every invocation. The returned function may be called concurrently for different
// invocations.
type Kernel func(b Bindings) (func(inv Invocation), error)

// PipelineDescriptor describes a compute pipeline.
type PipelineDescriptor struct {
	// Label names the pipeline in logs and backend debug tools.
	Label string
	// Source is the pre-processed WGSL source.
	Source string
	// EntryPoint is the @compute function name.
	EntryPoint string
	// WorkgroupSize is the @workgroup_size of the entry point.
	WorkgroupSize [3]uint32
	// Layout lists every binding of group 0.
	Layout []BindingLayout
	// Kernel is the CPU implementation, required by the software device.
	Kernel Kernel
}

// BindGroupEntry binds one resource to a binding index for a dispatch.
// Exactly one of Buffer, Texture or Sampler must be set.
type BindGroupEntry struct {
	Binding uint32
	Buffer  BufferID
	Texture TextureID
	Sampler SamplerID
}

// FilterMode selects texel filtering.
type FilterMode int

const (
	FilterModeLinear FilterMode = iota
	FilterModeNearest
)

// AddressMode selects how out of range texture coordinates are resolved.
type AddressMode int

const (
	AddressModeRepeat AddressMode = iota
	AddressModeClampToEdge
)

// SamplerDescriptor describes a sampler state object.
type SamplerDescriptor struct {
	Filter      FilterMode
	AddressMode AddressMode
}

// TextureInfo describes a texture allocation.
type TextureInfo struct {
	Width  int
	Height int
	Format PixelFormat
}

// Size returns the size in bytes of the tightly packed texture contents.
func (t TextureInfo) Size() int {
	return t.Width * t.Height * t.Format.BytesPerPixel()
}

// Limits are the compute limits of a device.
type Limits struct {
	// MaxWorkgroupSize is the per-axis workgroup size limit.
	MaxWorkgroupSize [3]uint32
	// MaxInvocationsPerWorkgroup is the limit on x*y*z of a workgroup.
	MaxInvocationsPerWorkgroup uint32
	// MaxBufferSize is the largest buffer the device can allocate.
	MaxBufferSize int64
}
