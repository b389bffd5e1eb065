// Package device abstracts the execution backend that compute work is submitted to.
// Every GPU object is referred to by an opaque ID owned by the Device that created it,
// so callers never hold backend pointers across a build.
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when an allocation would exceed the device memory budget.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrUnknownResource is returned when an ID does not name a live resource on the device.
	ErrUnknownResource = errors.New("device: unknown resource")

	// ErrSizeMismatch is returned when a copy or upload does not match the resource extent.
	ErrSizeMismatch = errors.New("device: size mismatch")

	// ErrUnsupported is returned when the backend cannot run the requested work.
	ErrUnsupported = errors.New("device: unsupported")
)

// BufferID identifies a buffer owned by a Device. The zero value is never a valid ID.
type BufferID uint64

// TextureID identifies a texture owned by a Device. The zero value is never a valid ID.
type TextureID uint64

// SamplerID identifies a sampler owned by a Device. The zero value is never a valid ID.
type SamplerID uint64

// PipelineID identifies a compute pipeline owned by a Device. The zero value is never a valid ID.
type PipelineID uint64

// Stats is a point-in-time view of the resources a Device currently holds.
type Stats struct {
	Buffers        int
	Textures       int
	Samplers       int
	Pipelines      int
	BytesAllocated int64
	Dispatches     uint64
}

// Device is a compute execution backend. All methods except Label, Limits, SupportsCompute
// and Stats must be called from the execution thread.
type Device interface {
	// Label returns the human readable device name used in log output.
	//
	// Returns:
	//   - string: the device label
	Label() string

	// SupportsCompute reports whether the backend can run compute pipelines at all.
	//
	// Returns:
	//   - bool: true if compute dispatch is available
	SupportsCompute() bool

	// Limits returns the compute limits of the backend.
	//
	// Returns:
	//   - Limits: the device limits
	Limits() Limits

	// Stats returns the number of live resources and the dispatch count.
	//
	// Returns:
	//   - Stats: current resource statistics
	Stats() Stats

	// CreateBuffer allocates a zero-filled buffer of the given size.
	//
	// Parameters:
	//   - label: debug label for the buffer
	//   - size: size in bytes (must be > 0)
	//   - usage: how the buffer will be bound and copied
	//
	// Returns:
	//   - BufferID: the new buffer
	//   - error: ErrOutOfMemory if the allocation does not fit
	CreateBuffer(label string, size int, usage BufferUsage) (BufferID, error)

	// WriteBuffer uploads data into the buffer starting at offset 0.
	//
	// Parameters:
	//   - id: the destination buffer
	//   - data: bytes to upload (must fit the buffer)
	//
	// Returns:
	//   - error: ErrUnknownResource or ErrSizeMismatch on failure
	WriteBuffer(id BufferID, data []byte) error

	// ReadBuffer copies the first len(dst) bytes of the buffer into dst, blocking until
	// all previously submitted work that writes the buffer has completed.
	//
	// Parameters:
	//   - id: the source buffer
	//   - dst: destination memory
	//
	// Returns:
	//   - error: ErrUnknownResource or ErrSizeMismatch on failure
	ReadBuffer(id BufferID, dst []byte) error

	// DestroyBuffer releases the buffer. Destroying an unknown ID is an error.
	DestroyBuffer(id BufferID) error

	// CreateTexture allocates a 2D texture.
	//
	// Parameters:
	//   - label: debug label for the texture
	//   - width: width in pixels (must be > 0)
	//   - height: height in pixels (must be > 0)
	//   - format: the texel format
	//   - usage: how the texture will be bound and copied
	//
	// Returns:
	//   - TextureID: the new texture
	//   - error: ErrOutOfMemory if the allocation does not fit
	CreateTexture(label string, width, height int, format PixelFormat, usage TextureUsage) (TextureID, error)

	// WriteTexture uploads tightly packed rows of texels in the texture's format.
	WriteTexture(id TextureID, data []byte) error

	// ReadTexture returns the texture contents as tightly packed rows in its format.
	ReadTexture(id TextureID) ([]byte, error)

	// CopyTexture copies src into dst. Both textures must have the same extent and format.
	//
	// Parameters:
	//   - src: the source texture
	//   - dst: the destination texture
	//
	// Returns:
	//   - error: ErrUnknownResource or ErrSizeMismatch on failure
	CopyTexture(src, dst TextureID) error

	// TextureInfo returns the extent and format of a texture.
	TextureInfo(id TextureID) (TextureInfo, error)

	// DestroyTexture releases the texture.
	DestroyTexture(id TextureID) error

	// CreateSampler creates a sampler state object.
	CreateSampler(label string, desc SamplerDescriptor) (SamplerID, error)

	// DestroySampler releases the sampler.
	DestroySampler(id SamplerID) error

	// CreateComputePipeline compiles a compute pipeline from the descriptor.
	//
	// Parameters:
	//   - desc: shader source, entry point, binding layout and CPU kernel
	//
	// Returns:
	//   - PipelineID: the compiled pipeline
	//   - error: an error if the backend cannot build the pipeline
	CreateComputePipeline(desc PipelineDescriptor) (PipelineID, error)

	// DestroyComputePipeline releases the pipeline.
	DestroyComputePipeline(id PipelineID) error

	// Dispatch runs the pipeline over groups workgroups with the given resources bound,
	// returning once every workgroup has finished.
	//
	// Parameters:
	//   - pipeline: the pipeline to run
	//   - entries: one entry per binding of the pipeline layout
	//   - groups: the number of workgroups in x, y and z
	//
	// Returns:
	//   - error: an error if a binding is missing or the dispatch fails
	Dispatch(pipeline PipelineID, entries []BindGroupEntry, groups [3]uint32) error

	// Release destroys every resource still held by the device and the backend itself.
	Release()
}

// CheckWorkgroupSize reports whether the device can run a workgroup of the given size.
//
// Parameters:
//   - d: the device to check
//   - size: the workgroup size as [x, y, z]
//
// Returns:
//   - error: nil if supported, otherwise an error wrapping ErrUnsupported
func CheckWorkgroupSize(d Device, size [3]uint32) error {
	if !d.SupportsCompute() {
		return fmt.Errorf("%s: compute is not available: %w", d.Label(), ErrUnsupported)
	}
	l := d.Limits()
	for i, n := range size {
		if n == 0 || n > l.MaxWorkgroupSize[i] {
			return fmt.Errorf("%s: workgroup size %v exceeds per-axis limit %v: %w", d.Label(), size, l.MaxWorkgroupSize, ErrUnsupported)
		}
	}
	if total := size[0] * size[1] * size[2]; total > l.MaxInvocationsPerWorkgroup {
		return fmt.Errorf("%s: workgroup of %d invocations exceeds limit %d: %w", d.Label(), total, l.MaxInvocationsPerWorkgroup, ErrUnsupported)
	}
	return nil
}
