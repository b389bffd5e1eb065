package graph

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"k8s.io/klog/v2"
)

type resourceKind int

const (
	resourceBuffer resourceKind = iota
	resourceTexture
	resourceSampler
)

func (k resourceKind) String() string {
	switch k {
	case resourceBuffer:
		return "buffer"
	case resourceTexture:
		return "texture"
	default:
		return "sampler"
	}
}

// resource is one buffer, texture or sampler recorded on a builder. External resources
// are owned by the caller and are never allocated or released by the builder.
type resource struct {
	kind     resourceKind
	label    string
	external bool

	size        int
	bufferUsage device.BufferUsage

	width, height int
	format        device.PixelFormat
	textureUsage  device.TextureUsage

	samplerDesc device.SamplerDescriptor

	data []byte

	buffer    device.BufferID
	texture   device.TextureID
	sampler   device.SamplerID
	allocated bool
}

func (b *Builder) add(r *resource) Handle {
	if b.executed {
		b.fail(fmt.Errorf("graph %s: resource %s recorded after execute: %w", b.label, r.label, ErrAlreadyExecuted))
		return Handle{}
	}
	r.label = b.label + "/" + r.label
	b.resources = append(b.resources, r)
	return Handle{owner: b.id, index: len(b.resources) - 1}
}

func (b *Builder) resource(h Handle) (*resource, error) {
	if !h.Valid() {
		return nil, errors.New("invalid handle")
	}
	if h.owner != b.id {
		return nil, ErrForeignHandle
	}
	if h.index < 0 || h.index >= len(b.resources) {
		return nil, fmt.Errorf("handle %d out of range", h.index)
	}
	return b.resources[h.index], nil
}

func (b *Builder) lookup(h Handle, kind resourceKind) (*resource, error) {
	r, err := b.resource(h)
	if err != nil {
		return nil, err
	}
	if r.kind != kind {
		return nil, fmt.Errorf("%s is a %s, not a %s", r.label, r.kind, kind)
	}
	if !r.allocated && !r.external {
		return nil, fmt.Errorf("%s is not allocated", r.label)
	}
	return r, nil
}

// CreateBuffer records a zero-filled transient buffer.
//
// Parameters:
//   - label: the buffer label
//   - size: size in bytes, must be > 0
//   - usage: how the buffer is bound
//
// Returns:
//   - Handle: the buffer handle
func (b *Builder) CreateBuffer(label string, size int, usage device.BufferUsage) Handle {
	if size <= 0 {
		b.fail(fmt.Errorf("graph %s: buffer %s has size %d", b.label, label, size))
	}
	return b.add(&resource{kind: resourceBuffer, label: label, size: size, bufferUsage: usage | device.BufferUsageCopyDst})
}

// CreateStructuredBuffer records a storage buffer holding elements of stride bytes,
// initialised with data at upload time.
//
// Parameters:
//   - label: the buffer label
//   - stride: the element size in bytes
//   - data: the initial contents; must be a non-empty multiple of stride
//
// Returns:
//   - Handle: the buffer handle
func (b *Builder) CreateStructuredBuffer(label string, stride int, data []byte) Handle {
	if stride <= 0 || len(data) == 0 || len(data)%stride != 0 {
		b.fail(fmt.Errorf("graph %s: structured buffer %s has %d bytes, want a non-empty multiple of %d", b.label, label, len(data), stride))
	}
	return b.add(&resource{
		kind:        resourceBuffer,
		label:       label,
		size:        len(data),
		bufferUsage: device.BufferUsageStorage | device.BufferUsageCopySrc | device.BufferUsageCopyDst,
		data:        append([]byte(nil), data...),
	})
}

// CreateUniformBuffer records a uniform buffer initialised with data at upload time.
func (b *Builder) CreateUniformBuffer(label string, data []byte) Handle {
	if len(data) == 0 {
		b.fail(fmt.Errorf("graph %s: uniform buffer %s is empty", b.label, label))
	}
	return b.add(&resource{
		kind:        resourceBuffer,
		label:       label,
		size:        len(data),
		bufferUsage: device.BufferUsageUniform | device.BufferUsageCopyDst,
		data:        append([]byte(nil), data...),
	})
}

// CreateTexture records a transient 2D texture.
//
// Parameters:
//   - label: the texture label
//   - width: width in pixels, must be > 0
//   - height: height in pixels, must be > 0
//   - format: the texel format
//   - usage: how the texture is bound and copied
//
// Returns:
//   - Handle: the texture handle
func (b *Builder) CreateTexture(label string, width, height int, format device.PixelFormat, usage device.TextureUsage) Handle {
	if width <= 0 || height <= 0 || format.BytesPerPixel() == 0 {
		b.fail(fmt.Errorf("graph %s: texture %s is %dx%d %s", b.label, label, width, height, format))
	}
	return b.add(&resource{kind: resourceTexture, label: label, width: width, height: height, format: format, textureUsage: usage})
}

// RegisterExternalTexture records a caller-owned texture. The builder reads and writes it
// but never releases it.
func (b *Builder) RegisterExternalTexture(label string, id device.TextureID) Handle {
	if id == 0 {
		b.fail(fmt.Errorf("graph %s: external texture %s is unset", b.label, label))
	}
	return b.add(&resource{kind: resourceTexture, label: label, external: true, texture: id})
}

// CreateSampler records a transient sampler.
func (b *Builder) CreateSampler(label string, desc device.SamplerDescriptor) Handle {
	return b.add(&resource{kind: resourceSampler, label: label, samplerDesc: desc})
}

// allocate creates and uploads every transient resource. On failure everything allocated
// so far is released by the caller's deferred release.
func (b *Builder) allocate() error {
	for _, r := range b.resources {
		if r.external {
			continue
		}
		var err error
		switch r.kind {
		case resourceBuffer:
			r.buffer, err = b.dev.CreateBuffer(r.label, r.size, r.bufferUsage)
		case resourceTexture:
			r.texture, err = b.dev.CreateTexture(r.label, r.width, r.height, r.format, r.textureUsage)
		case resourceSampler:
			r.sampler, err = b.dev.CreateSampler(r.label, r.samplerDesc)
		}
		if err != nil {
			return fmt.Errorf("graph %s: allocate %s: %w", b.label, r.label, err)
		}
		r.allocated = true
	}

	for _, r := range b.resources {
		if r.data == nil {
			continue
		}
		if err := b.dev.WriteBuffer(r.buffer, r.data); err != nil {
			return fmt.Errorf("graph %s: upload %s: %w", b.label, r.label, err)
		}
	}
	return nil
}

// release destroys every transient resource the builder allocated.
func (b *Builder) release() {
	logger := klog.Background().WithValues("graph", b.label)
	for _, r := range b.resources {
		if !r.allocated {
			continue
		}
		var err error
		switch r.kind {
		case resourceBuffer:
			err = b.dev.DestroyBuffer(r.buffer)
		case resourceTexture:
			err = b.dev.DestroyTexture(r.texture)
		case resourceSampler:
			err = b.dev.DestroySampler(r.sampler)
		}
		if err != nil {
			logger.Error(err, "Failed to release transient resource", "resource", r.label)
		}
		r.allocated = false
	}
}
