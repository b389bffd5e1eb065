// Package dispatch connects producer-side parameter snapshots to compute dispatches on the
// render thread. A Manager owns the latest snapshot, the enable flag and the tick hook that
// builds and executes one execution graph per frame.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
)

// Texture is a non-owning reference to a device texture used as a render target or input.
// The owner keeps the texture alive for as long as snapshots reference it.
type Texture struct {
	ID     device.TextureID
	Extent common.Extent
	Format device.PixelFormat
}

// NewTexture allocates a texture usable as a dispatch render target or sampled input.
// It must be called on the render thread, or before the render thread starts.
//
// Parameters:
//   - dev: the device to allocate on
//   - label: debug label for the texture
//   - extent: the texture size
//   - format: the texel format
//
// Returns:
//   - *Texture: the new texture reference
//   - error: if the device rejects the allocation
func NewTexture(dev device.Device, label string, extent common.Extent, format device.PixelFormat) (*Texture, error) {
	usage := device.TextureUsageSampled | device.TextureUsageStorage | device.TextureUsageCopySrc | device.TextureUsageCopyDst
	id, err := dev.CreateTexture(label, extent.Width, extent.Height, format, usage)
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", label, err)
	}
	return &Texture{ID: id, Extent: extent, Format: format}, nil
}

// Valid reports whether t refers to an allocated texture of non-zero size.
func (t *Texture) Valid() bool {
	return t != nil && t.ID != 0 && t.Extent.Valid() && t.Format.BytesPerPixel() > 0
}

// Sphere is one ray-traced sphere. On the GPU it is a vec4<f32>: xyz centre, w radius.
type Sphere struct {
	Center [3]float32
	Radius float32
}

// DefaultSphere is uploaded when a snapshot carries no spheres.
var DefaultSphere = Sphere{Center: [3]float32{0, 0, 50}, Radius: 50}

// EncodeSpheres packs spheres into the kernel's structured buffer layout. An empty list
// encodes DefaultSphere, so the buffer always holds at least one element.
//
// Parameters:
//   - spheres: the spheres in upload order
//
// Returns:
//   - []byte: kernel.SphereStride bytes per sphere
func EncodeSpheres(spheres []Sphere) []byte {
	if len(spheres) == 0 {
		spheres = []Sphere{DefaultSphere}
	}
	buf := make([]byte, len(spheres)*kernel.SphereStride)
	for i, s := range spheres {
		o := i * kernel.SphereStride
		putFloat32(buf[o:], s.Center[0])
		putFloat32(buf[o+4:], s.Center[1])
		putFloat32(buf[o+8:], s.Center[2])
		putFloat32(buf[o+12:], s.Radius)
	}
	return buf
}

// DecodeSpheres is the inverse of EncodeSpheres.
func DecodeSpheres(buf []byte) []Sphere {
	out := make([]Sphere, 0, len(buf)/kernel.SphereStride)
	for o := 0; o+kernel.SphereStride <= len(buf); o += kernel.SphereStride {
		out = append(out, Sphere{
			Center: [3]float32{getFloat32(buf[o:]), getFloat32(buf[o+4:]), getFloat32(buf[o+8:])},
			Radius: getFloat32(buf[o+12:]),
		})
	}
	return out
}

// DecodeSamples unpacks vec2<f32> sub-pixel offsets as read back from the random buffer.
func DecodeSamples(buf []byte) [][2]float32 {
	out := make([][2]float32, 0, len(buf)/kernel.RandomSampleStride)
	for o := 0; o+kernel.RandomSampleStride <= len(buf); o += kernel.RandomSampleStride {
		out = append(out, [2]float32{getFloat32(buf[o:]), getFloat32(buf[o+4:])})
	}
	return out
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
