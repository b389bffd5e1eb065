package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// BufferData is host memory backing a software buffer. Accessors take byte offsets and
// use little-endian encoding, matching the GPU layout.
type BufferData struct {
	bytes []byte
}

// Len returns the buffer size in bytes.
func (b *BufferData) Len() int {
	return len(b.bytes)
}

// Bytes returns the underlying storage.
func (b *BufferData) Bytes() []byte {
	return b.bytes
}

func (b *BufferData) Uint32(offset int) uint32 {
	return binary.LittleEndian.Uint32(b.bytes[offset:])
}

func (b *BufferData) SetUint32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(b.bytes[offset:], v)
}

func (b *BufferData) Int32(offset int) int32 {
	return int32(b.Uint32(offset))
}

func (b *BufferData) Float32(offset int) float32 {
	return math.Float32frombits(b.Uint32(offset))
}

func (b *BufferData) SetFloat32(offset int, v float32) {
	b.SetUint32(offset, math.Float32bits(v))
}

// Vec4 reads four consecutive floats starting at offset.
func (b *BufferData) Vec4(offset int) [4]float32 {
	return [4]float32{b.Float32(offset), b.Float32(offset + 4), b.Float32(offset + 8), b.Float32(offset + 12)}
}

// Mat4 reads a column-major 4x4 matrix starting at offset.
func (b *BufferData) Mat4(offset int) [16]float32 {
	var m [16]float32
	for i := range m {
		m[i] = b.Float32(offset + i*4)
	}
	return m
}

// TextureData is host memory backing a software texture. Texels are held as four
// floats regardless of format and quantized to the format on store.
type TextureData struct {
	width  int
	height int
	format PixelFormat
	texels []float32
}

func newTextureData(width, height int, format PixelFormat) *TextureData {
	t := &TextureData{
		width:  width,
		height: height,
		format: format,
		texels: make([]float32, width*height*4),
	}
	if format == PixelFormatR32Float {
		for i := 3; i < len(t.texels); i += 4 {
			t.texels[i] = 1
		}
	}
	return t
}

func (t *TextureData) Width() int          { return t.width }
func (t *TextureData) Height() int         { return t.height }
func (t *TextureData) Format() PixelFormat { return t.format }

// Load returns the texel at (x, y). Out of range coordinates return zero.
func (t *TextureData) Load(x, y int) [4]float32 {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return [4]float32{}
	}
	i := (y*t.width + x) * 4
	return [4]float32{t.texels[i], t.texels[i+1], t.texels[i+2], t.texels[i+3]}
}

// Store writes the texel at (x, y), quantized to the texture format. Out of range
// coordinates are ignored.
func (t *TextureData) Store(x, y int, v [4]float32) {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return
	}
	i := (y*t.width + x) * 4
	q := t.quantize(v)
	copy(t.texels[i:i+4], q[:])
}

func (t *TextureData) quantize(v [4]float32) [4]float32 {
	switch t.format {
	case PixelFormatR32Float:
		return [4]float32{v[0], 0, 0, 1}
	case PixelFormatRGBA8Unorm:
		for c := range v {
			v[c] = float32(unormByte(v[c])) / 255
		}
	}
	return v
}

// Sample filters the texture at normalized coordinates (u, v) using the sampler state.
func (t *TextureData) Sample(s SamplerDescriptor, u, v float32) [4]float32 {
	if s.Filter == FilterModeNearest {
		x := int(math32.Floor(u * float32(t.width)))
		y := int(math32.Floor(v * float32(t.height)))
		return t.Load(t.address(s.AddressMode, x, t.width), t.address(s.AddressMode, y, t.height))
	}

	x := u*float32(t.width) - 0.5
	y := v*float32(t.height) - 0.5
	x0f, y0f := math32.Floor(x), math32.Floor(y)
	fx, fy := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)

	xa, xb := t.address(s.AddressMode, x0, t.width), t.address(s.AddressMode, x0+1, t.width)
	ya, yb := t.address(s.AddressMode, y0, t.height), t.address(s.AddressMode, y0+1, t.height)

	t00, t10 := t.Load(xa, ya), t.Load(xb, ya)
	t01, t11 := t.Load(xa, yb), t.Load(xb, yb)

	var out [4]float32
	for c := range out {
		top := t00[c] + (t10[c]-t00[c])*fx
		bottom := t01[c] + (t11[c]-t01[c])*fx
		out[c] = top + (bottom-top)*fy
	}
	return out
}

func (t *TextureData) address(mode AddressMode, i, n int) int {
	if mode == AddressModeClampToEdge {
		return min(max(i, 0), n-1)
	}
	return ((i % n) + n) % n
}

// encode packs the texels into tightly packed rows in the texture format.
func (t *TextureData) encode() []byte {
	bpp := t.format.BytesPerPixel()
	out := make([]byte, t.width*t.height*bpp)
	for p := 0; p < t.width*t.height; p++ {
		texel := t.texels[p*4 : p*4+4]
		dst := out[p*bpp:]
		switch t.format {
		case PixelFormatR32Float:
			binary.LittleEndian.PutUint32(dst, math.Float32bits(texel[0]))
		case PixelFormatRGBA8Unorm:
			for c := 0; c < 4; c++ {
				dst[c] = unormByte(texel[c])
			}
		case PixelFormatRGBA32Float:
			for c := 0; c < 4; c++ {
				binary.LittleEndian.PutUint32(dst[c*4:], math.Float32bits(texel[c]))
			}
		}
	}
	return out
}

// decode replaces the texels with tightly packed rows in the texture format.
func (t *TextureData) decode(data []byte) error {
	bpp := t.format.BytesPerPixel()
	if len(data) != t.width*t.height*bpp {
		return fmt.Errorf("texture data is %d bytes, want %d: %w", len(data), t.width*t.height*bpp, ErrSizeMismatch)
	}
	for p := 0; p < t.width*t.height; p++ {
		src := data[p*bpp:]
		var texel [4]float32
		switch t.format {
		case PixelFormatR32Float:
			texel = [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(src)), 0, 0, 1}
		case PixelFormatRGBA8Unorm:
			for c := 0; c < 4; c++ {
				texel[c] = float32(src[c]) / 255
			}
		case PixelFormatRGBA32Float:
			for c := 0; c < 4; c++ {
				texel[c] = math.Float32frombits(binary.LittleEndian.Uint32(src[c*4:]))
			}
		}
		copy(t.texels[p*4:p*4+4], texel[:])
	}
	return nil
}

func unormByte(v float32) uint8 {
	v = min(max(v, 0), 1)
	return uint8(math32.Round(v * 255))
}
