package kernel

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
)

// White-noise slot names.
const (
	SlotDimensions    = "dimensions"
	SlotTimeStamp     = "time_stamp"
	SlotOutputTexture = "output_texture"
)

// timeStampSeedStride spreads consecutive timestamps across the hash input space.
const timeStampSeedStride = 719393

var whiteNoiseSlots = []Slot{
	{Name: SlotDimensions, Kind: SlotKindScalar, DataType: "vec2<i32>", Binding: 0},
	{Name: SlotTimeStamp, Kind: SlotKindScalar, DataType: "u32", Binding: 0},
	{Name: SlotOutputTexture, Kind: SlotKindWritableTexture, DataType: "texture_storage_2d", Binding: 1},
}

var whiteNoise = sync.OnceValues(func() (*Descriptor, error) {
	return newDescriptor(WhiteNoiseKernel, device.PixelFormatR32Float, whiteNoiseSlots, whiteNoiseKernel)
})

// WhiteNoise returns the white-noise kernel descriptor. It writes one hashed grey value
// per pixel into an r32float output texture.
//
// Returns:
//   - *Descriptor: the shared descriptor
//   - error: if the embedded kernel fails to process
func WhiteNoise() (*Descriptor, error) {
	return whiteNoise()
}

// PCGHash is the permuted congruential hash the white-noise kernel runs per pixel.
func PCGHash(input uint32) uint32 {
	state := input*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// WhiteNoiseValue is the grey value the white-noise kernel stores at (x, y).
func WhiteNoiseValue(x, y, width, timeStamp uint32) float32 {
	seed := x + y*width + timeStamp*timeStampSeedStride
	return float32(float64(PCGHash(seed)) / 4294967295.0)
}

func whiteNoiseKernel(params shader.StructLayout) device.Kernel {
	dimOff := fieldOffset(params, SlotDimensions)
	tsOff := fieldOffset(params, SlotTimeStamp)

	return func(b device.Bindings) (func(device.Invocation), error) {
		p, err := b.Buffer(0)
		if err != nil {
			return nil, fmt.Errorf("white noise params: %w", err)
		}
		out, err := b.Texture(1)
		if err != nil {
			return nil, fmt.Errorf("white noise output: %w", err)
		}
		w, h := uint32(p.Int32(dimOff)), uint32(p.Int32(dimOff+4))
		ts := p.Uint32(tsOff)

		return func(inv device.Invocation) {
			x, y := inv.GlobalID[0], inv.GlobalID[1]
			if x >= w || y >= h {
				return
			}
			v := WhiteNoiseValue(x, y, w, ts)
			out.Store(int(x), int(y), [4]float32{v, v, v, 1})
		}, nil
	}
}

func fieldOffset(layout shader.StructLayout, name string) int {
	f, ok := layout.Field(name)
	if !ok {
		panic(fmt.Sprintf("kernel: %s has no member %q", layout.Name, name))
	}
	return int(f.Offset)
}
