package main

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// ToImage converts texture bytes as returned by Device.ReadTexture into an image. r32float
// becomes 16-bit grayscale; float channels are clamped to [0, 1].
func ToImage(data []byte, extent common.Extent, format device.PixelFormat) (image.Image, error) {
	want := extent.Width * extent.Height * format.BytesPerPixel()
	if !extent.Valid() || len(data) != want {
		return nil, fmt.Errorf("texture data is %d bytes, %s %s needs %d: %w", len(data), extent, format, want, device.ErrSizeMismatch)
	}
	rect := image.Rect(0, 0, extent.Width, extent.Height)

	switch format {
	case device.PixelFormatRGBA8Unorm:
		img := image.NewNRGBA(rect)
		copy(img.Pix, data)
		return img, nil
	case device.PixelFormatR32Float:
		img := image.NewGray16(rect)
		for i := 0; i < extent.Width*extent.Height; i++ {
			img.Set(i%extent.Width, i/extent.Width, color.Gray16{Y: unorm16(float32At(data, i))})
		}
		return img, nil
	case device.PixelFormatRGBA32Float:
		img := image.NewNRGBA64(rect)
		for i := 0; i < extent.Width*extent.Height; i++ {
			img.SetNRGBA64(i%extent.Width, i/extent.Width, color.NRGBA64{
				R: unorm16(float32At(data, i*4)),
				G: unorm16(float32At(data, i*4+1)),
				B: unorm16(float32At(data, i*4+2)),
				A: unorm16(float32At(data, i*4+3)),
			})
		}
		return img, nil
	default:
		return nil, fmt.Errorf("no image conversion for %s: %w", format, device.ErrUnsupported)
	}
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

func float32At(data []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
}

func unorm16(v float32) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return math.MaxUint16
	}
	return uint16(v*math.MaxUint16 + 0.5)
}

// ProceduralSky returns a vertical gradient from a pale horizon to a deep blue zenith,
// used when no skybox image is configured.
func ProceduralSky(width, height int) common.ImageData {
	pixels := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		// v runs from the zenith (0) to the nadir (1) in the equirectangular mapping.
		v := float32(y) / float32(max(height-1, 1))
		t := 1 - 2*float32(math.Abs(float64(v)-0.5))
		r := lerp(30, 200, t)
		g := lerp(70, 220, t)
		b := lerp(160, 255, t)
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = r, g, b, 255
		}
	}
	return common.ImageData{Pixels: pixels, Width: width, Height: height}
}

func lerp(a, b, t float32) uint8 {
	return uint8(a + (b-a)*t + 0.5)
}
