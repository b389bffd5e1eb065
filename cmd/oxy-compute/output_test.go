package main

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatBytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestToImage(t *testing.T) {
	extent := common.Extent{Width: 2, Height: 1}

	gray, err := ToImage(floatBytes(0, 1), extent, device.PixelFormatR32Float)
	require.NoError(t, err)
	assert.Equal(t, color.Gray16{Y: 0}, gray.At(0, 0))
	assert.Equal(t, color.Gray16{Y: math.MaxUint16}, gray.At(1, 0))

	rgba, err := ToImage([]byte{1, 2, 3, 4, 5, 6, 7, 8}, extent, device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 5, G: 6, B: 7, A: 8}, rgba.At(1, 0))

	wide, err := ToImage(floatBytes(-1, 0.5, 2, 1, 0, 0, 0, 1), extent, device.PixelFormatRGBA32Float)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA64{R: 0, G: 32768, B: math.MaxUint16, A: math.MaxUint16}, wide.At(0, 0))

	_, err = ToImage([]byte{1, 2, 3}, extent, device.PixelFormatRGBA8Unorm)
	assert.ErrorIs(t, err, device.ErrSizeMismatch)
}

func TestWritePNG(t *testing.T) {
	sky := ProceduralSky(8, 4)
	require.Len(t, sky.Pixels, 8*4*4)
	img, err := ToImage(sky.Pixels, sky.Extent(), device.PixelFormatRGBA8Unorm)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, WritePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), decoded.Bounds())
	r, g, b, a := decoded.At(3, 2).RGBA()
	wr, wg, wb, wa := img.At(3, 2).RGBA()
	assert.Equal(t, []uint32{wr, wg, wb, wa}, []uint32{r, g, b, a})
}
