// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Extent is a two dimensional size in pixels.
type Extent struct {
	// Width is the horizontal size in pixels.
	Width int
	// Height is the vertical size in pixels.
	Height int
}

// Valid reports whether both dimensions are strictly positive.
func (e Extent) Valid() bool {
	return e.Width > 0 && e.Height > 0
}

// Aspect returns width / height, or 1 for a degenerate extent.
func (e Extent) Aspect() float32 {
	if e.Height <= 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// ImageData holds RGBA8 pixel data staged for a texture upload.
type ImageData struct {
	// Pixels is the row-major RGBA pixel data, 4 bytes per pixel.
	Pixels []byte
	// Width is the width of the image in pixels.
	Width int
	// Height is the height of the image in pixels.
	Height int
}

// Extent returns the image size.
func (d ImageData) Extent() Extent {
	return Extent{Width: d.Width, Height: d.Height}
}

// LoadImage decodes an image file into RGBA pixel data. PNG, JPEG, BMP, TIFF and WebP
// files are supported. When width and height are both positive the image is rescaled
// to that size with bilinear filtering.
// Reference: https://pkg.go.dev/golang.org/x/image/draw
//
// Parameters:
//   - path: the image file to decode
//   - width: target width in pixels, or 0 to keep the source size
//   - height: target height in pixels, or 0 to keep the source size
//
// Returns:
//   - ImageData: the decoded pixels
//   - error: error if the file cannot be opened or decoded
func LoadImage(path string, width, height int) (ImageData, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageData{}, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return ImageData{}, fmt.Errorf("failed to decode image file %s: %w", path, err)
	}
	return FromImage(img, width, height), nil
}

// FromImage converts any image.Image to RGBA pixel data, rescaling it when a positive
// target size is given.
//
// Parameters:
//   - img: the source image
//   - width: target width in pixels, or 0 to keep the source size
//   - height: target height in pixels, or 0 to keep the source size
//
// Returns:
//   - ImageData: the converted pixels
func FromImage(img image.Image, width, height int) ImageData {
	bounds := img.Bounds()
	dst := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	if width > 0 && height > 0 {
		dst = image.Rect(0, 0, width, height)
	}

	rgba := image.NewRGBA(dst)
	if dst.Dx() == bounds.Dx() && dst.Dy() == bounds.Dy() {
		draw.Draw(rgba, dst, img, bounds.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(rgba, dst, img, bounds, draw.Src, nil)
	}

	return ImageData{Pixels: rgba.Pix, Width: dst.Dx(), Height: dst.Dy()}
}
