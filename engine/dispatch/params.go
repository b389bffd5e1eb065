package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// Precondition failures reported by Dispatchable. A snapshot failing one is skipped for
// the tick; nothing is allocated.
var (
	ErrNoRenderTarget    = errors.New("no render target")
	ErrInvalidExtent     = errors.New("workload extent is not positive")
	ErrTargetMismatch    = errors.New("render target does not match the workload")
	ErrNoCamera          = errors.New("no camera")
	ErrNoSkybox          = errors.New("no skybox texture")
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// Snapshot is a parameter snapshot a Manager can cache and dispatch.
type Snapshot[P any] interface {
	// Dispatchable reports why the snapshot cannot be dispatched, or nil if it can.
	//
	// Returns:
	//   - error: a precondition error, or nil
	Dispatchable() error

	// Clone returns a deep copy that shares no mutable state with the receiver.
	//
	// Returns:
	//   - P: the copy
	Clone() P
}

// WhiteNoiseParams are the inputs of one white-noise dispatch.
type WhiteNoiseParams struct {
	// Extent is the workload size in pixels.
	Extent common.Extent
	// TimeStamp varies the noise between frames.
	TimeStamp uint32
	// RenderTarget receives the r32float output.
	RenderTarget *Texture
}

var _ Snapshot[WhiteNoiseParams] = WhiteNoiseParams{}

func (p WhiteNoiseParams) Dispatchable() error {
	return checkTarget(p.Extent, p.RenderTarget, device.PixelFormatR32Float)
}

func (p WhiteNoiseParams) Clone() WhiteNoiseParams {
	if p.RenderTarget != nil {
		t := *p.RenderTarget
		p.RenderTarget = &t
	}
	return p
}

// RayTracingParams are the inputs of one sphere ray-tracing dispatch.
type RayTracingParams struct {
	// Extent is the workload size in pixels.
	Extent common.Extent
	// FrameCounter increases by one per produced snapshot and seeds the sub-pixel samples.
	FrameCounter uint64
	// HasCamera is false when the producer had no camera; the snapshot is then skipped.
	HasCamera bool
	// CameraToWorld is the inverse view matrix (column-major).
	CameraToWorld [16]float32
	// CameraInverseProjection is the inverse of the reversed-Z projection (column-major).
	CameraInverseProjection [16]float32
	// Colour tints the traced sky colour.
	Colour [4]float32
	// Spheres are uploaded in order. An empty list uploads DefaultSphere.
	Spheres []Sphere
	// Format is the output texel format.
	Format device.PixelFormat
	// Skybox is the equirectangular environment texture.
	Skybox *Texture
	// RenderTarget receives the output.
	RenderTarget *Texture
}

var _ Snapshot[RayTracingParams] = RayTracingParams{}

func (p RayTracingParams) Dispatchable() error {
	switch p.Format {
	case device.PixelFormatRGBA8Unorm, device.PixelFormatRGBA32Float:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, p.Format)
	}
	if err := checkTarget(p.Extent, p.RenderTarget, p.Format); err != nil {
		return err
	}
	if !p.HasCamera {
		return ErrNoCamera
	}
	if !p.Skybox.Valid() {
		return ErrNoSkybox
	}
	return nil
}

func (p RayTracingParams) Clone() RayTracingParams {
	p.Spheres = slices.Clone(p.Spheres)
	if p.RenderTarget != nil {
		t := *p.RenderTarget
		p.RenderTarget = &t
	}
	if p.Skybox != nil {
		t := *p.Skybox
		p.Skybox = &t
	}
	return p
}

// checkTarget validates the workload extent against a render target of the given format.
func checkTarget(extent common.Extent, target *Texture, format device.PixelFormat) error {
	if !extent.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidExtent, extent)
	}
	if !target.Valid() {
		return ErrNoRenderTarget
	}
	if target.Extent != extent || target.Format != format {
		return fmt.Errorf("%w: target is %s %s, workload is %s %s", ErrTargetMismatch, target.Extent, target.Format, extent, format)
	}
	return nil
}
