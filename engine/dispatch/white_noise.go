package dispatch

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/graph"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
)

// WhiteNoiseTimeStampWrap is the last timestamp a WhiteNoiseProducer emits before
// starting over at 0.
const WhiteNoiseTimeStampWrap = 100000

// WhiteNoiseManager dispatches the white-noise kernel into an r32float render target.
type WhiteNoiseManager struct {
	*Manager[WhiteNoiseParams]
}

// NewWhiteNoiseManager creates a white-noise manager and registers its tick hook with rt.
// The manager starts disabled.
//
// Parameters:
//   - dev: the execution backend
//   - rt: the render thread, which must be running
//   - options: functional options for the manager
//
// Returns:
//   - *WhiteNoiseManager: the new manager
//   - error: if the kernel cannot be built or the tick hook cannot be registered
func NewWhiteNoiseManager(dev device.Device, rt tick.RenderThread, options ...ManagerBuilderOption) (*WhiteNoiseManager, error) {
	cfg := newManagerConfig(kernel.WhiteNoiseKernel, options)
	desc, err := kernel.WhiteNoise()
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", cfg.name, err)
	}
	m, err := newManager[WhiteNoiseParams](cfg.name, dev, rt, desc, whiteNoiseRecorder{desc: desc})
	if err != nil {
		return nil, err
	}
	return &WhiteNoiseManager{Manager: m}, nil
}

type whiteNoiseRecorder struct {
	desc *kernel.Descriptor
}

func (r whiteNoiseRecorder) descriptor(WhiteNoiseParams) (*kernel.Descriptor, error) {
	return r.desc, nil
}

func (whiteNoiseRecorder) record(b *graph.Builder, desc *kernel.Descriptor, pipeline device.PipelineID, p WhiteNoiseParams) (Dispatch, error) {
	w, h := p.Extent.Width, p.Extent.Height
	uniforms, err := desc.NewUniforms().
		SetVec2i(kernel.SlotDimensions, [2]int32{int32(w), int32(h)}).
		SetUint32(kernel.SlotTimeStamp, p.TimeStamp).
		Bytes()
	if err != nil {
		return Dispatch{}, err
	}
	groups := kernel.GroupCount(w, h, desc.GroupExtent())

	params := b.CreateUniformBuffer("params", uniforms)
	out := b.CreateTexture("output", w, h, desc.OutputFormat(), device.TextureUsageStorage|device.TextureUsageCopySrc)
	target := b.RegisterExternalTexture("render_target", p.RenderTarget.ID)

	b.AddComputePass(desc.Name(), pipeline, desc.Pipeline().Layout, []graph.PassBinding{
		{Binding: desc.MustBinding(kernel.SlotDimensions), Resource: params},
		{Binding: desc.MustBinding(kernel.SlotOutputTexture), Resource: out},
	}, groups)
	b.AddReadbackTexturePass("readback_output", out, target)

	return Dispatch{Uniforms: uniforms, Groups: groups}, nil
}

// WhiteNoiseProducer builds one WhiteNoiseParams per producer tick. Its timestamp advances
// by one per snapshot and wraps to 0 after WhiteNoiseTimeStampWrap. It is not safe for
// concurrent use.
type WhiteNoiseProducer struct {
	target    *Texture
	timeStamp uint32
}

// NewWhiteNoiseProducer creates a producer writing into target. A nil target yields
// snapshots that are never dispatched.
func NewWhiteNoiseProducer(target *Texture) *WhiteNoiseProducer {
	return &WhiteNoiseProducer{target: target}
}

// Produce returns the next snapshot.
func (p *WhiteNoiseProducer) Produce() WhiteNoiseParams {
	params := WhiteNoiseParams{TimeStamp: p.timeStamp, RenderTarget: p.target}
	if p.target != nil {
		params.Extent = p.target.Extent
	}
	p.timeStamp++
	if p.timeStamp > WhiteNoiseTimeStampWrap {
		p.timeStamp = 0
	}
	return params
}

// TimeStamp returns the timestamp the next snapshot carries.
func (p *WhiteNoiseProducer) TimeStamp() uint32 {
	return p.timeStamp
}
