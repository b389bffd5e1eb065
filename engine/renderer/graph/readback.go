package graph

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// AddReadbackTexturePass records a copy of src into dst. It runs after every pass that
// writes src, whatever the record order. Both textures must share extent and format.
//
// Parameters:
//   - name: the pass name
//   - src: the texture to read
//   - dst: the destination, usually an external texture
func (b *Builder) AddReadbackTexturePass(name string, src, dst Handle) {
	b.addPass(&pass{
		name:     name,
		reads:    []Handle{src},
		writes:   []Handle{dst},
		readback: true,
		run: func(ctx *PassContext) error {
			s, err := ctx.Texture(src)
			if err != nil {
				return err
			}
			d, err := ctx.Texture(dst)
			if err != nil {
				return err
			}
			return ctx.Device().CopyTexture(s, d)
		},
	})
}

// AddReadbackBufferPass records a copy of the buffer src into dst. It runs after every
// pass that writes src. dst must be exactly the buffer size.
//
// Parameters:
//   - name: the pass name
//   - src: the buffer to read
//   - dst: caller memory receiving the contents
func (b *Builder) AddReadbackBufferPass(name string, src Handle, dst []byte) {
	b.addPass(&pass{
		name:     name,
		reads:    []Handle{src},
		readback: true,
		run: func(ctx *PassContext) error {
			id, err := ctx.Buffer(src)
			if err != nil {
				return err
			}
			if r, _ := b.resource(src); r.size != len(dst) {
				return fmt.Errorf("destination is %d bytes, %s is %d: %w", len(dst), r.label, r.size, device.ErrSizeMismatch)
			}
			return ctx.Device().ReadBuffer(id, dst)
		},
	})
}
