package graph

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
)

// PassBinding binds a recorded resource to a pipeline binding index.
type PassBinding struct {
	Binding  uint32
	Resource Handle
}

// AddComputePass records a dispatch of pipeline over groups workgroups. Read and write
// sets are derived from the layout: storage buffers are read and written, storage textures
// are written, everything else is read.
//
// Parameters:
//   - name: the pass name
//   - pipeline: the compiled pipeline
//   - layout: the pipeline's binding layout
//   - bindings: one binding per layout entry
//   - groups: the workgroup count
func (b *Builder) AddComputePass(name string, pipeline device.PipelineID, layout []device.BindingLayout, bindings []PassBinding, groups [3]uint32) {
	byBinding := make(map[uint32]Handle, len(bindings))
	for _, pb := range bindings {
		byBinding[pb.Binding] = pb.Resource
	}

	var reads, writes []Handle
	for _, l := range layout {
		h, ok := byBinding[l.Binding]
		if !ok {
			b.fail(fmt.Errorf("graph %s: pass %s: binding %d (%s) is not bound", b.label, name, l.Binding, l.Name))
			return
		}
		switch l.Kind {
		case device.BindingKindStorage:
			reads = append(reads, h)
			writes = append(writes, h)
		case device.BindingKindStorageTexture:
			writes = append(writes, h)
		default:
			reads = append(reads, h)
		}
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		b.fail(fmt.Errorf("graph %s: pass %s: empty group count %v", b.label, name, groups))
		return
	}

	b.addPass(&pass{
		name:   name,
		reads:  reads,
		writes: writes,
		run: func(ctx *PassContext) error {
			entries := make([]device.BindGroupEntry, 0, len(layout))
			for _, l := range layout {
				h := byBinding[l.Binding]
				entry := device.BindGroupEntry{Binding: l.Binding}
				var err error
				switch {
				case l.Kind.IsBuffer():
					entry.Buffer, err = ctx.Buffer(h)
				case l.Kind.IsTexture():
					entry.Texture, err = ctx.Texture(h)
				default:
					entry.Sampler, err = ctx.Sampler(h)
				}
				if err != nil {
					return fmt.Errorf("binding %d (%s): %w", l.Binding, l.Name, err)
				}
				entries = append(entries, entry)
			}
			return ctx.Device().Dispatch(pipeline, entries, groups)
		},
	})
}
