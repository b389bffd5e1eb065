package kernel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
)

// Uniforms packs scalar and matrix slot values into a kernel's uniform block at the member
// offsets of its WGSL Params struct. The first failed Set is reported by Bytes.
type Uniforms struct {
	kernel string
	layout shader.StructLayout
	data   []byte
	err    error
}

func newUniforms(kernel string, layout shader.StructLayout) *Uniforms {
	return &Uniforms{kernel: kernel, layout: layout, data: make([]byte, layout.Size)}
}

// field returns the byte range of a member, recording an error if it is missing or its size
// differs from size.
func (u *Uniforms) field(name string, size int) []byte {
	if u.err != nil {
		return nil
	}
	f, ok := u.layout.Field(name)
	if !ok {
		u.err = fmt.Errorf("kernel %s: uniform block has no member %q", u.kernel, name)
		return nil
	}
	if int(f.Size) != size {
		u.err = fmt.Errorf("kernel %s: member %q is %s (%d bytes), got %d bytes", u.kernel, name, f.Type, f.Size, size)
		return nil
	}
	return u.data[f.Offset : f.Offset+f.Size]
}

// SetUint32 writes a u32 member.
func (u *Uniforms) SetUint32(name string, v uint32) *Uniforms {
	if b := u.field(name, 4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
	return u
}

// SetFloat32 writes an f32 member.
func (u *Uniforms) SetFloat32(name string, v float32) *Uniforms {
	if b := u.field(name, 4); b != nil {
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	}
	return u
}

// SetVec2i writes a vec2<i32> member.
func (u *Uniforms) SetVec2i(name string, v [2]int32) *Uniforms {
	if b := u.field(name, 8); b != nil {
		binary.LittleEndian.PutUint32(b, uint32(v[0]))
		binary.LittleEndian.PutUint32(b[4:], uint32(v[1]))
	}
	return u
}

// SetVec4 writes a vec4<f32> member.
func (u *Uniforms) SetVec4(name string, v [4]float32) *Uniforms {
	if b := u.field(name, 16); b != nil {
		putFloats(b, v[:])
	}
	return u
}

// SetMat4 writes a column-major mat4x4<f32> member.
func (u *Uniforms) SetMat4(name string, m [16]float32) *Uniforms {
	if b := u.field(name, 64); b != nil {
		putFloats(b, m[:])
	}
	return u
}

// Bytes returns the packed block, or the first error recorded by a Set call.
func (u *Uniforms) Bytes() ([]byte, error) {
	if u.err != nil {
		return nil, u.err
	}
	out := make([]byte, len(u.data))
	copy(out, u.data)
	return out, nil
}

func putFloats(b []byte, v []float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}
