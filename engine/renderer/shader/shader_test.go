package shader

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKernel = `
//@oxy:include test_particle

struct Params {
	dimensions: vec2<i32>,
	time_stamp: u32,
	scale: f32,
	transform: mat4x4<f32>,
	tint: vec3<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;
//@oxy:output 0 1 output_texture
//@oxy:group 0 2 storage_read particles array<test_particle>
@group(0) @binding(3) var skybox: texture_2d<f32>;
@group(0) @binding(4) var skybox_sampler: sampler;
@group(0) @binding(5) var<storage, read_write> samples: array<vec2<f32>>;

@compute
//@oxy:workgroup_size
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
	textureStore(output_texture, vec2<i32>(id.xy), vec4<f32>(1.0));
}
`

func init() {
	RegisterStruct("test_particle", "struct Particle {\n\tposition: vec3<f32>,\n\tmass: f32,\n}", "Particle")
}

func TestPreProcessorExpandsAnnotations(t *testing.T) {
	pp := NewPreProcessor(WithWorkgroupSize([3]uint32{32, 32, 1}), WithOutputFormat("r32float"))
	out, err := pp.Process(testKernel)
	require.NoError(t, err)

	assert.Contains(t, out, "struct Particle {")
	assert.Contains(t, out, "@group(0) @binding(1) var output_texture: texture_storage_2d<r32float, write>;")
	assert.Contains(t, out, "@group(0) @binding(2) var<storage, read> particles: array<Particle>;")
	assert.Contains(t, out, "@workgroup_size(32, 32, 1)")
	assert.NotContains(t, out, "@oxy:")

	decls := pp.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, AnnotationTypeOutput, decls[0].Type)
	assert.Equal(t, 1, *decls[0].Binding)
	assert.Equal(t, AnnotationTypeBindingGroup, decls[1].Type)
	assert.Equal(t, AnnotationArg("particles"), decls[1].Args[1])
}

func TestPreProcessorResetsDeclarations(t *testing.T) {
	pp := NewPreProcessor()
	_, err := pp.Process(testKernel)
	require.NoError(t, err)
	_, err = pp.Process("//@oxy:output 0 0 out")
	require.NoError(t, err)
	assert.Len(t, pp.Declarations(), 1)
}

func TestPreProcessorErrors(t *testing.T) {
	cases := map[string]string{
		"unknown include":       "//@oxy:include missing_key",
		"unknown type":          "//@oxy:group 0 0 storage_read things array<missing_key>",
		"bad address space":     "//@oxy:group 0 0 storage_write things array<test_particle>",
		"bad binding":           "//@oxy:output 0 x out",
		"missing args":          "//@oxy:output 0",
		"unknown annotation":    "//@oxy:bogus",
		"workgroup size args":   "//@oxy:workgroup_size 8",
		"empty annotation line": "//@oxy:",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewPreProcessor().Process(src)
			assert.Error(t, err)
		})
	}
}

func TestNewShaderParsesLayout(t *testing.T) {
	s, err := NewShader("test", testKernel, NewPreProcessor(WithWorkgroupSize([3]uint32{8, 4, 1})))
	require.NoError(t, err)

	assert.Equal(t, "main", s.EntryPoint())
	assert.Equal(t, [3]uint32{8, 4, 1}, s.WorkgroupSize())
	assert.Len(t, s.Declarations(), 2)
	assert.Equal(t, "test", s.Module().Label)

	entries := s.BindGroupLayoutDescriptor(0).Entries
	require.Len(t, entries, 6)
	for i, e := range entries {
		assert.Equal(t, uint32(i), e.Binding)
		assert.Equal(t, wgpu.ShaderStageCompute, e.Visibility)
	}
	assert.Equal(t, wgpu.BufferBindingTypeUniform, entries[0].Buffer.Type)
	assert.Equal(t, uint64(96), entries[0].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.TextureFormatRGBA8Unorm, entries[1].StorageTexture.Format)
	assert.Equal(t, wgpu.StorageTextureAccessWriteOnly, entries[1].StorageTexture.Access)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, entries[2].Buffer.Type)
	assert.Equal(t, uint64(16), entries[2].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.TextureSampleTypeFloat, entries[3].Texture.SampleType)
	assert.Equal(t, wgpu.TextureViewDimension2D, entries[3].Texture.ViewDimension)
	assert.Equal(t, wgpu.SamplerBindingTypeFiltering, entries[4].Sampler.Type)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, entries[5].Buffer.Type)
	assert.Equal(t, uint64(8), entries[5].Buffer.MinBindingSize)

	assert.Equal(t, "skybox", s.BindGroupVarName(0, 3))
	b, ok := s.BindGroupFromVarName(0, "samples")
	assert.True(t, ok)
	assert.Equal(t, 5, b)
	_, ok = s.BindGroupFromVarName(1, "samples")
	assert.False(t, ok)
}

func TestStructLayoutOffsets(t *testing.T) {
	s, err := NewShader("test", testKernel, nil)
	require.NoError(t, err)

	params, ok := s.StructLayout("Params")
	require.True(t, ok)
	assert.Equal(t, uint64(96), params.Size)
	assert.Equal(t, uint64(16), params.Align)

	want := map[string]uint64{"dimensions": 0, "time_stamp": 8, "scale": 12, "transform": 16, "tint": 80}
	for name, offset := range want {
		f, ok := params.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, offset, f.Offset, name)
	}
	_, ok = params.Field("missing")
	assert.False(t, ok)

	particle, ok := s.StructLayout("Particle")
	require.True(t, ok)
	assert.Equal(t, uint64(16), particle.Size)
	mass, _ := particle.Field("mass")
	assert.Equal(t, uint64(12), mass.Offset)
}

func TestNewShaderErrors(t *testing.T) {
	_, err := NewShader("empty", "", nil)
	assert.Error(t, err)

	_, err = NewShader("no-entry", "struct A { x: f32, }", nil)
	assert.Error(t, err)

	_, err = NewShader("bad", "//@oxy:include nope\n@compute @workgroup_size(1) fn main() {}", nil)
	assert.Error(t, err)
}

func TestParseWorkgroupSizeDefaults(t *testing.T) {
	assert.Equal(t, [3]uint32{1, 1, 1}, parseWorkgroupSize("fn main() {}"))
	assert.Equal(t, [3]uint32{64, 1, 1}, parseWorkgroupSize("@compute @workgroup_size(64) fn main() {}"))
	assert.Equal(t, [3]uint32{8, 8, 1}, parseWorkgroupSize("@compute @workgroup_size(8, 8) fn main() {}"))
}

func TestStripComments(t *testing.T) {
	src := "a /* b /* nested */ c */ d // tail\ne"
	assert.Equal(t, "a  d \ne", stripComments(src))
}

func TestResolveTypeLayout(t *testing.T) {
	cases := []struct {
		typeName string
		size     uint64
		align    uint64
	}{
		{"vec3<f32>", 12, 16},
		{"vec3f", 12, 16},
		{"mat4x4<f32>", 64, 16},
		{"mat3x3f", 48, 16},
		{"array<vec3<f32>, 4>", 64, 16},
		{"array<f32>", 4, 4},
	}
	for _, c := range cases {
		layout, ok := resolveTypeLayout(c.typeName, nil)
		require.True(t, ok, c.typeName)
		assert.Equal(t, c.size, layout.size, c.typeName)
		assert.Equal(t, c.align, layout.align, c.typeName)
	}
	_, ok := resolveTypeLayout("Unknown", nil)
	assert.False(t, ok)
}
