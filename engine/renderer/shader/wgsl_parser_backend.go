package shader

import (
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgslPrimitiveLayoutMap holds the size and alignment of every host-shareable scalar, vector,
// matrix and atomic type, including the shorthand aliases (vec4f, vec2i...).
var wgslPrimitiveLayoutMap = buildPrimitiveLayouts()

func buildPrimitiveLayouts() map[string]wgslTypeLayout {
	m := map[string]wgslTypeLayout{
		"f32":         {4, 4},
		"i32":         {4, 4},
		"u32":         {4, 4},
		"f16":         {2, 2},
		"atomic<u32>": {4, 4},
		"atomic<i32>": {4, 4},
	}
	scalars := map[string]string{"f32": "f", "i32": "i", "u32": "u", "f16": "h"}
	for scalar, short := range scalars {
		s := m[scalar].size
		for n := uint64(2); n <= 4; n++ {
			align := s * n
			if n == 3 {
				align = s * 4
			}
			layout := wgslTypeLayout{size: s * n, align: align}
			m["vec"+strconv.FormatUint(n, 10)+"<"+scalar+">"] = layout
			m["vec"+strconv.FormatUint(n, 10)+short] = layout
		}
	}
	// matCxR<f32> is C columns of vecR<f32>.
	for c := uint64(2); c <= 4; c++ {
		for r := uint64(2); r <= 4; r++ {
			col := m["vec"+strconv.FormatUint(r, 10)+"<f32>"]
			stride := roundUpAlign(col.align, col.size)
			layout := wgslTypeLayout{size: c * stride, align: col.align}
			name := "mat" + strconv.FormatUint(c, 10) + "x" + strconv.FormatUint(r, 10)
			m[name+"<f32>"] = layout
			m[name+"f"] = layout
		}
	}
	return m
}

// roundUpAlign rounds value up to a multiple of alignment, which must be a power of two.
func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// resolveTypeLayout resolves a WGSL type to its size and alignment. Runtime-sized arrays
// resolve to one element stride, which is the minimum binding size for them.
//
// Parameters:
//   - typeName: the WGSL type, e.g. "f32", "Params", "array<vec4<f32>>"
//   - knownTypes: struct layouts resolved so far
//
// Returns:
//   - wgslTypeLayout: the resolved layout
//   - bool: false for unknown types
func resolveTypeLayout(typeName string, knownTypes map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	typeName = strings.TrimSpace(typeName)
	if layout, ok := wgslPrimitiveLayoutMap[typeName]; ok {
		return layout, true
	}
	if layout, ok := knownTypes[typeName]; ok {
		return layout, true
	}

	elem, count, isArray := splitArrayType(typeName)
	if !isArray {
		return wgslTypeLayout{}, false
	}
	elemLayout, ok := resolveTypeLayout(elem, knownTypes)
	if !ok {
		return wgslTypeLayout{}, false
	}
	stride := roundUpAlign(elemLayout.align, elemLayout.size)
	if count == "" {
		return wgslTypeLayout{stride, elemLayout.align}, true
	}
	n, err := strconv.ParseUint(count, 10, 64)
	if err != nil {
		return wgslTypeLayout{}, false
	}
	return wgslTypeLayout{n * stride, elemLayout.align}, true
}

// splitArrayType splits "array<T, N>" into (T, N, true) and "array<T>" into (T, "", true).
func splitArrayType(typeName string) (string, string, bool) {
	if !strings.HasPrefix(typeName, "array<") || !strings.HasSuffix(typeName, ">") {
		return "", "", false
	}
	parts := splitAtTopLevelCommas(typeName[len("array<") : len(typeName)-1])
	elem := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return elem, "", true
	}
	return elem, strings.TrimSpace(parts[1]), true
}

// structFieldLayout places every member of a struct following the WGSL layout rules.
// A trailing runtime-sized array contributes its offset but no size.
//
// Parameters:
//   - ps: the parsed struct
//   - knownTypes: struct layouts resolved so far
//
// Returns:
//   - StructLayout: the struct layout with member offsets
//   - bool: false if any member type is unknown
func structFieldLayout(ps parsedStruct, knownTypes map[string]wgslTypeLayout) (StructLayout, bool) {
	out := StructLayout{Name: ps.name, Align: 1}
	var offset uint64

	for i, field := range ps.fields {
		if field.isBuiltin {
			continue
		}
		layout, ok := resolveTypeLayout(field.typeName, knownTypes)
		if !ok {
			return StructLayout{}, false
		}
		offset = roundUpAlign(layout.align, offset)
		size := layout.size
		if _, count, isArray := splitArrayType(field.typeName); isArray && count == "" {
			if i != len(ps.fields)-1 {
				return StructLayout{}, false
			}
			size = 0
		}
		out.Fields = append(out.Fields, StructField{
			Name:   field.name,
			Type:   field.typeName,
			Offset: offset,
			Size:   size,
		})
		offset += size
		if layout.align > out.Align {
			out.Align = layout.align
		}
	}

	out.Size = roundUpAlign(out.Align, offset)
	if out.Size == 0 && len(out.Fields) > 0 {
		// Struct holding only a runtime-sized array binds at least one element.
		if layout, ok := resolveTypeLayout(out.Fields[0].Type, knownTypes); ok {
			out.Size = layout.size
		}
	}
	return out, true
}

// computeStructSizes resolves the layout of all parsed structs, iterating until structs that
// embed other structs can be placed.
func computeStructSizes(structs []parsedStruct) map[string]wgslTypeLayout {
	resolved := make(map[string]wgslTypeLayout, len(structs))
	remaining := append([]parsedStruct(nil), structs...)

	for len(remaining) > 0 {
		next := remaining[:0]
		for _, ps := range remaining {
			layout, ok := structFieldLayout(ps, resolved)
			if !ok {
				next = append(next, ps)
				continue
			}
			resolved[ps.name] = wgslTypeLayout{size: layout.Size, align: layout.Align}
		}
		if len(next) == len(remaining) {
			break
		}
		remaining = next
	}
	return resolved
}

// classifyResource builds the layout entry for one resource declaration from its address
// space (empty for handle types) and type.
//
// Parameters:
//   - binding: the @binding index
//   - visibility: the shader stages that see the resource
//   - addressSpace: e.g. "uniform", "storage, read_write" or ""
//   - typeName: e.g. "Params", "texture_2d<f32>", "sampler"
//
// Returns:
//   - wgpu.BindGroupLayoutEntry: the populated entry
func classifyResource(binding uint32, visibility wgpu.ShaderStage, addressSpace, typeName string) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: visibility}

	switch {
	case addressSpace == "uniform":
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	case strings.HasPrefix(addressSpace, "storage"):
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		if strings.Contains(addressSpace, "read_write") {
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
	case typeName == "sampler":
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	case typeName == "sampler_comparison":
		entry.Sampler.Type = wgpu.SamplerBindingTypeComparison
	case strings.HasPrefix(typeName, "texture_storage_"):
		classifyStorageTexture(typeName, &entry)
	case strings.HasPrefix(typeName, "texture_depth_"):
		entry.Texture.SampleType = wgpu.TextureSampleTypeDepth
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	case strings.HasPrefix(typeName, "texture_"):
		base, param := splitTypeParams(typeName)
		if info, ok := wgslSampledTextureMap[base]; ok {
			entry.Texture.ViewDimension = info.viewDimension
			entry.Texture.Multisampled = info.multisampled
		}
		if st, ok := wgslSampleTypeMap[param]; ok {
			entry.Texture.SampleType = st
		}
	}
	return entry
}

func classifyStorageTexture(typeName string, entry *wgpu.BindGroupLayoutEntry) {
	base, params := splitTypeParams(typeName)
	if dim, ok := wgslStorageTextureDimMap[base]; ok {
		entry.StorageTexture.ViewDimension = dim
	}
	format, access, _ := strings.Cut(params, ",")
	if f, ok := wgslTexelFormatMap[strings.TrimSpace(format)]; ok {
		entry.StorageTexture.Format = f
	}
	if a, ok := wgslStorageAccessMap[strings.TrimSpace(access)]; ok {
		entry.StorageTexture.Access = a
	}
}

// splitTypeParams splits "texture_2d<f32>" into ("texture_2d", "f32"). Types without
// parameters return an empty parameter string.
func splitTypeParams(typeName string) (string, string) {
	base, params, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return base, strings.TrimSpace(strings.TrimSuffix(params, ">"))
}

// stripComments removes line comments and (nested) block comments from WGSL source.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		if i+1 < len(source) {
			switch source[i : i+2] {
			case "/*":
				depth++
				i++
				continue
			case "*/":
				if depth > 0 {
					depth--
					i++
					continue
				}
			case "//":
				if depth == 0 {
					for i < len(source) && source[i] != '\n' {
						i++
					}
					if i < len(source) {
						sb.WriteByte('\n')
					}
					continue
				}
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}

// splitAtTopLevelCommas splits s at commas that are not inside angle brackets, so that
// "a: array<f32, 4>, b: u32" yields two parts.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
