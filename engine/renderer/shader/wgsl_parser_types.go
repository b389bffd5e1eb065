package shader

import "github.com/cogentcore/webgpu/wgpu"

// sampledTextureInfo holds the view dimension and multisampled flag for a sampled texture type
type sampledTextureInfo struct {
	viewDimension wgpu.TextureViewDimension
	multisampled  bool
}

// wgslTypeLayout holds the byte size and alignment for a WGSL type under WGSL host-shareable layout rules.
type wgslTypeLayout struct {
	size  uint64
	align uint64
}

// parsedField represents a single field extracted from a WGSL struct during parsing
type parsedField struct {
	name      string
	typeName  string
	isBuiltin bool
}

// parsedStruct represents a WGSL struct block extracted during parsing
type parsedStruct struct {
	name   string
	fields []parsedField
}

// StructField is one member of a host-shareable WGSL struct with its resolved placement.
type StructField struct {
	// Name is the member name.
	Name string
	// Type is the WGSL type of the member as written in the source.
	Type string
	// Offset is the byte offset of the member from the start of the struct.
	Offset uint64
	// Size is the byte size of the member.
	Size uint64
}

// StructLayout is the memory layout of a WGSL struct following the WGSL alignment rules.
type StructLayout struct {
	// Name is the struct type name.
	Name string
	// Size is the struct size rounded up to its alignment.
	Size uint64
	// Align is the struct alignment (the largest member alignment).
	Align uint64
	// Fields lists the members in declaration order.
	Fields []StructField
}

// Field looks up a member by name.
//
// Parameters:
//   - name: the member name
//
// Returns:
//   - StructField: the member placement
//   - bool: false if the struct has no such member
func (l StructLayout) Field(name string) (StructField, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return StructField{}, false
}
