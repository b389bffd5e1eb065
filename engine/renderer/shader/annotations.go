// annotations.go defines the annotation types and parser for the Oxy WGSL shader
// pre-processor. Annotations are single-line WGSL comments prefixed with @oxy: that
// inject shared struct sources, generate binding declarations and stamp compile-time
// constants (workgroup size, output texel format) into kernel sources, so the values
// the host relies on are written in one place.
package shader

import (
	"fmt"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct or helper
	// function at the annotation site. It produces no declaration.
	//
	// Syntax: //@oxy:include <struct_key>
	//
	// Example: //@oxy:include sphere
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration
	// for a registered struct type and records it in the declarations list.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@oxy:group 0 4 storage_read spheres array<sphere>
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeOutput generates a write-only 2D storage texture declaration whose
	// texel format is the pre-processor's configured output format, and records it in
	// the declarations list.
	//
	// Syntax: //@oxy:output <group> <binding> <var_name>
	//
	// Example: //@oxy:output 0 1 output_texture
	AnnotationTypeOutput AnnotationType = "output"

	// annotationTypeWorkgroupSize expands to the @workgroup_size attribute configured on
	// the pre-processor. It must sit on its own line between @compute and fn.
	//
	// Syntax: //@oxy:workgroup_size
	annotationTypeWorkgroupSize AnnotationType = "workgroup_size"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include: [0] = struct key
	//   - group:   [0] = address space, [1] = var name, [2] = type key
	//   - output:  [0] = var name
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source.
	Line int

	// Group is the @group index for group and output annotations.
	Group *int

	// Binding is the @binding index for group and output annotations.
	Binding *int
}

// AnnotationArg is a typed string used as an argument in annotations.
type AnnotationArg string

const (
	// annotationArgStorageTypeUniform maps to var<uniform> in WGSL.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read> in WGSL.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write> in WGSL.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// addressSpaces maps address space arguments to WGSL var<> syntax.
var addressSpaces = map[AnnotationArg]string{
	annotationArgStorageTypeUniform:   "var<uniform>",
	annotationArgStorageTypeRead:      "var<storage, read>",
	annotationArgStorageTypeReadWrite: "var<storage, read_write>",
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix, and an
// error for lines that carry the prefix but are malformed. Whether an include or group
// type key is registered is checked by the pre-processor, not here.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case annotationTypeInclude:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	case AnnotationTypeBindingGroup:
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires five arguments (group, binding, address space, var name, type)", lineNum)
		}
		group, binding, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if _, ok := addressSpaces[AnnotationArg(args[3])]; !ok {
			return nil, fmt.Errorf("line %d: unknown address space %q in @oxy group annotation", lineNum, args[3])
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	case AnnotationTypeOutput:
		if len(args) != 4 {
			return nil, fmt.Errorf("line %d: @oxy output annotation requires three arguments (group, binding, var name)", lineNum)
		}
		group, binding, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		return &Annotation{
			Type:    AnnotationTypeOutput,
			Args:    []AnnotationArg{AnnotationArg(args[3])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	case annotationTypeWorkgroupSize:
		if len(args) != 1 {
			return nil, fmt.Errorf("line %d: @oxy workgroup_size annotation takes no arguments", lineNum)
		}
		return &Annotation{Type: annotationTypeWorkgroupSize, Line: lineNum}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}

func parseGroupBinding(groupArg, bindingArg string, lineNum int) (int, int, error) {
	group, err := strconv.Atoi(groupArg)
	if err != nil || group < 0 {
		return 0, 0, fmt.Errorf("line %d: invalid group number %q", lineNum, groupArg)
	}
	binding, err := strconv.Atoi(bindingArg)
	if err != nil || binding < 0 {
		return 0, 0, fmt.Errorf("line %d: invalid binding number %q", lineNum, bindingArg)
	}
	return group, binding, nil
}
