// pre_processor.go implements the Oxy WGSL shader pre-processor. It scans shader
// source code for @oxy: annotations, replaces them with generated WGSL declarations,
// injected struct sources or configured constants, and collects a declarations list
// that kernel descriptors use to check their binding slots against the shader.
package shader

import (
	"fmt"
	"strings"
	"sync"
)

// registryEntry pairs a WGSL source snippet with the type name it declares.
type registryEntry struct {
	// Source is the raw WGSL text injected by @oxy:include.
	Source string

	// Type is the WGSL type name emitted in @oxy:group declarations (e.g. "Sphere").
	// Empty for helper snippets that declare only functions.
	Type string
}

var (
	structRegistryMu sync.RWMutex
	structRegistry   = map[AnnotationArg]registryEntry{}
)

// RegisterStruct makes a WGSL snippet available to @oxy:include under key, and to
// @oxy:group as the type typeName. Registering the same key twice replaces the entry.
//
// Parameters:
//   - key: the annotation argument that names the snippet
//   - source: the WGSL source text
//   - typeName: the struct type the snippet declares, or "" for function-only snippets
func RegisterStruct(key AnnotationArg, source, typeName string) {
	structRegistryMu.Lock()
	defer structRegistryMu.Unlock()
	structRegistry[key] = registryEntry{Source: source, Type: typeName}
}

func lookupStruct(key AnnotationArg) (registryEntry, bool) {
	structRegistryMu.RLock()
	defer structRegistryMu.RUnlock()
	e, ok := structRegistry[key]
	return e, ok
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// workgroupSize is written into @oxy:workgroup_size expansions.
	workgroupSize [3]uint32

	// outputFormat is the WGSL texel format written into @oxy:output declarations.
	outputFormat string

	// declarations accumulates group and output annotations during a Process call.
	declarations []Annotation
}

// PreProcessor processes raw WGSL shader source code containing @oxy: annotations,
// replacing them with generated declarations or injected sources while collecting a
// declarations list for downstream binding checks.
type PreProcessor interface {
	// Process takes raw WGSL shader source code and replaces every @oxy: annotation
	// with its WGSL output. The declarations list is reset at the start of each call.
	//
	// Parameters:
	//   - source: the raw WGSL shader source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL shader source code with annotations replaced
	//   - error: an error if any annotation is malformed or references an unknown key
	Process(source string) (string, error)

	// Declarations returns the group and output annotations collected during the most
	// recent call to Process, in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation

	// WorkgroupSize returns the workgroup size written by @oxy:workgroup_size.
	//
	// Returns:
	//   - [3]uint32: the configured workgroup size
	WorkgroupSize() [3]uint32
}

var _ PreProcessor = &preProcessor{}

// PreProcessorOption is a functional option for configuring a PreProcessor.
type PreProcessorOption func(*preProcessor)

// WithWorkgroupSize sets the size written by @oxy:workgroup_size.
//
// Parameters:
//   - size: the workgroup size as [x, y, z]
//
// Returns:
//   - PreProcessorOption: option function to apply
func WithWorkgroupSize(size [3]uint32) PreProcessorOption {
	return func(p *preProcessor) {
		p.workgroupSize = size
	}
}

// WithOutputFormat sets the storage texel format written by @oxy:output.
//
// Parameters:
//   - format: a WGSL texel format keyword, e.g. "rgba8unorm"
//
// Returns:
//   - PreProcessorOption: option function to apply
func WithOutputFormat(format string) PreProcessorOption {
	return func(p *preProcessor) {
		p.outputFormat = format
	}
}

// NewPreProcessor creates a new PreProcessor. The workgroup size defaults to 1x1x1 and
// the output format to rgba8unorm.
//
// Parameters:
//   - options: functional options for the pre-processor
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(options ...PreProcessorOption) PreProcessor {
	p := &preProcessor{
		workgroupSize: [3]uint32{1, 1, 1},
		outputFormat:  "rgba8unorm",
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *preProcessor) WorkgroupSize() [3]uint32 {
	return p.workgroupSize
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := lookupStruct(a.Args[0])
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include argument %q", i+1, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			wgslType, err := resolveDeclType(a.Args[2])
			if err != nil {
				return "", fmt.Errorf("line %d: %w", i+1, err)
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addressSpaces[a.Args[0]], a.Args[1], wgslType))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeOutput:
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) var %s: texture_storage_2d<%s, write>;", *a.Group, *a.Binding, a.Args[0], p.outputFormat))
			p.declarations = append(p.declarations, *a)
		case annotationTypeWorkgroupSize:
			out = append(out, fmt.Sprintf("@workgroup_size(%d, %d, %d)", p.workgroupSize[0], p.workgroupSize[1], p.workgroupSize[2]))
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

// resolveDeclType resolves a group annotation type key, optionally wrapped in array<>,
// to its WGSL type name.
func resolveDeclType(arg AnnotationArg) (string, error) {
	key, isArray := strings.CutPrefix(string(arg), "array<")
	if isArray {
		key = strings.TrimSuffix(key, ">")
	}
	entry, ok := lookupStruct(AnnotationArg(key))
	if !ok || entry.Type == "" {
		return "", fmt.Errorf("unknown struct type %q in @oxy group annotation", key)
	}
	if isArray {
		return fmt.Sprintf("array<%s>", entry.Type), nil
	}
	return entry.Type, nil
}
