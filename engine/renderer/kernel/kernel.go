// Package kernel holds the compute kernel descriptors: the WGSL source of each kernel, the
// named slots it binds, the uniform block layout of its parameters and the CPU
// implementation the software device runs.
package kernel

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/shader"
)

// ThreadsPerGroupDimension is the per-axis thread extent of every kernel workgroup. It is
// written into the WGSL @workgroup_size by the pre-processor and used for group counts.
const ThreadsPerGroupDimension uint32 = 32

const (
	// WhiteNoiseKernel is the registry name of the white-noise kernel.
	WhiteNoiseKernel = "white_noise"
	// RayTracingKernel is the registry name of the sphere ray-tracing kernel.
	RayTracingKernel = "ray_tracing"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

var (
	sourcesMu sync.RWMutex
	sources   = map[string]string{}
)

func init() {
	shader.RegisterStruct("sphere", mustAsset("sphere.wgsl"), "Sphere")
	shader.RegisterStruct("pcg_hash", mustAsset("pcg_hash.wgsl"), "")
	Register(WhiteNoiseKernel, mustAsset("white_noise.wgsl"))
	Register(RayTracingKernel, mustAsset("ray_tracing.wgsl"))
}

func mustAsset(name string) string {
	data, err := shaderFS.ReadFile("shaders/" + name)
	if err != nil {
		panic(fmt.Sprintf("kernel: missing embedded shader %s: %v", name, err))
	}
	return string(data)
}

// Register makes a kernel source available under name. Registering a name twice replaces
// the source; descriptors already built from the old source are not affected.
//
// Parameters:
//   - name: the kernel name
//   - source: the raw WGSL source, possibly containing @oxy: annotations
func Register(name, source string) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources[name] = source
}

// Lookup returns the kernel source registered under name.
//
// Parameters:
//   - name: the kernel name
//
// Returns:
//   - string: the raw WGSL source
//   - bool: false if nothing is registered under name
func Lookup(name string) (string, bool) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	src, ok := sources[name]
	return src, ok
}

// Names returns the registered kernel names in sorted order.
func Names() []string {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupCount returns the number of workgroups needed to cover a width x height workload
// with square groups of groupExtent threads per axis. Non-positive extents yield zero groups.
//
// Parameters:
//   - width: workload width in threads
//   - height: workload height in threads
//   - groupExtent: threads per group along each axis
//
// Returns:
//   - [3]uint32: the group count as [ceil(width/groupExtent), ceil(height/groupExtent), 1]
func GroupCount(width, height int, groupExtent uint32) [3]uint32 {
	if width <= 0 || height <= 0 || groupExtent == 0 {
		return [3]uint32{0, 0, 1}
	}
	g := int(groupExtent)
	return [3]uint32{uint32(common.CeilDiv(width, g)), uint32(common.CeilDiv(height, g)), 1}
}
