package shader

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Validate compiles processed WGSL to SPIR-V with naga, catching malformed kernels before
// any device sees them.
//
// Parameters:
//   - source: processed WGSL source (no remaining @oxy: annotations)
//
// Returns:
//   - []byte: the SPIR-V module
//   - error: if naga rejects the source or produces a malformed module
func Validate(source string) ([]byte, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile wgsl: %w", err)
	}
	if len(spirv) < 4 || binary.LittleEndian.Uint32(spirv) != spirvMagic {
		return nil, fmt.Errorf("compile wgsl: output is not a SPIR-V module")
	}
	return spirv, nil
}
