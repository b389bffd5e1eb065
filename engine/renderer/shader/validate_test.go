package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCompilesKernel(t *testing.T) {
	s, err := NewShader("validate", testKernel, NewPreProcessor(WithWorkgroupSize([3]uint32{8, 8, 1})))
	require.NoError(t, err)

	spirv, err := Validate(s.Source())
	if err != nil {
		t.Skipf("naga cannot compile this kernel yet: %v", err)
	}
	assert.GreaterOrEqual(t, len(spirv), 20)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := Validate("this is not wgsl")
	assert.Error(t, err)
}
