package camera

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCamera_LookAt(t *testing.T) {
	c := NewCamera(WithLookAt([3]float32{0, 0, -200}, [3]float32{0, 0, 0}))

	assert.Equal(t, [3]float32{0, 0, -200}, c.Position())

	c2w := c.CameraToWorld()
	origin := common.Transform(c2w[:], [4]float32{0, 0, 0, 1})
	assert.InDelta(t, 0, origin[0], 1e-3)
	assert.InDelta(t, 0, origin[1], 1e-3)
	assert.InDelta(t, -200, origin[2], 1e-3)

	// The camera looks down its local -Z, which must point at the target (+Z in world).
	fwd := common.Transform(c2w[:], [4]float32{0, 0, -1, 0})
	assert.InDelta(t, 1, fwd[2], 1e-5)
}

func TestCamera_InverseProjection(t *testing.T) {
	c := NewCamera(WithFov(Radians(90)), WithNear(0.5))

	proj := c.ProjectionMatrix(2)
	inv := c.InverseProjectionMatrix(2)
	var id [16]float32
	common.Mul4(id[:], proj[:], inv[:])
	for i := 0; i < 16; i++ {
		want := float32(0)
		if i%5 == 0 {
			want = 1
		}
		assert.InDelta(t, want, id[i], 1e-4, "element %d", i)
	}

	// Reversed Z: a point on the near plane lands at depth 1.
	p := common.Transform(proj[:], [4]float32{0, 0, -0.5, 1})
	assert.InDelta(t, 1, p[2]/p[3], 1e-5)
}

func TestCameraController_Orbit(t *testing.T) {
	cc := NewCameraController(
		WithTarget([3]float32{0, 10, 0}),
		WithRadius(100),
		WithElevation(0),
		WithAzimuth(0),
		WithOrbitSpeed(Radians(90)),
	)
	assert.InDeltaSlice(t, []float32{0, 10, 100}, vec(cc.Position()), 1e-4)

	cc.Advance(1)
	assert.InDelta(t, Radians(90), cc.Azimuth(), 1e-5)
	assert.InDeltaSlice(t, []float32{100, 10, 0}, vec(cc.Position()), 1e-3)

	cc.SetElevation(10)
	assert.Less(t, cc.Elevation(), Radians(90))

	cc.SetRadius(1e9)
	assert.Equal(t, float32(5000), cc.Radius())
}

func TestCamera_FollowsController(t *testing.T) {
	cc := NewCameraController(WithRadius(50), WithElevation(0))
	c := NewCamera(WithController(cc))
	require.NotNil(t, c.Controller())
	assert.InDeltaSlice(t, []float32{0, 0, 50}, vec(c.Position()), 1e-4)

	cc.SetAzimuth(Radians(180))
	assert.InDeltaSlice(t, []float32{0, 0, 50}, vec(c.Position()), 1e-4)
	c.Update()
	assert.InDeltaSlice(t, []float32{0, 0, -50}, vec(c.Position()), 1e-3)
}

func vec(v [3]float32) []float32 { return v[:] }
