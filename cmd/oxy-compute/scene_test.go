package main

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-compute/engine/camera"
	"github.com/Carmen-Shannon/oxy-compute/engine/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneYAML = `
camera:
  position: [0, 0, 300]
  target: [0, 0, 0]
  fov: 45
  orbit: null
colour: [1, 0, 0, 1]
samples: 8
objects:
  - name: SphereBig
    position: [0, 0, 50]
    radius: 100
  - name: Floor
    position: [0, -1000, 0]
    scale: [10, 1, 10]
  - name: HiddenSphere
    disabled: true
`

func TestParseScene(t *testing.T) {
	s, err := ParseScene([]byte(sceneYAML))
	require.NoError(t, err)

	assert.Equal(t, [4]float32{1, 0, 0, 1}, s.Colour)
	assert.Equal(t, 8, s.Samples)
	assert.Equal(t, uint64(1), s.Seed)
	assert.Nil(t, s.Camera.Orbit)
	assert.Equal(t, float32(45), s.Camera.Fov)
	require.Len(t, s.Objects, 3)

	objects := s.NewRegistry()
	assert.Equal(t, 3, objects.Count())
	spheres := objects.Named(dispatch.SphereNameTag)
	require.Len(t, spheres, 1)
	pos, scale := spheres[0].Transform()
	assert.Equal(t, [3]float32{0, 0, 50}, pos)
	assert.Equal(t, float32(2), scale[2])

	cam := s.NewCamera()
	assert.Nil(t, cam.Controller())
	assert.Equal(t, [3]float32{0, 0, 300}, cam.Position())
	assert.InDelta(t, camera.Radians(45), cam.Fov(), 1e-6)
}

func TestDefaultSceneOrbits(t *testing.T) {
	s := DefaultScene()
	require.NoError(t, s.Validate())

	cam := s.NewCamera()
	ctrl := cam.Controller()
	require.NotNil(t, ctrl)
	assert.Equal(t, float32(300), ctrl.Radius())

	before := cam.Position()
	ctrl.Advance(1)
	cam.Update()
	assert.NotEqual(t, before, cam.Position())

	spheres := s.NewRegistry().Named(dispatch.SphereNameTag)
	require.Len(t, spheres, 1)
	_, scale := spheres[0].Transform()
	assert.Equal(t, float32(1), scale[2])
}

func TestParseScene_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"negative samples": "samples: -1",
		"zero fov":         "camera: {fov: 0}",
		"orbit radius":     "camera: {orbit: {radius: -5}}",
		"negative radius":  "objects: [{name: Sphere, radius: -1}]",
		"not yaml":         "objects: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScene([]byte(doc))
			assert.Error(t, err)
		})
	}
}
