package game_object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAssignsIDs(t *testing.T) {
	r := NewRegistry()
	fixed := NewGameObject(WithID(2), WithName("fixed"))
	a := NewGameObject(WithName("a"))
	b := NewGameObject(WithName("b"))

	assert.Equal(t, uint64(2), r.Add(fixed))
	assert.Equal(t, uint64(1), r.Add(a))
	assert.Equal(t, uint64(3), r.Add(b))
	assert.Equal(t, 3, r.Count())
	assert.Same(t, b, r.Get(3))

	r.Remove(2)
	r.Remove(42)
	assert.Nil(t, r.Get(2))
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_NamedOrderedByID(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"SphereB", "Floor", "SphereA", "BigSphere"} {
		r.Add(NewGameObject(WithName(name)))
	}
	r.Add(NewGameObject(WithName("HiddenSphere"), WithEnabled(false)))

	var names []string
	for _, o := range r.Named("Sphere") {
		names = append(names, o.Name())
	}
	assert.Equal(t, []string{"SphereB", "SphereA", "BigSphere"}, names)
	assert.Empty(t, r.Named("Cube"))
}

func TestRegistry_Advance(t *testing.T) {
	r := NewRegistry()
	moving := NewGameObject(WithPosition([3]float32{1, 2, 3}), WithVelocity([3]float32{10, 0, -4}))
	frozen := NewGameObject(WithVelocity([3]float32{1, 1, 1}), WithEnabled(false))
	r.Add(moving)
	r.Add(frozen)

	r.Advance(0.5)
	assert.Equal(t, [3]float32{6, 2, 1}, moving.Position())
	assert.Equal(t, [3]float32{}, frozen.Position())
}

func TestNewGameObject_Defaults(t *testing.T) {
	g := NewGameObject()
	require.True(t, g.Enabled())
	assert.Zero(t, g.ID())
	pos, scale := g.Transform()
	assert.Equal(t, [3]float32{}, pos)
	assert.Equal(t, [3]float32{1, 1, 1}, scale)
}
