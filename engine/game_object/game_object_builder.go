package game_object

// GameObjectBuilderOption is a functional option for configuring a GameObject.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the object's ID. Objects without an ID get one when added to a Registry.
//
// Parameters:
//   - id: the ID to assign
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithID(id uint64) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.id.Store(id)
	}
}

// WithName sets the object's name.
//
// Parameters:
//   - name: the object name
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithName(name string) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.name = name
	}
}

// WithEnabled sets whether the object starts enabled.
//
// Parameters:
//   - enabled: true to enable
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.enabled.Store(enabled)
	}
}

// WithPosition sets the initial world-space position.
//
// Parameters:
//   - pos: the position
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithPosition(pos [3]float32) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.position = pos
	}
}

// WithScale sets the initial per-axis scale.
//
// Parameters:
//   - scale: the scale
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithScale(scale [3]float32) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.scale = scale
	}
}

// WithVelocity sets the initial velocity in units per second.
//
// Parameters:
//   - v: the velocity
//
// Returns:
//   - GameObjectBuilderOption: option function to apply
func WithVelocity(v [3]float32) GameObjectBuilderOption {
	return func(g *gameObject) {
		g.velocity = v
	}
}
