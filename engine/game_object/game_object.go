package game_object

import (
	"sync"
	"sync/atomic"
)

type gameObject struct {
	mu       sync.RWMutex
	id       atomic.Uint64
	name     string
	enabled  atomic.Bool
	position [3]float32
	scale    [3]float32
	velocity [3]float32
}

// GameObject is a named scene entity with a transform. Producers discover the objects they
// care about by name and read their transform every tick.
type GameObject interface {
	// ID returns the object's unique identifier, 0 until the object is added to a Registry.
	//
	// Returns:
	//   - uint64: the object ID
	ID() uint64

	// Name returns the object's name.
	//
	// Returns:
	//   - string: the object name
	Name() string

	// Enabled returns whether producers should consider this object.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// Position returns the world-space position.
	//
	// Returns:
	//   - [3]float32: the position
	Position() [3]float32

	// Scale returns the per-axis scale.
	//
	// Returns:
	//   - [3]float32: the scale
	Scale() [3]float32

	// Velocity returns the world-space velocity in units per second.
	//
	// Returns:
	//   - [3]float32: the velocity
	Velocity() [3]float32

	// Transform returns position and scale read under one lock.
	//
	// Returns:
	//   - pos: the position
	//   - scale: the scale
	Transform() (pos, scale [3]float32)

	// SetID sets the object's unique identifier.
	//
	// Parameters:
	//   - id: the ID to assign
	SetID(id uint64)

	// SetEnabled sets whether producers should consider this object.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// SetPosition sets the world-space position.
	//
	// Parameters:
	//   - pos: the new position
	SetPosition(pos [3]float32)

	// SetScale sets the per-axis scale.
	//
	// Parameters:
	//   - scale: the new scale
	SetScale(scale [3]float32)

	// SetVelocity sets the world-space velocity.
	//
	// Parameters:
	//   - v: units per second on each axis
	SetVelocity(v [3]float32)

	// Advance moves the object by its velocity for dt seconds.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	Advance(dt float32)
}

var _ GameObject = &gameObject{}

// NewGameObject creates an enabled object at the origin with unit scale.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the new object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	g := &gameObject{scale: [3]float32{1, 1, 1}}
	g.enabled.Store(true)
	for _, option := range options {
		option(g)
	}
	return g
}

func (g *gameObject) ID() uint64 {
	return g.id.Load()
}

func (g *gameObject) Name() string {
	return g.name
}

func (g *gameObject) Enabled() bool {
	return g.enabled.Load()
}

func (g *gameObject) Position() [3]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position
}

func (g *gameObject) Scale() [3]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scale
}

func (g *gameObject) Velocity() [3]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.velocity
}

func (g *gameObject) Transform() (pos, scale [3]float32) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position, g.scale
}

func (g *gameObject) SetID(id uint64) {
	g.id.Store(id)
}

func (g *gameObject) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

func (g *gameObject) SetPosition(pos [3]float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.position = pos
}

func (g *gameObject) SetScale(scale [3]float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scale = scale
}

func (g *gameObject) SetVelocity(v [3]float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.velocity = v
}

func (g *gameObject) Advance(dt float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.position {
		g.position[i] += g.velocity[i] * dt
	}
}
