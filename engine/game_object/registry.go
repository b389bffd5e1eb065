package game_object

import (
	"slices"
	"strings"
	"sync"
)

// Registry holds the scene's objects by ID. It is safe for concurrent use.
type Registry interface {
	// Add stores obj, assigning it the next free ID if it has none.
	//
	// Parameters:
	//   - obj: the object to add
	//
	// Returns:
	//   - uint64: the object's ID
	Add(obj GameObject) uint64

	// Get returns the object with the given ID, or nil.
	//
	// Parameters:
	//   - id: the object ID
	//
	// Returns:
	//   - GameObject: the object or nil
	Get(id uint64) GameObject

	// Remove deletes the object with the given ID. Unknown IDs are ignored.
	//
	// Parameters:
	//   - id: the object ID
	Remove(id uint64)

	// Count returns the number of objects.
	//
	// Returns:
	//   - int: the object count
	Count() int

	// All returns every object ordered by ID.
	//
	// Returns:
	//   - []GameObject: the objects
	All() []GameObject

	// Named returns the enabled objects whose name contains substr, ordered by ID.
	//
	// Parameters:
	//   - substr: the name fragment to match
	//
	// Returns:
	//   - []GameObject: the matching objects
	Named(substr string) []GameObject

	// Advance moves every enabled object by its velocity for dt seconds.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	Advance(dt float32)
}

type registry struct {
	mu      sync.RWMutex
	nextID  uint64
	objects map[uint64]GameObject
}

var _ Registry = &registry{}

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return &registry{nextID: 1, objects: make(map[uint64]GameObject)}
}

func (r *registry) Add(obj GameObject) uint64 {
	if obj == nil {
		panic("game_object: cannot Add a nil GameObject")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj.ID() == 0 {
		for r.objects[r.nextID] != nil {
			r.nextID++
		}
		obj.SetID(r.nextID)
		r.nextID++
	}
	r.objects[obj.ID()] = obj
	return obj.ID()
}

func (r *registry) Get(id uint64) GameObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[id]
}

func (r *registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, id)
}

func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

func (r *registry) All() []GameObject {
	r.mu.RLock()
	out := make([]GameObject, 0, len(r.objects))
	for _, o := range r.objects {
		out = append(out, o)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b GameObject) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

func (r *registry) Named(substr string) []GameObject {
	all := r.All()
	out := all[:0]
	for _, o := range all {
		if o.Enabled() && strings.Contains(o.Name(), substr) {
			out = append(out, o)
		}
	}
	return out
}

func (r *registry) Advance(dt float32) {
	for _, o := range r.All() {
		if o.Enabled() {
			o.Advance(dt)
		}
	}
}
