package camera

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/chewxy/math32"
)

type cameraImpl struct {
	mu *sync.Mutex

	up   [3]float32
	fov  float32
	near float32

	position      [3]float32
	target        [3]float32
	viewMatrix    [16]float32
	cameraToWorld [16]float32

	controller CameraController
}

// Camera defines the interface for the camera read by the ray-tracing producer.
// The camera holds perspective settings and computes its view matrix from an attached
// CameraController each time Update is called.
type Camera interface {
	// Up returns the camera's up vector.
	//
	// Returns:
	//   - [3]float32: the up vector
	Up() [3]float32

	// Fov returns the vertical field of view in radians.
	//
	// Returns:
	//   - float32: field of view in radians
	Fov() float32

	// Near returns the near clipping plane distance.
	//
	// Returns:
	//   - float32: near plane distance
	Near() float32

	// Position returns the world-space camera position as of the last Update.
	//
	// Returns:
	//   - [3]float32: the camera position
	Position() [3]float32

	// ViewMatrix returns the current 4x4 world-to-camera matrix (column-major).
	//
	// Returns:
	//   - [16]float32: the view matrix
	ViewMatrix() [16]float32

	// CameraToWorld returns the inverse of the view matrix (column-major).
	//
	// Returns:
	//   - [16]float32: the camera-to-world matrix
	CameraToWorld() [16]float32

	// ProjectionMatrix returns the reversed-Z infinite perspective projection for a render
	// target of the given aspect ratio.
	//
	// Parameters:
	//   - aspect: render target width / height
	//
	// Returns:
	//   - [16]float32: the projection matrix
	ProjectionMatrix(aspect float32) [16]float32

	// InverseProjectionMatrix returns the inverse of ProjectionMatrix(aspect). The ray tracer
	// uses it to turn clip-space pixel coordinates into view-space ray directions.
	//
	// Parameters:
	//   - aspect: render target width / height
	//
	// Returns:
	//   - [16]float32: the inverse projection matrix
	InverseProjectionMatrix(aspect float32) [16]float32

	// Controller returns the attached CameraController, or nil.
	//
	// Returns:
	//   - CameraController: the attached controller or nil
	Controller() CameraController

	// SetController attaches a CameraController and recomputes the view.
	//
	// Parameters:
	//   - ctrl: the controller to attach
	SetController(ctrl CameraController)

	// SetFov sets the vertical field of view in radians.
	//
	// Parameters:
	//   - fov: field of view in radians
	SetFov(fov float32)

	// SetNear sets the near clipping plane distance.
	//
	// Parameters:
	//   - near: near plane distance
	SetNear(near float32)

	// Update reads position and target from the controller and recomputes the view.
	// Without a controller it does nothing.
	Update()
}

var _ Camera = &cameraImpl{}

// NewCamera creates a new Camera with a 60 degree field of view looking down -Z from the
// origin. Attach a controller to move it.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:     &sync.Mutex{},
		up:     [3]float32{0, 1, 0},
		fov:    Radians(60),
		near:   0.1,
		target: [3]float32{0, 0, -1},
	}
	for _, option := range options {
		option(c)
	}
	c.updateView()
	return c
}

// Radians converts degrees to radians.
func Radians(deg float32) float32 {
	return deg * math32.Pi / 180
}

func (c *cameraImpl) Up() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Position() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) ViewMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) CameraToWorld() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraToWorld
}

func (c *cameraImpl) ProjectionMatrix(aspect float32) [16]float32 {
	c.mu.Lock()
	fov, near := c.fov, c.near
	c.mu.Unlock()

	var m [16]float32
	common.ReversedZPerspective(m[:], fov, aspect, near)
	return m
}

func (c *cameraImpl) InverseProjectionMatrix(aspect float32) [16]float32 {
	proj := c.ProjectionMatrix(aspect)
	var inv [16]float32
	if !common.Invert4(inv[:], proj[:]) {
		common.Identity(inv[:])
	}
	return inv
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.updateView()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
}

func (c *cameraImpl) SetNear(near float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return
	}
	c.updateView()
}

// updateView recalculates the view and camera-to-world matrices. Caller must hold the mutex.
func (c *cameraImpl) updateView() {
	if c.controller != nil {
		c.position = c.controller.Position()
		c.target = c.controller.Target()
	}
	common.LookAt(c.viewMatrix[:], c.position, c.target, c.up)
	if !common.Invert4(c.cameraToWorld[:], c.viewMatrix[:]) {
		common.Identity(c.cameraToWorld[:])
	}
}
