package camera

// CameraController owns the positional state of a camera. The camera reads position and
// target from it on Update. The controller orbits a target point using spherical
// coordinates (radius, azimuth, elevation) and can advance the orbit on its own each
// producer tick.
type CameraController interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - [3]float32: world-space camera position
	Position() [3]float32

	// Target returns the look-at point.
	//
	// Returns:
	//   - [3]float32: world-space target position
	Target() [3]float32

	// SetTarget sets the orbit pivot and recomputes the position.
	//
	// Parameters:
	//   - target: world-space coordinates
	SetTarget(target [3]float32)

	// Radius returns the current orbit radius (distance from target).
	//
	// Returns:
	//   - float32: current distance from target
	Radius() float32

	// SetRadius sets the orbit radius, clamped to the radius bounds.
	//
	// Parameters:
	//   - radius: new distance from target
	SetRadius(radius float32)

	// Azimuth returns the current horizontal angle around the Y axis.
	//
	// Returns:
	//   - float32: azimuth in radians
	Azimuth() float32

	// SetAzimuth sets the horizontal angle and recomputes the position.
	//
	// Parameters:
	//   - azimuth: new horizontal angle in radians
	SetAzimuth(azimuth float32)

	// Elevation returns the current vertical angle from the horizontal plane.
	//
	// Returns:
	//   - float32: elevation in radians
	Elevation() float32

	// SetElevation sets the vertical angle, clamped to the elevation bounds.
	//
	// Parameters:
	//   - elevation: new vertical angle in radians
	SetElevation(elevation float32)

	// Orbit rotates the camera around the target.
	//
	// Parameters:
	//   - dAzimuth: change of the horizontal angle in radians
	//   - dElevation: change of the vertical angle in radians, clamped to the bounds
	Orbit(dAzimuth, dElevation float32)

	// Advance orbits by the configured orbit speed for dt seconds.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	Advance(dt float32)

	// OrbitSpeed returns the automatic orbit speed.
	//
	// Returns:
	//   - float32: radians per second
	OrbitSpeed() float32
}
