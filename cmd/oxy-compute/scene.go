package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-compute/engine/camera"
	"github.com/Carmen-Shannon/oxy-compute/engine/dispatch"
	"github.com/Carmen-Shannon/oxy-compute/engine/game_object"
	"gopkg.in/yaml.v3"
)

// Scene is the YAML description of a ray-tracing run.
type Scene struct {
	Camera  CameraConfig   `yaml:"camera"`
	Colour  [4]float32     `yaml:"colour"`
	Samples int            `yaml:"samples"`
	Seed    uint64         `yaml:"seed"`
	Skybox  string         `yaml:"skybox"`
	Objects []ObjectConfig `yaml:"objects"`
}

// CameraConfig places the camera. When Orbit is set the camera circles Target.
type CameraConfig struct {
	Position [3]float32   `yaml:"position"`
	Target   [3]float32   `yaml:"target"`
	Fov      float32      `yaml:"fov"`
	Near     float32      `yaml:"near"`
	Orbit    *OrbitConfig `yaml:"orbit"`
}

// OrbitConfig configures an orbiting camera. Angles are in degrees.
type OrbitConfig struct {
	Radius    float32 `yaml:"radius"`
	Azimuth   float32 `yaml:"azimuth"`
	Elevation float32 `yaml:"elevation"`
	Speed     float32 `yaml:"speed"`
}

// ObjectConfig is one scene object. Objects whose name contains "Sphere" are traced; Radius,
// when set, overrides the Z scale.
type ObjectConfig struct {
	Name     string      `yaml:"name"`
	Position [3]float32  `yaml:"position"`
	Scale    *[3]float32 `yaml:"scale"`
	Radius   float32     `yaml:"radius"`
	Velocity [3]float32  `yaml:"velocity"`
	Disabled bool        `yaml:"disabled"`
}

// DefaultScene is used when no scene file is given: one default sphere seen from an
// orbiting camera.
func DefaultScene() Scene {
	return Scene{
		Camera: CameraConfig{
			Target: [3]float32{0, 0, 50},
			Fov:    60,
			Orbit:  &OrbitConfig{Radius: 300, Elevation: 15, Speed: 10},
		},
		Colour:  [4]float32{1, 1, 1, 1},
		Samples: 4,
		Seed:    1,
		Objects: []ObjectConfig{
			{Name: "Sphere", Position: dispatch.DefaultSphere.Center, Radius: dispatch.DefaultSphere.Radius},
		},
	}
}

// LoadScene reads a scene file. Fields missing from the file keep their DefaultScene
// values, except objects, which are replaced as a whole.
func LoadScene(path string) (Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scene{}, fmt.Errorf("reading scene %s: %w", path, err)
	}
	return ParseScene(data)
}

// ParseScene decodes a YAML scene on top of DefaultScene and validates it.
func ParseScene(data []byte) (Scene, error) {
	s := DefaultScene()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scene{}, fmt.Errorf("parsing scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scene{}, err
	}
	return s, nil
}

// Validate rejects values no run can use.
func (s Scene) Validate() error {
	if s.Samples < 0 {
		return fmt.Errorf("scene: samples must not be negative, got %d", s.Samples)
	}
	if s.Camera.Fov <= 0 || s.Camera.Fov >= 180 {
		return fmt.Errorf("scene: camera fov must be in (0, 180) degrees, got %g", s.Camera.Fov)
	}
	if s.Camera.Near < 0 {
		return fmt.Errorf("scene: camera near must not be negative, got %g", s.Camera.Near)
	}
	if o := s.Camera.Orbit; o != nil && o.Radius <= 0 {
		return fmt.Errorf("scene: orbit radius must be positive, got %g", o.Radius)
	}
	for i, o := range s.Objects {
		if o.Radius < 0 {
			return fmt.Errorf("scene: object %d (%s): radius must not be negative", i, o.Name)
		}
	}
	return nil
}

// NewCamera builds the scene camera.
func (s Scene) NewCamera() camera.Camera {
	c := s.Camera
	options := []camera.CameraBuilderOption{
		camera.WithFov(camera.Radians(c.Fov)),
		camera.WithLookAt(c.Position, c.Target),
	}
	if c.Near > 0 {
		options = append(options, camera.WithNear(c.Near))
	}
	if o := c.Orbit; o != nil {
		options = append(options, camera.WithController(camera.NewCameraController(
			camera.WithTarget(c.Target),
			camera.WithRadius(o.Radius),
			camera.WithAzimuth(camera.Radians(o.Azimuth)),
			camera.WithElevation(camera.Radians(o.Elevation)),
			camera.WithOrbitSpeed(camera.Radians(o.Speed)),
		)))
	}
	return camera.NewCamera(options...)
}

// NewRegistry builds the scene objects.
func (s Scene) NewRegistry() game_object.Registry {
	r := game_object.NewRegistry()
	for _, o := range s.Objects {
		scale := [3]float32{1, 1, 1}
		if o.Scale != nil {
			scale = *o.Scale
		}
		if o.Radius > 0 {
			k := o.Radius / dispatch.SphereRadiusScale
			scale = [3]float32{k, k, k}
		}
		r.Add(game_object.NewGameObject(
			game_object.WithName(o.Name),
			game_object.WithPosition(o.Position),
			game_object.WithScale(scale),
			game_object.WithVelocity(o.Velocity),
			game_object.WithEnabled(!o.Disabled),
		))
	}
	return r
}
