// Command oxy-compute runs one of the compute kernels, headless or in a window, and can
// write the final render target to a PNG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-compute/common"
	"github.com/Carmen-Shannon/oxy-compute/engine"
	"github.com/Carmen-Shannon/oxy-compute/engine/dispatch"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/kernel"
	"github.com/Carmen-Shannon/oxy-compute/engine/tick"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
	"k8s.io/klog/v2"
)

// GLFW needs the main goroutine on the main OS thread.
func init() {
	runtime.LockOSThread()
}

type options struct {
	kernel      string
	backend     string
	format      string
	width       int
	height      int
	windowed    bool
	ticks       int
	tickRate    float64
	renderRate  float64
	workers     int
	scene       string
	skybox      string
	skyboxSize  int
	out         string
	samples     int
	dumpSamples bool
	profile     bool
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var o options
	flag.StringVar(&o.kernel, "kernel", kernel.RayTracingKernel, "kernel to run: "+kernel.WhiteNoiseKernel+" or "+kernel.RayTracingKernel)
	flag.StringVar(&o.backend, "backend", device.BackendSoftware.String(), "execution backend: software or wgpu")
	flag.StringVar(&o.format, "format", "rgba8unorm", "ray-tracing output format: rgba8unorm or rgba32float")
	flag.IntVar(&o.width, "width", 640, "render target width in pixels")
	flag.IntVar(&o.height, "height", 360, "render target height in pixels")
	flag.BoolVar(&o.windowed, "window", false, "run in a window; the target is sized to the window")
	flag.IntVar(&o.ticks, "ticks", -1, "producer ticks to run; 0 runs until interrupted, -1 picks 120 headless and 0 windowed")
	flag.Float64Var(&o.tickRate, "tick-rate", 60, "producer ticks per second")
	flag.Float64Var(&o.renderRate, "render-rate", 60, "render thread frames per second")
	flag.IntVar(&o.workers, "workers", 0, "software backend worker count; 0 uses one per CPU")
	flag.StringVar(&o.scene, "scene", "", "YAML scene file for the ray tracer")
	flag.StringVar(&o.skybox, "skybox", "", "equirectangular skybox image; overrides the scene's skybox")
	flag.IntVar(&o.skyboxSize, "skybox-size", 0, "rescale the skybox to this width (height is width/2); 0 keeps the image size")
	flag.StringVar(&o.out, "out", "", "write the final render target to this PNG file")
	flag.IntVar(&o.samples, "samples", 0, "anti-aliasing samples per pixel; 0 uses the scene value")
	flag.BoolVar(&o.dumpSamples, "dump-samples", false, "read back and log the random sample buffer of the last dispatch")
	flag.BoolVar(&o.profile, "profile", false, "log tick and dispatch rates once per second")

	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	log := klog.FromContext(ctx)

	backend, err := device.ParseBackend(o.backend)
	if err != nil {
		return err
	}
	if o.ticks < 0 {
		o.ticks = 120
		if o.windowed {
			o.ticks = 0
		}
	}

	var win window.Window
	extent := common.Extent{Width: o.width, Height: o.height}
	devOptions := []device.DeviceBuilderOption{device.WithWorkers(o.workers)}
	if o.windowed {
		win, err = window.NewWindow(
			window.WithTitle("oxy-compute "+o.kernel),
			window.WithWidth(o.width),
			window.WithHeight(o.height),
			window.WithResizable(false),
		)
		if err != nil {
			return err
		}
		extent = win.Extent()
		if backend == device.BackendWGPU {
			devOptions = append(devOptions, device.WithCompatibleSurface(win.SurfaceDescriptor()))
		}
	}

	dev, err := device.New(backend, devOptions...)
	if err != nil {
		if win != nil {
			_ = win.Close()
		}
		return fmt.Errorf("creating %s device: %w", backend, err)
	}
	defer dev.Release()
	log.Info("Device ready", "device", dev.Label(), "backend", backend, "extent", extent)

	engineOptions := []engine.EngineBuilderOption{
		engine.WithTickRate(o.tickRate),
		engine.WithRenderFrameRate(o.renderRate),
		engine.WithMaxTicks(uint64(o.ticks)),
		engine.WithProfiling(o.profile),
		engine.WithResizeCallback(func(width, height int) {
			log.Info("Window resized, render target keeps its size", "width", width, "height", height, "target", extent)
		}),
	}
	if win != nil {
		engineOptions = append(engineOptions, engine.WithWindow(win))
	}
	e := engine.NewEngine(engineOptions...)

	var target *dispatch.Texture
	var rayTracer *dispatch.RayTracingManager
	switch o.kernel {
	case kernel.WhiteNoiseKernel:
		target, err = newTexture(e.RenderThread(), dev, "white_noise_target", extent, device.PixelFormatR32Float)
		if err != nil {
			break
		}
		err = setupWhiteNoise(e, dev, target)
	case kernel.RayTracingKernel:
		var format device.PixelFormat
		format, err = device.ParsePixelFormat(o.format)
		if err != nil {
			break
		}
		target, err = newTexture(e.RenderThread(), dev, "ray_tracing_target", extent, format)
		if err != nil {
			break
		}
		rayTracer, err = setupRayTracing(ctx, e, dev, target, o)
	default:
		err = fmt.Errorf("unknown kernel %q", o.kernel)
	}
	if err != nil {
		e.Quit()
		return errors.Join(err, e.Run(ctx))
	}

	start := time.Now()
	if err := e.Run(ctx); err != nil {
		return err
	}
	log.Info("Run finished", "ticks", e.Ticks(), "dispatches", e.Dispatches(), "elapsed", time.Since(start).Round(time.Millisecond))

	if rayTracer != nil && o.dumpSamples {
		log.Info("Random samples of the last dispatch", "samples", rayTracer.RandomSamples())
	}
	if o.out == "" {
		return nil
	}
	// The render thread has stopped, so the device is no longer in use.
	data, err := dev.ReadTexture(target.ID)
	if err != nil {
		return fmt.Errorf("reading render target: %w", err)
	}
	img, err := ToImage(data, target.Extent, target.Format)
	if err != nil {
		return err
	}
	if err := WritePNG(o.out, img); err != nil {
		return err
	}
	log.Info("Wrote render target", "path", o.out, "extent", target.Extent, "format", target.Format)
	return nil
}

func setupWhiteNoise(e engine.Engine, dev device.Device, target *dispatch.Texture) error {
	m, err := dispatch.NewWhiteNoiseManager(dev, e.RenderThread())
	if err != nil {
		return err
	}
	e.AddManager(m)
	if err := m.Supported(); err != nil {
		return err
	}

	producer := dispatch.NewWhiteNoiseProducer(target)
	e.SetTickCallback(func(float32) {
		m.UpdateParameters(producer.Produce())
	})
	m.BeginRendering()
	return nil
}

func setupRayTracing(ctx context.Context, e engine.Engine, dev device.Device, target *dispatch.Texture, o options) (*dispatch.RayTracingManager, error) {
	log := klog.FromContext(ctx)

	scene := DefaultScene()
	if o.scene != "" {
		var err error
		if scene, err = LoadScene(o.scene); err != nil {
			return nil, err
		}
	}
	if o.samples > 0 {
		scene.Samples = o.samples
	}
	if o.skybox != "" {
		scene.Skybox = o.skybox
	}

	sky := ProceduralSky(256, 128)
	if scene.Skybox != "" {
		var err error
		if sky, err = common.LoadImage(scene.Skybox, o.skyboxSize, o.skyboxSize/2); err != nil {
			return nil, err
		}
	}
	skybox, err := newTexture(e.RenderThread(), dev, "skybox", sky.Extent(), device.PixelFormatRGBA8Unorm)
	if err != nil {
		return nil, err
	}
	if err := onRenderThread(e.RenderThread(), func() error {
		return dev.WriteTexture(skybox.ID, sky.Pixels)
	}); err != nil {
		return nil, fmt.Errorf("uploading skybox: %w", err)
	}

	m, err := dispatch.NewRayTracingManager(dev, e.RenderThread(),
		dispatch.WithSampleCount(scene.Samples),
		dispatch.WithSeed(scene.Seed),
		dispatch.WithSampleReadback(o.dumpSamples),
		dispatch.WithProbeFormat(target.Format),
	)
	if err != nil {
		return nil, err
	}
	e.AddManager(m)
	if err := m.Supported(); err != nil {
		return nil, err
	}

	cam := scene.NewCamera()
	objects := scene.NewRegistry()
	log.Info("Scene ready", "objects", objects.Count(), "spheres", len(objects.Named(dispatch.SphereNameTag)), "samples", scene.Samples, "skybox", sky.Extent())

	producer := dispatch.NewRayTracingProducer(
		dispatch.WithCamera(cam),
		dispatch.WithObjects(objects),
		dispatch.WithRenderTarget(target),
		dispatch.WithSkybox(skybox),
		dispatch.WithColour(scene.Colour),
	)
	e.SetTickCallback(func(dt float32) {
		if ctrl := cam.Controller(); ctrl != nil {
			ctrl.Advance(dt)
			cam.Update()
		}
		objects.Advance(dt)
		m.UpdateParameters(producer.Produce())
	})
	m.BeginRendering()
	return m, nil
}

// newTexture allocates a texture on the render thread.
func newTexture(rt tick.RenderThread, dev device.Device, label string, extent common.Extent, format device.PixelFormat) (*dispatch.Texture, error) {
	var tex *dispatch.Texture
	err := onRenderThread(rt, func() error {
		var err error
		tex, err = dispatch.NewTexture(dev, label, extent, format)
		return err
	})
	return tex, err
}

// onRenderThread runs fn on the render thread and waits for it.
func onRenderThread(rt tick.RenderThread, fn func() error) error {
	var err error
	if qerr := rt.Enqueue(func(tick.CommandContext) { err = fn() }); qerr != nil {
		return qerr
	}
	if ferr := rt.Flush(); ferr != nil {
		return ferr
	}
	return err
}
