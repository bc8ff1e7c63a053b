// Package viewer implements the interactive pack viewer loop.
package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/config"
	"github.com/veldtgfx/veldt/internal/engine/camera"
	"github.com/veldtgfx/veldt/internal/engine/cull"
	"github.com/veldtgfx/veldt/internal/engine/debug"
	"github.com/veldtgfx/veldt/internal/engine/glbackend"
	"github.com/veldtgfx/veldt/internal/engine/input"
	"github.com/veldtgfx/veldt/internal/engine/renderer"
	"github.com/veldtgfx/veldt/internal/engine/resolve"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/internal/engine/stream"
	"github.com/veldtgfx/veldt/internal/engine/window"
	"github.com/veldtgfx/veldt/internal/logger"
	"github.com/veldtgfx/veldt/pkg/math"
)

const (
	fovY    = math32.Pi / 3
	nearZ   = 0.1
	farZ    = 1000.0
	moveSpd = 2.0 // camera target units per second
)

// shade modes cycled with Tab.
const (
	shadeMaterial = iota
	shadeMeshlet
	shadeTriangle
	shadeLOD
	shadeDepth
	shadeModeCount
)

var shadeNames = [shadeModeCount]string{
	"material", "meshlet", "triangle", "lod", "depth",
}

// Viewer owns the window, input, geometry store and render loop.
type Viewer struct {
	cfg   *config.Config
	log   *zap.Logger
	packs []string

	window   *window.Window
	input    *input.Input
	store    *store.Store
	backend  *glbackend.Backend
	loader   *stream.Loader
	renderer *renderer.Renderer
	camera   *camera.OrbitCamera
	shots    *debug.ScreenshotCapture

	width  int
	height int

	running    bool
	dragging   bool
	fitted     bool
	showBounds bool
	wantShot   bool
	shadeMode  int
	shaders    [shadeModeCount]resolve.ShadeFunc
}

// New creates the viewer and requests the given packs for streaming.
// glMirror additionally mirrors the geometry pools into GL buffer objects.
func New(cfg *config.Config, packs []string, glMirror bool) (*Viewer, error) {
	if len(packs) == 0 {
		return nil, fmt.Errorf("no packs to view")
	}

	v := &Viewer{
		cfg:    cfg,
		log:    logger.Log,
		packs:  packs,
		width:  cfg.Graphics.Width,
		height: cfg.Graphics.Height,
	}

	var err error
	v.window, err = window.New(window.Config{
		Title:      "veldt viewer",
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
		OpenGL:     glMirror,
	})
	if err != nil {
		return nil, fmt.Errorf("creating window: %w", err)
	}

	var uploader store.Uploader
	if glMirror {
		if err := glbackend.Init(); err != nil {
			v.window.Close()
			return nil, err
		}
		v.backend = glbackend.New(v.log)
		uploader = v.backend
	}

	v.store, err = store.New(store.DefaultConfig(), uploader, v.log)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if v.backend != nil {
		v.backend.Attach(v.store)
	}

	v.renderer, err = renderer.New(renderer.Config{
		Width:            cfg.Graphics.Width,
		Height:           cfg.Graphics.Height,
		Workers:          cfg.Graphics.RasterWorkers,
		PixelErrorBudget: cfg.Meshlet.PixelErrorBudget,
		VisibleCapacity:  cfg.Graphics.VisibleCapacity,
	}, v.store, v.log)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	v.loader = stream.NewLoader(v.store, 0, v.log)
	for _, p := range packs {
		v.loader.Request(p)
	}

	v.input = input.New()
	v.camera = camera.NewOrbitCamera()
	v.shots = debug.NewScreenshotCapture("screenshots", "veldt")
	v.shaders = [shadeModeCount]resolve.ShadeFunc{
		shadeMaterial: resolve.Lambert,
		shadeMeshlet:  debug.MeshletHeatmap(),
		shadeTriangle: debug.TriangleHeatmap(),
		shadeLOD:      debug.LODHeatmap(),
		shadeDepth:    debug.DepthShade(),
	}

	v.log.Info("viewer initialized",
		zap.Strings("packs", packs),
		zap.Bool("gl_mirror", glMirror))
	return v, nil
}

// Run drives the event / render loop until quit.
func (v *Viewer) Run(ctx context.Context) error {
	v.running = true
	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	for v.running {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		dt := float32(now.Sub(lastTime).Seconds())
		lastTime = now

		if v.input.Update() {
			break
		}
		for _, event := range v.input.Events() {
			v.handleEvent(event)
		}
		v.handleHeldKeys(dt)

		if handles := v.loader.Collect(); len(handles) > 0 && !v.fitted {
			v.fitCamera()
		}

		frame, err := v.renderer.RenderFrame(ctx, v.frameCamera(), v.shaders[v.shadeMode])
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}

		if v.showBounds {
			v.drawBounds(frame)
		}

		if err := v.window.Present(frame.Color, frame.Width, frame.Height); err != nil {
			return fmt.Errorf("present: %w", err)
		}

		if v.wantShot {
			v.wantShot = false
			v.screenshot(frame)
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			v.log.Debug("frame stats",
				zap.Int("fps", frameCount),
				zap.Int("visible", len(frame.Visible)),
				zap.String("shade", shadeNames[v.shadeMode]))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}
	return nil
}

func (v *Viewer) handleEvent(event input.Event) {
	switch event.Type {
	case input.EventQuit:
		v.running = false
	case input.EventWindowResize:
		v.width, v.height = event.Width, event.Height
		v.renderer.Resize(event.Width, event.Height)
	case input.EventKeyDown:
		v.handleKey(event.Key)
	case input.EventMouseDown:
		if event.Button == sdl.BUTTON_LEFT {
			v.dragging = true
		}
	case input.EventMouseUp:
		if event.Button == sdl.BUTTON_LEFT {
			v.dragging = false
		}
	case input.EventMouseMove:
		if v.dragging {
			v.camera.HandleDrag(float32(event.DeltaX), float32(event.DeltaY))
		}
	case input.EventMouseWheel:
		v.camera.HandleZoom(event.WheelY)
	}
}

func (v *Viewer) handleKey(key sdl.Scancode) {
	switch key {
	case sdl.SCANCODE_ESCAPE:
		v.running = false
	case sdl.SCANCODE_TAB:
		v.shadeMode = (v.shadeMode + 1) % shadeModeCount
		v.log.Info("shade mode", zap.String("mode", shadeNames[v.shadeMode]))
	case sdl.SCANCODE_B:
		v.showBounds = !v.showBounds
	case sdl.SCANCODE_F:
		v.fitCamera()
	case sdl.SCANCODE_F12:
		v.wantShot = true
	}
}

func (v *Viewer) handleHeldKeys(dt float32) {
	step := moveSpd * dt
	var forward, right, up float32
	if v.input.IsKeyPressed(sdl.SCANCODE_W) {
		forward += step
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_S) {
		forward -= step
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_D) {
		right += step
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_A) {
		right -= step
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_E) {
		up += step
	}
	if v.input.IsKeyPressed(sdl.SCANCODE_Q) {
		up -= step
	}
	if forward != 0 || right != 0 || up != 0 {
		v.camera.HandleMovement(forward, right, up)
	}
}

func (v *Viewer) frameCamera() cull.Camera {
	aspect := float32(v.width) / float32(v.height)
	proj := math.Perspective(fovY, aspect, nearZ, farZ)
	return cull.Camera{
		ViewProj:     proj.Mul(v.camera.ViewMatrix()),
		Position:     v.camera.Position(),
		FOVY:         fovY,
		ScreenHeight: float32(v.height),
	}
}

// fitCamera frames the union of all live mesh bounds.
func (v *Viewer) fitCamera() {
	var bounds math.Sphere
	for _, h := range v.store.Live() {
		desc, err := v.store.Mesh(h)
		if err != nil {
			continue
		}
		if bounds.Radius == 0 {
			bounds = desc.Bounds
		} else {
			bounds = bounds.Union(desc.Bounds)
		}
	}
	if bounds.Radius == 0 {
		return
	}
	v.camera.FitToSphere(bounds, fovY)
	v.fitted = true
}

// drawBounds overlays the AABB of every meshlet that survived culling.
func (v *Viewer) drawBounds(frame *renderer.Frame) {
	vp := v.frameCamera().ViewProj
	yellow := [4]uint8{255, 220, 40, 255}
	for _, vis := range frame.Visible {
		desc, err := v.store.Mesh(vis.Mesh)
		if err != nil {
			continue
		}
		box := desc.Meshlets[vis.Meshlet].Bounds
		debug.DrawBoundsOverlay(frame.Color, frame.Width, frame.Height, vp, box, yellow)
	}
}

func (v *Viewer) screenshot(frame *renderer.Frame) {
	path, err := v.shots.CaptureFromPixels(frame.Color, frame.Width, frame.Height)
	if err != nil {
		v.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	v.log.Info("screenshot saved",
		zap.String("path", path),
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height))
}

// Close tears everything down in reverse creation order.
func (v *Viewer) Close() {
	if v.loader != nil {
		v.loader.Close()
	}
	if v.backend != nil {
		v.backend.Close()
	}
	if v.window != nil {
		v.window.Close()
	}
	logger.Sync()
}
