// Package renderer drives one frame of the virtualized geometry pipeline:
// LOD selection and culling, software visibility-buffer rasterization, and
// the deferred material resolve.
package renderer

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/cull"
	"github.com/veldtgfx/veldt/internal/engine/raster"
	"github.com/veldtgfx/veldt/internal/engine/resolve"
	"github.com/veldtgfx/veldt/internal/engine/store"
)

// Config holds renderer configuration.
type Config struct {
	Width            int
	Height           int
	Workers          int
	PixelErrorBudget float32
	VisibleCapacity  int
}

// Frame is the output of one rendered frame. Its buffers stay valid until
// the same slot is rendered again, two frames later.
type Frame struct {
	Visible []cull.Visible
	Buffer  *raster.Buffer
	Color   []uint8 // RGBA, row-major
	Depth   []float32
	Width   int
	Height  int
}

// Renderer owns the per-frame pipeline state. Frame targets are double
// buffered so a presenter can keep reading the previous frame while the
// next one renders.
type Renderer struct {
	cfg   Config
	log   *zap.Logger
	store *store.Store

	culler     *cull.Culler
	rasterizer *raster.Rasterizer

	buffers     [2]*raster.Buffer
	resolvers   [2]*resolve.Resolver
	frame       int
	lastVisible []cull.Visible

	resizeW int
	resizeH int
}

// New creates a renderer over an existing geometry store.
func New(cfg Config, st *store.Store, log *zap.Logger) (*Renderer, error) {
	if cfg.VisibleCapacity == 0 {
		cfg.VisibleCapacity = 0xFFFF
	}
	culler, err := cull.New(cull.Config{
		PixelErrorBudget: cfg.PixelErrorBudget,
		Capacity:         cfg.VisibleCapacity,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("creating culler: %w", err)
	}

	r := &Renderer{
		cfg:        cfg,
		log:        log,
		store:      st,
		culler:     culler,
		rasterizer: raster.New(cfg.Workers, log),
	}
	if err := r.allocTargets(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	log.Info("renderer initialized",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("workers", cfg.Workers),
	)
	return r, nil
}

func (r *Renderer) allocTargets(width, height int) error {
	for i := 0; i < 2; i++ {
		buf, err := raster.NewBuffer(width, height)
		if err != nil {
			return fmt.Errorf("creating visibility buffer: %w", err)
		}
		res, err := resolve.New(width, height, r.cfg.Workers, r.log)
		if err != nil {
			return fmt.Errorf("creating resolver: %w", err)
		}
		r.buffers[i] = buf
		r.resolvers[i] = res
	}
	r.cfg.Width = width
	r.cfg.Height = height
	return nil
}

// Resize requests new target dimensions. The swap happens at the start of
// the next frame, never while one is in flight.
func (r *Renderer) Resize(width, height int) {
	r.resizeW = width
	r.resizeH = height
	r.log.Debug("renderer resize requested",
		zap.Int("width", width),
		zap.Int("height", height),
	)
}

// RenderFrame runs the full pipeline for one camera and returns the frame.
// Store mutations are fenced around the frame: registrations and retires
// that need pool growth land between frames.
func (r *Renderer) RenderFrame(ctx context.Context, cam cull.Camera, shade resolve.ShadeFunc) (*Frame, error) {
	if r.resizeW > 0 && (r.resizeW != r.cfg.Width || r.resizeH != r.cfg.Height) {
		if err := r.allocTargets(r.resizeW, r.resizeH); err != nil {
			return nil, err
		}
	}
	r.resizeW, r.resizeH = 0, 0

	slot := r.frame % 2
	r.frame++
	buf := r.buffers[slot]
	res := r.resolvers[slot]

	r.store.BeginFrame()
	frameErr := r.renderInto(ctx, cam, buf, res, shade)
	if err := multierr.Append(frameErr, r.store.EndFrame()); err != nil {
		return nil, err
	}

	return &Frame{
		Visible: r.lastVisible,
		Buffer:  buf,
		Color:   res.Color(),
		Depth:   res.Depth(),
		Width:   r.cfg.Width,
		Height:  r.cfg.Height,
	}, nil
}

func (r *Renderer) renderInto(ctx context.Context, cam cull.Camera, buf *raster.Buffer, res *resolve.Resolver, shade resolve.ShadeFunc) error {
	visible := r.culler.Run(cam, r.store, r.store.Live())
	r.lastVisible = visible

	buf.Clear()
	if err := r.rasterizer.Rasterize(ctx, buf, r.store, visible, cam.ViewProj); err != nil {
		return fmt.Errorf("rasterizing: %w", err)
	}
	if err := res.Resolve(ctx, buf, r.store, visible, cam.ViewProj, shade); err != nil {
		return fmt.Errorf("resolving: %w", err)
	}
	return nil
}
