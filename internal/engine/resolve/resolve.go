// Package resolve turns a visibility buffer into shaded pixels: each pixel's
// packed meshlet/triangle id is decoded, the triangle's attributes are
// re-interpolated at the pixel center, and a shade function produces color.
package resolve

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veldtgfx/veldt/internal/engine/cull"
	"github.com/veldtgfx/veldt/internal/engine/raster"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/math"
)

// ErrBadDimensions marks a zero or negative target size.
var ErrBadDimensions = errors.New("resolve target dimensions must be positive")

// Surface is everything a shade function sees for one pixel.
type Surface struct {
	Position math.Vec3 // object space
	Normal   math.Vec3
	Tangent  math.Vec3
	UV       math.Vec2
	Depth    float32
	Visible  uint16 // index into the frame's visible list
	Triangle uint16
	Level    uint8
}

// ShadeFunc maps a surface to RGBA. It runs concurrently across pixels and
// must not retain the surface pointer.
type ShadeFunc func(s *Surface) [4]uint8

// Lambert is the default shade: headlight diffuse over the surface normal.
func Lambert(s *Surface) [4]uint8 {
	n := s.Normal
	if l := n.Length(); l > 1e-6 {
		n = n.Scale(1 / l)
	}
	d := n.Z
	if d < 0 {
		d = -d
	}
	v := uint8(40 + d*215)
	return [4]uint8{v, v, v, 255}
}

// Resolver owns the color and depth targets of the resolve pass.
type Resolver struct {
	width   int
	height  int
	workers int
	log     *zap.Logger
	color   []uint8 // RGBA
	depth   []float32
}

// New allocates a resolver for the given target size.
func New(width, height, workers int, log *zap.Logger) (*Resolver, error) {
	if width < 1 || height < 1 {
		return nil, ErrBadDimensions
	}
	if workers < 1 {
		workers = 1
	}
	return &Resolver{
		width:   width,
		height:  height,
		workers: workers,
		log:     log,
		color:   make([]uint8, width*height*4),
		depth:   make([]float32, width*height),
	}, nil
}

// Color returns the RGBA target, row-major.
func (r *Resolver) Color() []uint8 { return r.color }

// Depth returns the resolved depth target.
func (r *Resolver) Depth() []float32 { return r.depth }

// Width returns the target width in pixels.
func (r *Resolver) Width() int { return r.width }

// Height returns the target height in pixels.
func (r *Resolver) Height() int { return r.height }

// Resolve shades every pixel of buf into the color target. Pixels whose
// packed ids no longer decode to live geometry are treated as background and
// counted; a corrupt buffer degrades to missing pixels, never a panic.
func (r *Resolver) Resolve(ctx context.Context, buf *raster.Buffer, st *store.Store, visible []cull.Visible, viewProj math.Mat4, shade ShadeFunc) error {
	if buf.Width() != r.width || buf.Height() != r.height {
		return ErrBadDimensions
	}
	if shade == nil {
		shade = Lambert
	}

	descs := make([]*store.MeshDesc, len(visible))
	cache := make(map[store.Handle]*store.MeshDesc)
	for i, v := range visible {
		mesh, ok := cache[v.Mesh]
		if !ok {
			var err error
			mesh, err = st.Mesh(v.Mesh)
			if err != nil {
				mesh = nil
			}
			cache[v.Mesh] = mesh
		}
		descs[i] = mesh
	}

	pools := pixelPools{
		positions: st.Positions(),
		normals:   st.Normals(),
		tangents:  st.Tangents(),
		uvs:       st.UVs(),
		refs:      st.VertexRefs(),
		triVerts:  st.TriangleVerts(),
	}

	var corrupt atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	rows := (r.height + r.workers - 1) / r.workers
	for w := 0; w < r.workers; w++ {
		y0 := w * rows
		y1 := y0 + rows
		if y1 > r.height {
			y1 = r.height
		}
		if y0 >= y1 {
			continue
		}
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				for x := 0; x < r.width; x++ {
					r.resolvePixel(x, y, buf, visible, descs, &pools, viewProj, shade, &corrupt)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := corrupt.Load(); n > 0 {
		r.log.Warn("visibility buffer pixels did not decode", zap.Int64("pixels", n))
	}
	return nil
}

type pixelPools struct {
	positions []float32
	normals   []float32
	tangents  []float32
	uvs       []float32
	refs      []uint32
	triVerts  []uint8
}

func (r *Resolver) resolvePixel(x, y int, buf *raster.Buffer, visible []cull.Visible, descs []*store.MeshDesc, pools *pixelPools, viewProj math.Mat4, shade ShadeFunc, corrupt *atomic.Int64) {
	ci := (y*r.width + x) * 4
	packed := buf.Load(x, y)
	if packed == raster.Sentinel {
		r.color[ci], r.color[ci+1], r.color[ci+2], r.color[ci+3] = 0, 0, 0, 0
		r.depth[y*r.width+x] = 1
		return
	}

	depth, vis, tri := raster.Unpack(packed)
	s, ok := r.surfaceAt(x, y, depth, vis, tri, visible, descs, pools, viewProj)
	if !ok {
		corrupt.Add(1)
		r.color[ci], r.color[ci+1], r.color[ci+2], r.color[ci+3] = 0, 0, 0, 0
		r.depth[y*r.width+x] = 1
		return
	}

	c := shade(&s)
	r.color[ci], r.color[ci+1], r.color[ci+2], r.color[ci+3] = c[0], c[1], c[2], c[3]
	r.depth[y*r.width+x] = depth
}

// surfaceAt rebuilds the surface under one pixel. Every id is bounds-checked
// against the live pools before indexing; a mismatch reports not-ok.
func (r *Resolver) surfaceAt(x, y int, depth float32, vis, tri uint16, visible []cull.Visible, descs []*store.MeshDesc, pools *pixelPools, viewProj math.Mat4) (Surface, bool) {
	if int(vis) >= len(visible) || descs[vis] == nil {
		return Surface{}, false
	}
	v := visible[vis]
	desc := descs[vis]
	if int(v.Meshlet) >= len(desc.Meshlets) {
		return Surface{}, false
	}
	m := &desc.Meshlets[v.Meshlet]
	if uint32(tri) >= m.TriangleCount {
		return Surface{}, false
	}

	base := (m.TriangleOffset + uint32(tri)) * 3
	if int(base)+3 > len(pools.triVerts) {
		return Surface{}, false
	}

	var gv [3]uint32
	var clip [3]math.Vec4
	for i := 0; i < 3; i++ {
		local := uint32(pools.triVerts[base+uint32(i)])
		if local >= m.VertexCount || int(m.VertexOffset+local) >= len(pools.refs) {
			return Surface{}, false
		}
		g := pools.refs[m.VertexOffset+local]
		if int(g)*3+3 > len(pools.positions) {
			return Surface{}, false
		}
		gv[i] = g
		p := math.Vec3{
			X: pools.positions[g*3],
			Y: pools.positions[g*3+1],
			Z: pools.positions[g*3+2],
		}
		clip[i] = viewProj.MulVec4(math.FromVec3(p, 1))
		if clip[i][3] <= 1e-6 {
			return Surface{}, false
		}
	}

	// Screen-space barycentrics at the pixel center, same mapping the
	// rasterizer used to produce the id.
	w := float32(r.width)
	h := float32(r.height)
	var sx, sy [3]float32
	for i := 0; i < 3; i++ {
		invW := 1 / clip[i][3]
		sx[i] = (clip[i][0]*invW*0.5 + 0.5) * w
		sy[i] = (1 - (clip[i][1]*invW*0.5 + 0.5)) * h
	}
	px := float32(x) + 0.5
	py := float32(y) + 0.5
	area := (sx[1]-sx[0])*(sy[2]-sy[0]) - (sy[1]-sy[0])*(sx[2]-sx[0])
	if area == 0 {
		return Surface{}, false
	}
	inv := 1 / area
	l0 := ((sx[2]-sx[1])*(py-sy[1]) - (sy[2]-sy[1])*(px-sx[1])) * inv
	l1 := ((sx[0]-sx[2])*(py-sy[2]) - (sy[0]-sy[2])*(px-sx[2])) * inv
	l2 := 1 - l0 - l1

	// Perspective-correct weights.
	p0 := l0 / clip[0][3]
	p1 := l1 / clip[1][3]
	p2 := l2 / clip[2][3]
	sum := p0 + p1 + p2
	if sum == 0 {
		return Surface{}, false
	}
	p0, p1, p2 = p0/sum, p1/sum, p2/sum

	s := Surface{
		Depth:    depth,
		Visible:  vis,
		Triangle: tri,
		Level:    v.Level,
	}
	s.Position = lerp3(pools.positions, gv, p0, p1, p2)
	s.Normal = lerp3(pools.normals, gv, p0, p1, p2)
	s.Tangent = lerp3(pools.tangents, gv, p0, p1, p2)
	s.UV = math.Vec2{
		X: pools.uvs[gv[0]*2]*p0 + pools.uvs[gv[1]*2]*p1 + pools.uvs[gv[2]*2]*p2,
		Y: pools.uvs[gv[0]*2+1]*p0 + pools.uvs[gv[1]*2+1]*p1 + pools.uvs[gv[2]*2+1]*p2,
	}
	return s, true
}

func lerp3(pool []float32, gv [3]uint32, p0, p1, p2 float32) math.Vec3 {
	return math.Vec3{
		X: pool[gv[0]*3]*p0 + pool[gv[1]*3]*p1 + pool[gv[2]*3]*p2,
		Y: pool[gv[0]*3+1]*p0 + pool[gv[1]*3+1]*p1 + pool[gv[2]*3+1]*p2,
		Z: pool[gv[0]*3+2]*p0 + pool[gv[1]*3+2]*p1 + pool[gv[2]*3+2]*p2,
	}
}
