package raster

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veldtgfx/veldt/internal/engine/cull"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/math"
)

// ErrTooManyMeshlets marks a visible list whose indices no longer fit the
// 16-bit id field of a packed pixel.
var ErrTooManyMeshlets = errors.New("visible list exceeds 16-bit meshlet ids")

const wEpsilon = 1e-6

// Rasterizer fills visibility buffers from visible meshlet lists. One
// instance is reusable across frames; it keeps no per-frame state.
type Rasterizer struct {
	workers int
	log     *zap.Logger
}

// New returns a rasterizer running the given number of workers per frame.
// A non-positive count uses one worker per CPU.
func New(workers int, log *zap.Logger) *Rasterizer {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Rasterizer{workers: workers, log: log}
}

// Rasterize draws every visible meshlet into buf. Workers claim meshlets
// from a shared cursor; pixel merges go through the buffer's CAS path, so
// the result is the per-pixel minimum regardless of scheduling. Stale
// handles in the visible list are skipped.
func (r *Rasterizer) Rasterize(ctx context.Context, buf *Buffer, st *store.Store, visible []cull.Visible, viewProj math.Mat4) error {
	if len(visible) > 0xFFFF {
		return ErrTooManyMeshlets
	}

	// Resolve descriptors up front; workers then run without store locks.
	descs := make([]*store.MeshletDesc, len(visible))
	cache := make(map[store.Handle]*store.MeshDesc)
	for i, v := range visible {
		mesh, ok := cache[v.Mesh]
		if !ok {
			var err error
			mesh, err = st.Mesh(v.Mesh)
			if err != nil {
				r.log.Debug("skipping stale mesh in visible list",
					zap.Uint32("index", v.Mesh.Index), zap.Error(err))
				cache[v.Mesh] = nil
				continue
			}
			cache[v.Mesh] = mesh
		}
		if mesh != nil {
			descs[i] = &mesh.Meshlets[v.Meshlet]
		}
	}

	pools := framePools{
		positions: st.Positions(),
		refs:      st.VertexRefs(),
		triVerts:  st.TriangleVerts(),
	}

	var cursor atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.workers; w++ {
		g.Go(func() error {
			var clip [256]math.Vec4
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(descs) {
					return nil
				}
				if i%64 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				if descs[i] == nil {
					continue
				}
				rasterMeshlet(buf, &pools, descs[i], uint16(i), viewProj, clip[:])
			}
		})
	}
	return g.Wait()
}

type framePools struct {
	positions []float32
	refs      []uint32
	triVerts  []uint8
}

func rasterMeshlet(buf *Buffer, pools *framePools, m *store.MeshletDesc, visID uint16, viewProj math.Mat4, clip []math.Vec4) {
	for k := uint32(0); k < m.VertexCount; k++ {
		g := pools.refs[m.VertexOffset+k]
		p := math.Vec3{
			X: pools.positions[g*3],
			Y: pools.positions[g*3+1],
			Z: pools.positions[g*3+2],
		}
		clip[k] = viewProj.MulVec4(math.FromVec3(p, 1))
	}

	w := float32(buf.Width())
	h := float32(buf.Height())
	for t := uint32(0); t < m.TriangleCount; t++ {
		base := (m.TriangleOffset + t) * 3
		ca := clip[pools.triVerts[base]]
		cb := clip[pools.triVerts[base+1]]
		cc := clip[pools.triVerts[base+2]]

		// No near-plane clipping: a triangle crossing the camera plane is
		// dropped whole rather than rasterized with flipped coordinates.
		if ca[3] <= wEpsilon || cb[3] <= wEpsilon || cc[3] <= wEpsilon {
			continue
		}

		ax, ay, az := toScreen(ca, w, h)
		bx, by, bz := toScreen(cb, w, h)
		cx, cy, cz := toScreen(cc, w, h)

		// Screen space is y-down, so front faces wind clockwise and carry
		// negative signed area.
		area := (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
		if area >= 0 {
			continue
		}

		minX, maxX := boundsInt(ax, bx, cx, buf.Width())
		minY, maxY := boundsInt(ay, by, cy, buf.Height())
		if minX > maxX || minY > maxY {
			continue
		}

		inv := 1 / area
		for py := minY; py <= maxY; py++ {
			sy := float32(py) + 0.5
			for px := minX; px <= maxX; px++ {
				sx := float32(px) + 0.5
				e0 := (cx-bx)*(sy-by) - (cy-by)*(sx-bx)
				e1 := (ax-cx)*(sy-cy) - (ay-cy)*(sx-cx)
				e2 := (bx-ax)*(sy-ay) - (by-ay)*(sx-ax)
				if e0 > 0 || e1 > 0 || e2 > 0 {
					continue
				}
				l0 := e0 * inv
				l1 := e1 * inv
				l2 := e2 * inv
				depth := l0*az + l1*bz + l2*cz
				if depth < 0 || depth > 1 {
					continue
				}
				buf.Merge(px, py, Pack(depth, visID, uint16(t)))
			}
		}
	}
}

// toScreen maps clip space to pixel coordinates plus a [0,1] depth.
func toScreen(c math.Vec4, w, h float32) (x, y, z float32) {
	invW := 1 / c[3]
	x = (c[0]*invW*0.5 + 0.5) * w
	y = (1 - (c[1]*invW*0.5 + 0.5)) * h
	z = c[2]*invW*0.5 + 0.5
	return
}

func boundsInt(a, b, c float32, limit int) (int, int) {
	lo, hi := a, a
	if b < lo {
		lo = b
	}
	if b > hi {
		hi = b
	}
	if c < lo {
		lo = c
	}
	if c > hi {
		hi = c
	}
	mn := int(lo)
	mx := int(hi)
	if mn < 0 {
		mn = 0
	}
	if mx > limit-1 {
		mx = limit - 1
	}
	return mn, mx
}
