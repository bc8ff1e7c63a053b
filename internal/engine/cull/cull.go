package cull

import (
	"errors"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/meshlet"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/math"
)

// ErrBadCapacity marks a visible-list capacity outside the id range the
// rasterizer can pack into a pixel.
var ErrBadCapacity = errors.New("visible capacity must be in [1, 65535]")

// Camera carries everything LOD selection needs from the view.
type Camera struct {
	ViewProj     math.Mat4
	Position     math.Vec3
	FOVY         float32 // vertical field of view, radians
	ScreenHeight float32 // pixels
}

// Visible is one meshlet instance to rasterize this frame. Its index in the
// visible list is the id the rasterizer packs into pixels, which is why the
// list is capped at 65535 entries.
type Visible struct {
	Mesh    store.Handle
	Meshlet uint32 // index into the mesh's MeshletDesc slice
	Level   uint8
}

// Config controls selection.
type Config struct {
	// PixelErrorBudget is the screen-space error, in pixels, a rendered
	// node may carry. Smaller budgets refine deeper.
	PixelErrorBudget float32
	// Capacity bounds the visible list, at most 65535.
	Capacity int
}

// Culler walks mesh hierarchies and emits the frame's visible list.
type Culler struct {
	cfg Config
	log *zap.Logger
}

// New validates the configuration and returns a Culler.
func New(cfg Config, log *zap.Logger) (*Culler, error) {
	if cfg.Capacity < 1 || cfg.Capacity > 0xFFFF {
		return nil, ErrBadCapacity
	}
	if cfg.PixelErrorBudget <= 0 {
		cfg.PixelErrorBudget = 1
	}
	return &Culler{cfg: cfg, log: log}, nil
}

// Run selects visible meshlets for every given mesh. The output is
// deterministic for identical inputs: meshes in the given order, hierarchy
// nodes coarse to fine, meshlets in node order. Stale handles are skipped.
// A degenerate view-projection disables frustum and cone rejection for the
// frame rather than dropping geometry.
func (c *Culler) Run(cam Camera, st *store.Store, meshes []store.Handle) []Visible {
	fr, err := FrustumFromViewProj(cam.ViewProj)
	frustumOK := err == nil
	if !frustumOK {
		c.log.Warn("frustum extraction failed, culling disabled for frame", zap.Error(err))
	}

	out := make([]Visible, 0, 64)
	dropped := 0
	for _, h := range meshes {
		desc, err := st.Mesh(h)
		if err != nil {
			c.log.Debug("skipping stale mesh handle",
				zap.Uint32("index", h.Index), zap.Error(err))
			continue
		}
		out, dropped = c.cullMesh(cam, &fr, frustumOK, st, h, desc, out, dropped)
	}
	if dropped > 0 {
		c.log.Warn("visible list overflow",
			zap.Int("capacity", c.cfg.Capacity), zap.Int("dropped", dropped))
	}
	return out
}

// cullMesh walks one hierarchy from the coarsest nodes down. A node whose
// screen-space error fits the budget is rendered and its finer subtree is
// skipped; otherwise its children are considered. Leaves render regardless,
// since nothing finer exists.
func (c *Culler) cullMesh(cam Camera, fr *Frustum, frustumOK bool, st *store.Store,
	h store.Handle, desc *store.MeshDesc, out []Visible, dropped int) ([]Visible, int) {

	covered := make([]bool, len(desc.Nodes))
	for i := len(desc.Nodes) - 1; i >= 0; i-- {
		if covered[i] {
			continue
		}
		n := &desc.Nodes[i]

		if frustumOK && !fr.IntersectsSphere(n.Sphere) {
			coverSubtree(desc, covered, i)
			continue
		}

		if c.screenError(cam, n) > c.cfg.PixelErrorBudget && len(n.Children) > 0 {
			// Too coarse: leave children uncovered so the walk refines.
			covered[i] = true
			continue
		}

		for _, mi := range n.Meshlets {
			m := &desc.Meshlets[mi]
			if frustumOK && !fr.IntersectsAABB(m.Bounds) {
				continue
			}
			if frustumOK && coneRejects(&m.Cone, cam.Position) {
				continue
			}
			if len(out) >= c.cfg.Capacity {
				// At capacity the coarsest retained entry gives way to a
				// finer candidate, so overflow sheds detail last.
				dropped++
				j := coarsestVisible(out)
				if out[j].Level <= uint8(n.Level) {
					continue
				}
				copy(out[j:], out[j+1:])
				out[len(out)-1] = Visible{Mesh: h, Meshlet: mi, Level: uint8(n.Level)}
				continue
			}
			out = append(out, Visible{Mesh: h, Meshlet: mi, Level: uint8(n.Level)})
		}
		coverSubtree(desc, covered, i)
	}
	return out, dropped
}

// screenError projects a node's geometric error to pixels at its nearest
// point to the camera.
func (c *Culler) screenError(cam Camera, n *store.NodeDesc) float32 {
	if n.Error <= 0 {
		return 0
	}
	dist := cam.Position.Sub(n.Sphere.Center).Length() - n.Sphere.Radius
	if dist < 1e-4 {
		return math32.MaxFloat32 // inside the bound, always refine
	}
	halfTan := math32.Tan(cam.FOVY / 2)
	if halfTan < 1e-8 {
		return 0
	}
	return n.Error * cam.ScreenHeight / (2 * dist * halfTan)
}

// coneRejects tests the backface cone: every triangle in the meshlet faces
// away when the view direction lies inside the cone. A cutoff of -1 means
// the cone is degenerate and the test is skipped.
func coneRejects(cone *meshlet.Cone, camPos math.Vec3) bool {
	if cone.Cutoff <= -1 {
		return false
	}
	view := cone.Apex.Sub(camPos)
	l := view.Length()
	if l < 1e-8 {
		return false
	}
	return view.Scale(1/l).Dot(cone.Axis) > cone.Cutoff
}

// coarsestVisible returns the index of the highest-level retained entry,
// preferring the latest one so earlier emissions of equal detail survive.
func coarsestVisible(out []Visible) int {
	j := 0
	for i := range out {
		if out[i].Level >= out[j].Level {
			j = i
		}
	}
	return j
}

// coverSubtree marks a node and every finer node reachable from it.
func coverSubtree(desc *store.MeshDesc, covered []bool, root int) {
	stack := []int{root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if covered[i] && i != root {
			continue
		}
		covered[i] = true
		for _, ch := range desc.Nodes[i].Children {
			stack = append(stack, int(ch))
		}
	}
}
