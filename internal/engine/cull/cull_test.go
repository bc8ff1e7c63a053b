package cull

import (
	"reflect"
	"testing"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/meshlet"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/formats"
	"github.com/veldtgfx/veldt/pkg/math"
)

const testFOV = math32.Pi / 3

func testCamera(pos, target math.Vec3) Camera {
	view := math.LookAt(pos, target, math.Vec3{Y: 1})
	proj := math.Perspective(testFOV, 16.0/9.0, 0.1, 100)
	return Camera{
		ViewProj:     proj.Mul(view),
		Position:     pos,
		FOVY:         testFOV,
		ScreenHeight: 1080,
	}
}

// twoLevelPack builds a pack with a fine leaf node (level 0, one meshlet)
// under a coarse root node (level 1, one meshlet, small error).
func twoLevelPack() *formats.MPK {
	return twoLevelPackErr(0.01)
}

// twoLevelPackErr varies the coarse node's error to steer LOD selection.
func twoLevelPackErr(coarseErr float32) *formats.MPK {
	return &formats.MPK{
		Version: formats.MPKVersion{Major: formats.MPKVersionMajor},
		Meshlets: []formats.MPKMeshlet{
			{
				VertexCount: 3, TriangleCount: 1,
				BoundsMin: [3]float32{-1, -1, -1}, BoundsMax: [3]float32{1, 1, 1},
				ConeAxis: [3]float32{0, 0, 1}, ConeCutoff: -1,
				Parent: 1,
			},
			{
				VertexOffset: 0, VertexCount: 3,
				TriangleOffset: 0, TriangleCount: 1,
				BoundsMin: [3]float32{-1, -1, -1}, BoundsMax: [3]float32{1, 1, 1},
				ConeAxis: [3]float32{0, 0, 1}, ConeCutoff: -1,
				Level: 1, Error: coarseErr, Parent: -1,
			},
		},
		Nodes: []formats.MPKNode{
			{Level: 0, SphereRadius: 1.7, MeshletOffset: 0, MeshletCount: 1},
			{Level: 1, Error: coarseErr, SphereRadius: 1.8, MeshletOffset: 1, MeshletCount: 1, ChildOffset: 0, ChildCount: 1},
		},
		Positions:     []float32{-1, 0, 0, 1, 0, 0, 0, 1, 0},
		Normals:       []float32{0, 0, 1, 0, 0, 1, 0, 0, 1},
		Tangents:      []float32{1, 0, 0, 1, 0, 0, 1, 0, 0},
		UVs:           []float32{0, 0, 1, 0, 0, 1},
		VertexRefs:    []uint32{0, 1, 2},
		TriangleVerts: []uint8{0, 1, 2},
		NodeMeshlets:  []uint32{0, 1},
		NodeChildren:  []uint32{0},
	}
}

func setup(t *testing.T, cfg Config) (*Culler, *store.Store, store.Handle) {
	t.Helper()
	st, err := store.New(store.DefaultConfig(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	h, err := st.RegisterMesh(twoLevelPack())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	c, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("culler creation failed: %v", err)
	}
	return c, st, h
}

func TestFrustumContainsPointInFront(t *testing.T) {
	cam := testCamera(math.Vec3{Z: 5}, math.Vec3{})
	fr, err := FrustumFromViewProj(cam.ViewProj)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if !fr.IntersectsSphere(math.Sphere{Center: math.Vec3{}, Radius: 0.01}) {
		t.Error("expected point in front of camera inside frustum")
	}
	if fr.IntersectsSphere(math.Sphere{Center: math.Vec3{Z: 10}, Radius: 0.01}) {
		t.Error("expected point behind camera outside frustum")
	}
}

func TestFrustumDegenerate(t *testing.T) {
	if _, err := FrustumFromViewProj(math.Mat4{}); err == nil {
		t.Error("expected error for zero matrix")
	}
}

func TestFrustumAABBConservative(t *testing.T) {
	cam := testCamera(math.Vec3{Z: 5}, math.Vec3{})
	fr, err := FrustumFromViewProj(cam.ViewProj)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	// Straddles the left clip plane: partially visible, must not be culled.
	wide := math.AABB{Min: math.Vec3{X: -100, Y: -0.5, Z: -0.5}, Max: math.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	if !fr.IntersectsAABB(wide) {
		t.Error("expected straddling box to survive culling")
	}
	offscreen := math.AABB{Min: math.Vec3{X: -100, Y: -1, Z: 9}, Max: math.Vec3{X: 100, Y: 1, Z: 11}}
	if fr.IntersectsAABB(offscreen) {
		t.Error("expected box behind camera to be culled")
	}
}

func TestOffscreenMeshCulled(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	// Geometry sits at the origin; look the other way.
	cam := testCamera(math.Vec3{Z: 5}, math.Vec3{Z: 10})
	if got := c.Run(cam, st, []store.Handle{h}); len(got) != 0 {
		t.Errorf("expected nothing visible, got %d", len(got))
	}
}

func TestCoarseNodeSelectedFar(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	cam := testCamera(math.Vec3{Z: 90}, math.Vec3{})
	got := c.Run(cam, st, []store.Handle{h})
	if len(got) != 1 {
		t.Fatalf("expected 1 visible meshlet, got %d", len(got))
	}
	if got[0].Level != 1 || got[0].Meshlet != 1 {
		t.Errorf("expected coarse meshlet at distance, got level %d meshlet %d", got[0].Level, got[0].Meshlet)
	}
}

func TestFineNodeSelectedNear(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	cam := testCamera(math.Vec3{Z: 3}, math.Vec3{})
	got := c.Run(cam, st, []store.Handle{h})
	if len(got) != 1 {
		t.Fatalf("expected 1 visible meshlet, got %d", len(got))
	}
	if got[0].Level != 0 || got[0].Meshlet != 0 {
		t.Errorf("expected fine meshlet up close, got level %d meshlet %d", got[0].Level, got[0].Meshlet)
	}
}

func TestRunDeterministic(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	cam := testCamera(math.Vec3{X: 2, Y: 1, Z: 4}, math.Vec3{})
	a := c.Run(cam, st, []store.Handle{h})
	b := c.Run(cam, st, []store.Handle{h})
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical visible lists for identical inputs")
	}
}

func TestCapacityOverflowDrops(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 1})
	// The second mesh carries a large coarse error, so at this distance
	// the first mesh renders its coarse node while the second refines.
	h2, err := st.RegisterMesh(twoLevelPackErr(0.1))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	cam := testCamera(math.Vec3{Z: 30}, math.Vec3{})
	got := c.Run(cam, st, []store.Handle{h, h2})
	if len(got) != 1 {
		t.Fatalf("expected visible list capped at 1, got %d", len(got))
	}
	// Overflow sheds the coarse entry, not the fine one that arrived later.
	if got[0].Mesh != h2 || got[0].Level != 0 {
		t.Errorf("expected the level-0 entry retained, got mesh %v level %d", got[0].Mesh, got[0].Level)
	}
}

func TestStaleHandleSkipped(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	if err := st.Retire(h); err != nil {
		t.Fatalf("retire failed: %v", err)
	}
	cam := testCamera(math.Vec3{Z: 3}, math.Vec3{})
	if got := c.Run(cam, st, []store.Handle{h}); len(got) != 0 {
		t.Errorf("expected stale handle to yield nothing, got %d", len(got))
	}
}

func TestDegenerateViewProjRendersAll(t *testing.T) {
	c, st, h := setup(t, Config{PixelErrorBudget: 1, Capacity: 100})
	cam := Camera{ViewProj: math.Mat4{}, Position: math.Vec3{Z: 3}, FOVY: testFOV, ScreenHeight: 1080}
	if got := c.Run(cam, st, []store.Handle{h}); len(got) == 0 {
		t.Error("expected degenerate matrix to disable culling, not drop geometry")
	}
}

func TestConeRejects(t *testing.T) {
	camPos := math.Vec3{Z: 5}
	// Cone facing away from the camera: reject.
	back := meshlet.Cone{Apex: math.Vec3{}, Axis: math.Vec3{Z: -1}, Cutoff: 0.5}
	if !coneRejects(&back, camPos) {
		t.Error("expected back-facing cone to be rejected")
	}
	// Cone facing the camera: keep.
	front := meshlet.Cone{Apex: math.Vec3{}, Axis: math.Vec3{Z: 1}, Cutoff: 0.5}
	if coneRejects(&front, camPos) {
		t.Error("expected front-facing cone to survive")
	}
	// Degenerate cone: test skipped.
	wide := meshlet.Cone{Apex: math.Vec3{}, Axis: math.Vec3{Z: -1}, Cutoff: -1}
	if coneRejects(&wide, camPos) {
		t.Error("expected degenerate cone to skip the test")
	}
}

func TestBadCapacity(t *testing.T) {
	if _, err := New(Config{Capacity: 0}, zap.NewNop()); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := New(Config{Capacity: 1 << 16}, zap.NewNop()); err == nil {
		t.Error("expected error for capacity above 65535")
	}
}
