package raster

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/cull"
	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/formats"
	"github.com/veldtgfx/veldt/pkg/math"
)

// trianglePack holds one meshlet with a single triangle covering the
// lower-left half of NDC at the given z plane.
func trianglePack(z float32) *formats.MPK {
	return &formats.MPK{
		Version: formats.MPKVersion{Major: formats.MPKVersionMajor},
		Meshlets: []formats.MPKMeshlet{{
			VertexCount: 3, TriangleCount: 1,
			BoundsMin: [3]float32{-1, -1, z}, BoundsMax: [3]float32{1, 1, z},
			ConeAxis: [3]float32{0, 0, 1}, ConeCutoff: -1,
			Parent: -1,
		}},
		Nodes: []formats.MPKNode{{
			SphereRadius: 1.5, MeshletCount: 1,
		}},
		Positions:     []float32{-1, -1, z, 1, -1, z, -1, 1, z},
		Normals:       []float32{0, 0, 1, 0, 0, 1, 0, 0, 1},
		Tangents:      []float32{1, 0, 0, 1, 0, 0, 1, 0, 0},
		UVs:           []float32{0, 0, 1, 0, 0, 1},
		VertexRefs:    []uint32{0, 1, 2},
		TriangleVerts: []uint8{0, 1, 2},
		NodeMeshlets:  []uint32{0},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.DefaultConfig(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	return st
}

func TestPackUnpackRoundTrip(t *testing.T) {
	p := Pack(0.25, 1234, 77)
	depth, vis, tri := Unpack(p)
	if depth != 0.25 || vis != 1234 || tri != 77 {
		t.Errorf("expected (0.25, 1234, 77), got (%f, %d, %d)", depth, vis, tri)
	}
}

func TestPackOrdersByDepth(t *testing.T) {
	near := Pack(0.1, 9, 9)
	far := Pack(0.9, 0, 0)
	if near >= far {
		t.Error("expected nearer pixel to compare below farther pixel")
	}
	if far >= Sentinel {
		t.Error("expected any valid pixel to compare below the sentinel")
	}
}

func TestMergeKeepsNearest(t *testing.T) {
	b, err := NewBuffer(2, 2)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}
	b.Merge(0, 0, Pack(0.8, 1, 1))
	b.Merge(0, 0, Pack(0.2, 2, 2))
	b.Merge(0, 0, Pack(0.5, 3, 3))

	depth, vis, _ := Unpack(b.Load(0, 0))
	if depth != 0.2 || vis != 2 {
		t.Errorf("expected nearest write to win, got depth %f vis %d", depth, vis)
	}
}

func TestBufferClear(t *testing.T) {
	b, err := NewBuffer(4, 4)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}
	b.Merge(1, 1, Pack(0.5, 0, 0))
	b.Clear()
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if b.Load(x, y) != Sentinel {
				t.Fatalf("expected sentinel at (%d,%d) after clear", x, y)
			}
		}
	}
}

func TestBadDimensions(t *testing.T) {
	if _, err := NewBuffer(0, 4); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestRasterizeHalfScreenTriangle(t *testing.T) {
	st := newTestStore(t)
	h, err := st.RegisterMesh(trianglePack(0))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	buf, err := NewBuffer(8, 8)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}

	r := New(4, zap.NewNop())
	visible := []cull.Visible{{Mesh: h, Meshlet: 0}}
	if err := r.Rasterize(context.Background(), buf, st, visible, math.Identity()); err != nil {
		t.Fatalf("rasterize failed: %v", err)
	}

	// With an identity transform the triangle covers pixel centers where
	// px <= py, 36 of the 64 pixels.
	covered := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			p := buf.Load(x, y)
			inside := x <= y
			if inside {
				if p == Sentinel {
					t.Errorf("expected coverage at (%d,%d)", x, y)
					continue
				}
				depth, vis, tri := Unpack(p)
				if vis != 0 || tri != 0 {
					t.Errorf("expected ids (0,0) at (%d,%d), got (%d,%d)", x, y, vis, tri)
				}
				if depth < 0.49 || depth > 0.51 {
					t.Errorf("expected depth 0.5 at (%d,%d), got %f", x, y, depth)
				}
				covered++
			} else if p != Sentinel {
				t.Errorf("expected sentinel at (%d,%d)", x, y)
			}
		}
	}
	if covered != 36 {
		t.Errorf("expected 36 covered pixels, got %d", covered)
	}
}

func TestRasterizeDepthOrdering(t *testing.T) {
	st := newTestStore(t)
	hFar, err := st.RegisterMesh(trianglePack(0))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	hNear, err := st.RegisterMesh(trianglePack(-0.4))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	buf, err := NewBuffer(8, 8)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}

	r := New(2, zap.NewNop())
	visible := []cull.Visible{
		{Mesh: hFar, Meshlet: 0},
		{Mesh: hNear, Meshlet: 0},
	}
	if err := r.Rasterize(context.Background(), buf, st, visible, math.Identity()); err != nil {
		t.Fatalf("rasterize failed: %v", err)
	}

	depth, vis, _ := Unpack(buf.Load(1, 5))
	if vis != 1 {
		t.Errorf("expected nearer meshlet id 1, got %d", vis)
	}
	if depth < 0.29 || depth > 0.31 {
		t.Errorf("expected depth 0.3, got %f", depth)
	}
}

func TestRasterizeBackfaceSkipped(t *testing.T) {
	st := newTestStore(t)
	pack := trianglePack(0)
	// Reverse the winding so the triangle faces away.
	pack.TriangleVerts = []uint8{0, 2, 1}
	h, err := st.RegisterMesh(pack)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	buf, err := NewBuffer(8, 8)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}

	r := New(1, zap.NewNop())
	visible := []cull.Visible{{Mesh: h, Meshlet: 0}}
	if err := r.Rasterize(context.Background(), buf, st, visible, math.Identity()); err != nil {
		t.Fatalf("rasterize failed: %v", err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if buf.Load(x, y) != Sentinel {
				t.Fatalf("expected back-facing triangle to leave (%d,%d) empty", x, y)
			}
		}
	}
}

func TestRasterizeStaleHandleSkipped(t *testing.T) {
	st := newTestStore(t)
	h, err := st.RegisterMesh(trianglePack(0))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := st.Retire(h); err != nil {
		t.Fatalf("retire failed: %v", err)
	}
	buf, err := NewBuffer(4, 4)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}

	r := New(1, zap.NewNop())
	visible := []cull.Visible{{Mesh: h, Meshlet: 0}}
	if err := r.Rasterize(context.Background(), buf, st, visible, math.Identity()); err != nil {
		t.Fatalf("expected stale handle to be skipped, got %v", err)
	}
	if buf.Load(0, 3) != Sentinel {
		t.Error("expected empty buffer for stale handle")
	}
}

func TestRasterizeTooManyMeshlets(t *testing.T) {
	r := New(1, zap.NewNop())
	buf, err := NewBuffer(2, 2)
	if err != nil {
		t.Fatalf("buffer creation failed: %v", err)
	}
	visible := make([]cull.Visible, 1<<16)
	if err := r.Rasterize(context.Background(), buf, newTestStore(t), visible, math.Identity()); err != ErrTooManyMeshlets {
		t.Errorf("expected ErrTooManyMeshlets, got %v", err)
	}
}

func BenchmarkRasterize(b *testing.B) {
	st, err := store.New(store.DefaultConfig(), nil, zap.NewNop())
	if err != nil {
		b.Fatalf("store creation failed: %v", err)
	}
	h, err := st.RegisterMesh(trianglePack(0))
	if err != nil {
		b.Fatalf("registration failed: %v", err)
	}
	buf, err := NewBuffer(256, 256)
	if err != nil {
		b.Fatalf("buffer creation failed: %v", err)
	}

	visible := make([]cull.Visible, 256)
	for i := range visible {
		visible[i] = cull.Visible{Mesh: h, Meshlet: 0}
	}
	r := New(0, zap.NewNop())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Clear()
		if err := r.Rasterize(ctx, buf, st, visible, math.Identity()); err != nil {
			b.Fatalf("rasterize failed: %v", err)
		}
	}
}
