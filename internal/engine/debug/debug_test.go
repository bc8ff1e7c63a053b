package debug

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/veldtgfx/veldt/internal/engine/resolve"
	"github.com/veldtgfx/veldt/pkg/math"
)

func TestWireframeVertexCount(t *testing.T) {
	b := math.AABB{Min: math.Vec3{X: -1, Y: -1, Z: -1}, Max: math.Vec3{X: 1, Y: 1, Z: 1}}
	verts := WireframeVertices(b)
	if len(verts) != WireframeVertexCount {
		t.Errorf("expected %d vertices, got %d", WireframeVertexCount, len(verts))
	}
	for i, v := range verts {
		if v.X < -1 || v.X > 1 || v.Y < -1 || v.Y > 1 || v.Z < -1 || v.Z > 1 {
			t.Errorf("vertex %d outside box: %v", i, v)
		}
	}
}

func TestDrawBoundsOverlay(t *testing.T) {
	const w, h = 8, 8
	pixels := make([]uint8, w*h*4)
	box := math.AABB{
		Min: math.Vec3{X: -0.5, Y: -0.5, Z: 0},
		Max: math.Vec3{X: 0.5, Y: 0.5, Z: 0},
	}
	red := [4]uint8{255, 0, 0, 255}
	DrawBoundsOverlay(pixels, w, h, math.Identity(), box, red)

	// Box corners (-0.5, 0.5) in NDC land at pixels 2 and 6; the edges
	// trace the rectangle (2,2)-(6,6).
	at := func(x, y int) [4]uint8 {
		off := (y*w + x) * 4
		return [4]uint8{pixels[off], pixels[off+1], pixels[off+2], pixels[off+3]}
	}
	if at(2, 2) != red {
		t.Errorf("expected corner pixel (2,2) drawn, got %v", at(2, 2))
	}
	if at(6, 6) != red {
		t.Errorf("expected corner pixel (6,6) drawn, got %v", at(6, 6))
	}
	if at(4, 4) != [4]uint8{} {
		t.Errorf("expected interior pixel (4,4) untouched, got %v", at(4, 4))
	}
}

func TestDrawBoundsOverlayBehindCamera(t *testing.T) {
	const w, h = 8, 8
	pixels := make([]uint8, w*h*4)
	// Box entirely behind the near plane: camera looks down -Z from the
	// origin, box sits at +Z.
	vp := math.Perspective(math32.Pi/3, 1, 0.1, 100)
	box := math.AABB{
		Min: math.Vec3{X: -1, Y: -1, Z: 1},
		Max: math.Vec3{X: 1, Y: 1, Z: 3},
	}
	DrawBoundsOverlay(pixels, w, h, vp, box, [4]uint8{255, 255, 255, 255})
	for i, p := range pixels {
		if p != 0 {
			t.Fatalf("expected no pixels drawn, byte %d is %d", i, p)
		}
	}
}

func TestHeatmapsStableAndDistinct(t *testing.T) {
	s1 := &resolve.Surface{Visible: 3, Triangle: 7, Level: 2, Depth: 0.25}
	s2 := &resolve.Surface{Visible: 4, Triangle: 7, Level: 5, Depth: 0.75}

	mh := MeshletHeatmap()
	if mh(s1) != mh(s1) {
		t.Error("meshlet heatmap not deterministic")
	}
	if mh(s1) == mh(s2) {
		t.Error("expected distinct colors for distinct meshlets")
	}

	lh := LODHeatmap()
	if lh(s1) == lh(s2) {
		t.Error("expected distinct colors for distinct levels")
	}

	dh := DepthShade()
	c1, c2 := dh(s1), dh(s2)
	if c1[0] <= c2[0] {
		t.Errorf("expected nearer surface brighter, got %d vs %d", c1[0], c2[0])
	}
}
