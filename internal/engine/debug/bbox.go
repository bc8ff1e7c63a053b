package debug

import (
	"github.com/veldtgfx/veldt/pkg/math"
)

// WireframeVertexCount is the number of vertices for a box wireframe (12 edges × 2).
const WireframeVertexCount = 24

// WireframeVertices creates line endpoints for a wireframe bounding box.
// Returns 24 vertices as 12 edge pairs in world space.
func WireframeVertices(b math.AABB) []math.Vec3 {
	mn, mx := b.Min, b.Max
	return []math.Vec3{
		// Bottom face (4 edges)
		{X: mn.X, Y: mn.Y, Z: mn.Z}, {X: mx.X, Y: mn.Y, Z: mn.Z},
		{X: mx.X, Y: mn.Y, Z: mn.Z}, {X: mx.X, Y: mn.Y, Z: mx.Z},
		{X: mx.X, Y: mn.Y, Z: mx.Z}, {X: mn.X, Y: mn.Y, Z: mx.Z},
		{X: mn.X, Y: mn.Y, Z: mx.Z}, {X: mn.X, Y: mn.Y, Z: mn.Z},
		// Top face (4 edges)
		{X: mn.X, Y: mx.Y, Z: mn.Z}, {X: mx.X, Y: mx.Y, Z: mn.Z},
		{X: mx.X, Y: mx.Y, Z: mn.Z}, {X: mx.X, Y: mx.Y, Z: mx.Z},
		{X: mx.X, Y: mx.Y, Z: mx.Z}, {X: mn.X, Y: mx.Y, Z: mx.Z},
		{X: mn.X, Y: mx.Y, Z: mx.Z}, {X: mn.X, Y: mx.Y, Z: mn.Z},
		// Vertical edges (4 edges)
		{X: mn.X, Y: mn.Y, Z: mn.Z}, {X: mn.X, Y: mx.Y, Z: mn.Z},
		{X: mx.X, Y: mn.Y, Z: mn.Z}, {X: mx.X, Y: mx.Y, Z: mn.Z},
		{X: mx.X, Y: mn.Y, Z: mx.Z}, {X: mx.X, Y: mx.Y, Z: mx.Z},
		{X: mn.X, Y: mn.Y, Z: mx.Z}, {X: mn.X, Y: mx.Y, Z: mx.Z},
	}
}

// DrawBoundsOverlay draws the wireframe edges of a bounding box into an
// RGBA pixel buffer using the given view-projection transform. Lines are
// clipped against the near plane and the screen rectangle. The buffer
// layout matches resolve.Resolver.Color: row-major, 4 bytes per pixel.
func DrawBoundsOverlay(pixels []uint8, width, height int, viewProj math.Mat4, b math.AABB, rgba [4]uint8) {
	verts := WireframeVertices(b)
	for i := 0; i < len(verts); i += 2 {
		a := viewProj.MulVec4(math.FromVec3(verts[i], 1))
		c := viewProj.MulVec4(math.FromVec3(verts[i+1], 1))
		drawClippedLine(pixels, width, height, a, c, rgba)
	}
}

func drawClippedLine(pixels []uint8, width, height int, a, b math.Vec4, rgba [4]uint8) {
	const wEps = 1e-6
	// Clip against w > wEps (near plane). Drop the segment if both ends
	// are behind; otherwise slide the behind endpoint to the boundary.
	if a[3] <= wEps && b[3] <= wEps {
		return
	}
	if a[3] <= wEps {
		t := (wEps - a[3]) / (b[3] - a[3])
		a = lerpVec4(a, b, t)
	} else if b[3] <= wEps {
		t := (wEps - b[3]) / (a[3] - b[3])
		b = lerpVec4(b, a, t)
	}

	x0, y0 := ndcToPixel(a, width, height)
	x1, y1 := ndcToPixel(b, width, height)
	drawLine(pixels, width, height, x0, y0, x1, y1, rgba)
}

func lerpVec4(a, b math.Vec4, t float32) math.Vec4 {
	return a.Add(b.Sub(a).Scale(t))
}

func ndcToPixel(v math.Vec4, width, height int) (int, int) {
	inv := 1 / v[3]
	x := (v[0]*inv*0.5 + 0.5) * float32(width)
	y := (1 - (v[1]*inv*0.5 + 0.5)) * float32(height)
	return int(x), int(y)
}

// drawLine rasterizes a line with Bresenham's algorithm, skipping pixels
// outside the buffer.
func drawLine(pixels []uint8, width, height, x0, y0, x1, y1 int, rgba [4]uint8) {
	dx := x1 - x0
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y0
	if dy < 0 {
		dy = -dy
	}
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy
	for {
		if x0 >= 0 && x0 < width && y0 >= 0 && y0 < height {
			off := (y0*width + x0) * 4
			pixels[off] = rgba[0]
			pixels[off+1] = rgba[1]
			pixels[off+2] = rgba[2]
			pixels[off+3] = rgba[3]
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}
