package mesh

import (
	"github.com/chewxy/math32"

	"github.com/veldtgfx/veldt/pkg/math"
)

// Cube returns an axis-aligned cube centered at the origin with the given
// half extent. 8 vertices, 12 triangles, outward CCW winding.
func Cube(half float32) *Mesh {
	h := half
	positions := []math.Vec3{
		{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
		{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
	}
	indices := []uint32{
		// -Z
		0, 2, 1, 0, 3, 2,
		// +Z
		4, 5, 6, 4, 6, 7,
		// -X
		0, 4, 7, 0, 7, 3,
		// +X
		1, 6, 5, 1, 2, 6,
		// -Y
		0, 1, 5, 0, 5, 4,
		// +Y
		3, 6, 2, 3, 7, 6,
	}

	m := &Mesh{
		Positions: positions,
		Normals:   make([]math.Vec3, len(positions)),
		Tangents:  make([]math.Vec3, len(positions)),
		UVs:       make([]math.Vec2, len(positions)),
		Indices:   indices,
	}
	for i, p := range positions {
		m.Normals[i] = p.Normalize()
		m.Tangents[i] = math.Vec3{X: 1}
	}
	return m
}

// UVSphere returns a latitude/longitude sphere centered at the origin.
// rings and segments must both be >= 3.
func UVSphere(radius float32, rings, segments int) *Mesh {
	if rings < 3 {
		rings = 3
	}
	if segments < 3 {
		segments = 3
	}

	m := &Mesh{}
	for r := 0; r <= rings; r++ {
		phi := math32.Pi * float32(r) / float32(rings)
		y := math32.Cos(phi)
		s := math32.Sin(phi)
		for c := 0; c <= segments; c++ {
			theta := 2 * math32.Pi * float32(c) / float32(segments)
			n := math.Vec3{
				X: s * math32.Cos(theta),
				Y: y,
				Z: s * math32.Sin(theta),
			}
			m.Positions = append(m.Positions, n.Scale(radius))
			m.Normals = append(m.Normals, n)
			m.Tangents = append(m.Tangents, math.Vec3{X: -math32.Sin(theta), Z: math32.Cos(theta)})
			m.UVs = append(m.UVs, math.Vec2{
				X: float32(c) / float32(segments),
				Y: float32(r) / float32(rings),
			})
		}
	}

	stride := uint32(segments + 1)
	for r := 0; r < rings; r++ {
		for c := 0; c < segments; c++ {
			i0 := uint32(r)*stride + uint32(c)
			i1 := i0 + 1
			i2 := i0 + stride
			i3 := i2 + 1
			if r > 0 {
				m.Indices = append(m.Indices, i0, i1, i2)
			}
			if r < rings-1 {
				m.Indices = append(m.Indices, i1, i3, i2)
			}
		}
	}
	return m
}

// Grid returns a flat subdivided plane in the XZ plane, size units across,
// with n x n quads. Useful as dense simplification input.
func Grid(size float32, n int) *Mesh {
	if n < 1 {
		n = 1
	}
	m := &Mesh{}
	step := size / float32(n)
	half := size / 2
	for z := 0; z <= n; z++ {
		for x := 0; x <= n; x++ {
			m.Positions = append(m.Positions, math.Vec3{
				X: -half + float32(x)*step,
				Z: -half + float32(z)*step,
			})
			m.Normals = append(m.Normals, math.Vec3{Y: 1})
			m.Tangents = append(m.Tangents, math.Vec3{X: 1})
			m.UVs = append(m.UVs, math.Vec2{
				X: float32(x) / float32(n),
				Y: float32(z) / float32(n),
			})
		}
	}
	stride := uint32(n + 1)
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			i0 := uint32(z)*stride + uint32(x)
			i1 := i0 + 1
			i2 := i0 + stride
			i3 := i2 + 1
			m.Indices = append(m.Indices, i0, i2, i1, i1, i2, i3)
		}
	}
	return m
}
