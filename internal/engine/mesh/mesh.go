// Package mesh defines the input triangle mesh handed over by the asset
// import boundary. Attribute arrays are parallel: one entry per vertex.
package mesh

import (
	"errors"
	"fmt"

	"github.com/veldtgfx/veldt/pkg/math"
)

// Mesh errors.
var (
	ErrBadIndexCount   = errors.New("index count is not a multiple of 3")
	ErrIndexOutOfRange = errors.New("index value exceeds vertex count")
	ErrAttributeLength = errors.New("attribute array length mismatch")
	ErrNoGeometry      = errors.New("mesh has no triangles")
)

// Mesh is a triangle mesh with per-vertex attributes.
// Normals, Tangents and UVs may be empty; Positions and Indices are required.
type Mesh struct {
	Positions []math.Vec3
	Normals   []math.Vec3
	Tangents  []math.Vec3
	UVs       []math.Vec2
	Indices   []uint32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Validate checks the structural invariants: triangle count = index count / 3,
// all index values < vertex count, and attribute arrays (when present) match
// the position array length.
func (m *Mesh) Validate() error {
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices", ErrBadIndexCount, len(m.Indices))
	}
	if len(m.Indices) == 0 {
		return ErrNoGeometry
	}
	n := uint32(len(m.Positions))
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("%w: index %d at position %d (vertex count %d)", ErrIndexOutOfRange, idx, i, n)
		}
	}
	for name, l := range map[string]int{
		"normals":  len(m.Normals),
		"tangents": len(m.Tangents),
		"uvs":      len(m.UVs),
	} {
		if l != 0 && l != len(m.Positions) {
			return fmt.Errorf("%w: %s has %d entries, want %d", ErrAttributeLength, name, l, len(m.Positions))
		}
	}
	return nil
}

// Triangle returns the three vertex indices of triangle t.
func (m *Mesh) Triangle(t int) (uint32, uint32, uint32) {
	return m.Indices[t*3], m.Indices[t*3+1], m.Indices[t*3+2]
}

// Centroid returns the centroid of triangle t.
func (m *Mesh) Centroid(t int) math.Vec3 {
	a, b, c := m.Triangle(t)
	return m.Positions[a].Add(m.Positions[b]).Add(m.Positions[c]).Scale(1.0 / 3.0)
}

// FaceNormal returns the unit normal of triangle t.
// ok is false for degenerate triangles (zero area, duplicate or NaN vertices).
func (m *Mesh) FaceNormal(t int) (normal math.Vec3, ok bool) {
	a, b, c := m.Triangle(t)
	pa, pb, pc := m.Positions[a], m.Positions[b], m.Positions[c]
	n := pb.Sub(pa).Cross(pc.Sub(pa))
	l := n.Length()
	if l < 1e-12 || !n.IsFinite() {
		return math.Vec3{}, false
	}
	return n.Scale(1 / l), true
}

// Bounds returns the AABB over all vertex positions.
func (m *Mesh) Bounds() math.AABB {
	b := math.EmptyAABB()
	for _, p := range m.Positions {
		b = b.Extend(p)
	}
	return b
}
