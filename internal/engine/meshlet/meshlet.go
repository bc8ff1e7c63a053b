// Package meshlet partitions triangle meshes into bounded-size clusters,
// the atomic unit of culling and rasterization.
package meshlet

import (
	"errors"

	"github.com/veldtgfx/veldt/pkg/math"
)

// Preprocessing errors.
var (
	ErrBoundTooLarge = errors.New("meshlet vertex bound exceeds 256 (local indices are bytes)")
	ErrBoundTooSmall = errors.New("meshlet bounds must allow at least one triangle")
)

// Cone is a conservative backface-culling cone. If the viewing direction
// falls inside the cone the whole meshlet faces away. Cutoff -1 disables the
// test (the meshlet contains degenerate triangles).
type Cone struct {
	Apex   math.Vec3
	Axis   math.Vec3
	Cutoff float32
}

// Meshlet owns a small cluster of triangles. Vertices holds global mesh
// vertex indices; Triangles holds meshlet-local byte indices, 3 per triangle.
type Meshlet struct {
	Vertices  []uint32
	Triangles []uint8

	Bounds math.AABB
	Cone   Cone

	// LOD fields, filled in by the hierarchy builder. Level 0 is finest;
	// Parent indexes the coarser hierarchy node superseding this meshlet,
	// -1 when none exists.
	Level  int
	Error  float32
	Parent int32
}

// TriangleCount returns the number of triangles in the meshlet.
func (m *Meshlet) TriangleCount() int {
	return len(m.Triangles) / 3
}

// VertexCount returns the number of referenced vertices.
func (m *Meshlet) VertexCount() int {
	return len(m.Vertices)
}

// Config bounds meshlet size. 64 and 128 are the usual choices; anything in
// between works. MaxVertices may not exceed 256.
type Config struct {
	MaxVertices  int
	MaxTriangles int
}

// DefaultConfig returns the 128/128 bound.
func DefaultConfig() Config {
	return Config{MaxVertices: 128, MaxTriangles: 128}
}

func (c Config) validate() error {
	if c.MaxVertices > 256 {
		return ErrBoundTooLarge
	}
	if c.MaxVertices < 3 || c.MaxTriangles < 1 {
		return ErrBoundTooSmall
	}
	return nil
}
