package mesh

import (
	"errors"
	"testing"

	"github.com/veldtgfx/veldt/pkg/math"
)

func TestValidateCube(t *testing.T) {
	m := Cube(1)
	if err := m.Validate(); err != nil {
		t.Fatalf("cube should validate: %v", err)
	}
	if m.VertexCount() != 8 {
		t.Errorf("expected 8 vertices, got %d", m.VertexCount())
	}
	if m.TriangleCount() != 12 {
		t.Errorf("expected 12 triangles, got %d", m.TriangleCount())
	}
}

func TestValidateBadIndexCount(t *testing.T) {
	m := &Mesh{
		Positions: []math.Vec3{{}, {X: 1}, {Y: 1}},
		Indices:   []uint32{0, 1},
	}
	if err := m.Validate(); !errors.Is(err, ErrBadIndexCount) {
		t.Errorf("expected ErrBadIndexCount, got %v", err)
	}
}

func TestValidateIndexOutOfRange(t *testing.T) {
	m := &Mesh{
		Positions: []math.Vec3{{}, {X: 1}, {Y: 1}},
		Indices:   []uint32{0, 1, 5},
	}
	if err := m.Validate(); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestValidateAttributeLength(t *testing.T) {
	m := &Mesh{
		Positions: []math.Vec3{{}, {X: 1}, {Y: 1}},
		Normals:   []math.Vec3{{}},
		Indices:   []uint32{0, 1, 2},
	}
	if err := m.Validate(); !errors.Is(err, ErrAttributeLength) {
		t.Errorf("expected ErrAttributeLength, got %v", err)
	}
}

func TestFaceNormalDegenerate(t *testing.T) {
	m := &Mesh{
		Positions: []math.Vec3{{}, {}, {Y: 1}}, // first two vertices coincide
		Indices:   []uint32{0, 1, 2},
	}
	if _, ok := m.FaceNormal(0); ok {
		t.Error("expected degenerate triangle to report ok=false")
	}
}

func TestUVSphereValid(t *testing.T) {
	m := UVSphere(1, 8, 12)
	if err := m.Validate(); err != nil {
		t.Fatalf("sphere should validate: %v", err)
	}

	// All vertices should lie on the sphere.
	for i, p := range m.Positions {
		l := p.Length()
		if l < 0.999 || l > 1.001 {
			t.Fatalf("vertex %d at radius %f, expected 1", i, l)
		}
	}
}

func TestGridBounds(t *testing.T) {
	m := Grid(10, 16)
	if err := m.Validate(); err != nil {
		t.Fatalf("grid should validate: %v", err)
	}
	b := m.Bounds()
	if b.Min.X != -5 || b.Max.X != 5 {
		t.Errorf("expected X bounds [-5,5], got [%f,%f]", b.Min.X, b.Max.X)
	}
	if m.TriangleCount() != 16*16*2 {
		t.Errorf("expected %d triangles, got %d", 16*16*2, m.TriangleCount())
	}
}
