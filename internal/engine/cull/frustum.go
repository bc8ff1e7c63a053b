// Package cull selects the meshlets a camera can see: frustum and backface
// cone rejection plus a screen-space error cut through the LOD hierarchy.
package cull

import (
	"errors"

	"github.com/veldtgfx/veldt/pkg/math"
)

// ErrDegenerateMatrix marks a view-projection whose clip planes cannot be
// normalized. Callers should fall back to rendering everything.
var ErrDegenerateMatrix = errors.New("degenerate view-projection matrix")

// Plane is normal·p + D = 0 with the normal pointing inside the frustum.
type Plane struct {
	Normal math.Vec3
	D      float32
}

// Distance returns the signed distance of a point; negative is outside.
func (p Plane) Distance(pt math.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum holds the six clip planes: left, right, bottom, top, near, far.
type Frustum [6]Plane

// FrustumFromViewProj extracts the clip planes from a combined
// view-projection matrix, Gribb/Hartmann style: each plane is the fourth
// clip row plus or minus one of the first three.
func FrustumFromViewProj(vp math.Mat4) (Frustum, error) {
	r0, r1, r2, r3 := vp.Row(0), vp.Row(1), vp.Row(2), vp.Row(3)

	rows := [6]math.Vec4{
		r3.Add(r0), // left
		r3.Sub(r0), // right
		r3.Add(r1), // bottom
		r3.Sub(r1), // top
		r3.Add(r2), // near
		r3.Sub(r2), // far
	}

	var f Frustum
	for i, r := range rows {
		n := r.XYZ()
		l := n.Length()
		if l < 1e-8 || !n.IsFinite() {
			return Frustum{}, ErrDegenerateMatrix
		}
		f[i] = Plane{Normal: n.Scale(1 / l), D: r[3] / l}
	}
	return f, nil
}

// IntersectsAABB is the p-vertex test: for each plane, check the box corner
// furthest along the plane normal. Conservative, never rejects a visible box.
func (f *Frustum) IntersectsAABB(b math.AABB) bool {
	for _, p := range f {
		v := b.Min
		if p.Normal.X >= 0 {
			v.X = b.Max.X
		}
		if p.Normal.Y >= 0 {
			v.Y = b.Max.Y
		}
		if p.Normal.Z >= 0 {
			v.Z = b.Max.Z
		}
		if p.Distance(v) < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether a bounding sphere touches the frustum.
func (f *Frustum) IntersectsSphere(s math.Sphere) bool {
	for _, p := range f {
		if p.Distance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
