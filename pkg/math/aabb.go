package math

import "github.com/chewxy/math32"

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max Vec3
}

// EmptyAABB returns an inverted box that extends to nothing.
// Extending it with any point yields that point.
func EmptyAABB() AABB {
	inf := math32.Inf(1)
	return AABB{
		Min: Vec3{inf, inf, inf},
		Max: Vec3{-inf, -inf, -inf},
	}
}

// Extend grows the box to include point p.
func (b AABB) Extend(p Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union returns the smallest box containing both boxes.
func (b AABB) Union(other AABB) AABB {
	return AABB{Min: b.Min.Min(other.Min), Max: b.Max.Max(other.Max)}
}

// Center returns the box center.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// HalfExtent returns half the box size per axis.
func (b AABB) HalfExtent() Vec3 {
	return b.Max.Sub(b.Min).Scale(0.5)
}

// IsEmpty reports whether the box is inverted (never extended).
func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// BoundingSphere returns the sphere circumscribing the box.
func (b AABB) BoundingSphere() Sphere {
	c := b.Center()
	return Sphere{Center: c, Radius: b.Max.Sub(c).Length()}
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center Vec3
	Radius float32
}

// Union returns a sphere containing both spheres.
func (s Sphere) Union(other Sphere) Sphere {
	d := other.Center.Sub(s.Center).Length()
	if d+other.Radius <= s.Radius {
		return s
	}
	if d+s.Radius <= other.Radius {
		return other
	}
	r := (d + s.Radius + other.Radius) / 2
	t := (r - s.Radius) / d
	return Sphere{Center: s.Center.Lerp(other.Center, t), Radius: r}
}
