package math

import "testing"

func TestEmptyAABBExtend(t *testing.T) {
	b := EmptyAABB()
	if !b.IsEmpty() {
		t.Error("EmptyAABB should report empty")
	}

	b = b.Extend(Vec3{1, 2, 3})
	if b.IsEmpty() {
		t.Error("box should not be empty after extending")
	}
	if b.Min != (Vec3{1, 2, 3}) || b.Max != (Vec3{1, 2, 3}) {
		t.Errorf("single-point box: got min %v max %v", b.Min, b.Max)
	}

	b = b.Extend(Vec3{-1, 5, 0})
	want := AABB{Min: Vec3{-1, 2, 0}, Max: Vec3{1, 5, 3}}
	if b != want {
		t.Errorf("Extend: got %v, want %v", b, want)
	}
}

func TestAABBCenter(t *testing.T) {
	b := AABB{Min: Vec3{-2, -2, -2}, Max: Vec3{2, 2, 2}}
	if b.Center() != (Vec3{0, 0, 0}) {
		t.Errorf("Center: got %v, want origin", b.Center())
	}
	if b.HalfExtent() != (Vec3{2, 2, 2}) {
		t.Errorf("HalfExtent: got %v, want (2,2,2)", b.HalfExtent())
	}
}

func TestBoundingSphereContainsCorners(t *testing.T) {
	b := AABB{Min: Vec3{0, 0, 0}, Max: Vec3{2, 2, 2}}
	s := b.BoundingSphere()

	corners := []Vec3{
		{0, 0, 0}, {2, 0, 0}, {0, 2, 0}, {0, 0, 2},
		{2, 2, 0}, {2, 0, 2}, {0, 2, 2}, {2, 2, 2},
	}
	for _, c := range corners {
		d := c.Sub(s.Center).Length()
		if d > s.Radius+0.0001 {
			t.Errorf("corner %v outside bounding sphere (d=%f r=%f)", c, d, s.Radius)
		}
	}
}

func TestSphereUnion(t *testing.T) {
	a := Sphere{Center: Vec3{0, 0, 0}, Radius: 1}
	b := Sphere{Center: Vec3{4, 0, 0}, Radius: 1}
	u := a.Union(b)

	if u.Radius < 3-0.001 || u.Radius > 3+0.001 {
		t.Errorf("union radius: got %f, want 3", u.Radius)
	}

	// A sphere contained in the other should return the larger one unchanged.
	inner := Sphere{Center: Vec3{0.5, 0, 0}, Radius: 0.1}
	big := Sphere{Center: Vec3{0, 0, 0}, Radius: 2}
	if got := big.Union(inner); got != big {
		t.Errorf("union with contained sphere: got %v, want %v", got, big)
	}
}
