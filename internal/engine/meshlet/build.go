package meshlet

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/pkg/math"
)

// Lloyd refinement rounds before the capped assignment pass. Fixed so the
// result is reproducible.
const kmeansRounds = 6

// Build partitions src into meshlets within cfg's bounds. Every triangle of
// src lands in exactly one meshlet; the output is deterministic for a given
// input (spatial-hash seeding, no randomness).
func Build(src *mesh.Mesh, cfg Config) ([]Meshlet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	triCount := src.TriangleCount()
	centroids := make([]math.Vec3, triCount)
	degenerate := make([]bool, triCount)
	for t := 0; t < triCount; t++ {
		centroids[t] = src.Centroid(t)
		_, ok := src.FaceNormal(t)
		degenerate[t] = !ok
	}

	// Spatially sorted triangle order: Morton code of the quantized centroid.
	// Seeding and greedy assignment both walk this order, which is what makes
	// the whole build reproducible.
	order := spatialOrder(src.Bounds(), centroids)

	k := (triCount + cfg.MaxTriangles - 1) / cfg.MaxTriangles
	seeds := make([]math.Vec3, 0, k)
	for i := 0; i < k; i++ {
		seeds = append(seeds, centroids[order[i*triCount/k]])
	}

	seeds = refineSeeds(seeds, centroids)

	clusters := assign(src, centroids, order, seeds, cfg)

	out := make([]Meshlet, 0, len(clusters))
	for _, c := range clusters {
		if len(c.tris) == 0 {
			continue
		}
		out = append(out, finish(src, c, degenerate))
	}
	return out, nil
}

type cluster struct {
	centroid math.Vec3
	tris     []int
	local    map[uint32]uint8 // global vertex -> local index
	verts    []uint32
}

func newCluster(centroid math.Vec3) *cluster {
	return &cluster{
		centroid: centroid,
		local:    make(map[uint32]uint8),
	}
}

// room reports whether the cluster can take triangle t without breaking the
// size bound.
func (c *cluster) room(src *mesh.Mesh, t int, cfg Config) bool {
	if len(c.tris) >= cfg.MaxTriangles {
		return false
	}
	a, b, d := src.Triangle(t)
	verts := [3]uint32{a, b, d}
	added := 0
	for i, v := range verts {
		// A degenerate triangle can repeat a vertex; count uniques only.
		dup := false
		for j := 0; j < i; j++ {
			if verts[j] == v {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if _, ok := c.local[v]; !ok {
			added++
		}
	}
	return len(c.verts)+added <= cfg.MaxVertices
}

// take adds triangle t, assigning local indices to unseen vertices.
func (c *cluster) take(src *mesh.Mesh, t int) {
	c.tris = append(c.tris, t)
	a, b, d := src.Triangle(t)
	for _, v := range [3]uint32{a, b, d} {
		if _, ok := c.local[v]; !ok {
			c.local[v] = uint8(len(c.verts))
			c.verts = append(c.verts, v)
		}
	}
}

// spatialOrder returns triangle indices sorted by the Morton code of their
// quantized centroid, ties broken by index.
func spatialOrder(bounds math.AABB, centroids []math.Vec3) []int {
	ext := bounds.Max.Sub(bounds.Min)
	inv := math.Vec3{X: safeInv(ext.X), Y: safeInv(ext.Y), Z: safeInv(ext.Z)}

	keys := make([]uint64, len(centroids))
	for i, c := range centroids {
		n := c.Sub(bounds.Min)
		keys[i] = mortonKey(n.X*inv.X, n.Y*inv.Y, n.Z*inv.Z)
	}

	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if keys[ia] != keys[ib] {
			return keys[ia] < keys[ib]
		}
		return ia < ib
	})
	return order
}

func safeInv(x float32) float32 {
	if x <= 0 {
		return 0
	}
	return 1 / x
}

// mortonKey interleaves 10 bits per normalized axis.
func mortonKey(x, y, z float32) uint64 {
	return spreadBits(quantize10(x))<<2 | spreadBits(quantize10(y))<<1 | spreadBits(quantize10(z))
}

func quantize10(v float32) uint32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint32(v * 1023)
}

// spreadBits spaces the low 10 bits of v two bits apart.
func spreadBits(v uint32) uint64 {
	x := uint64(v) & 0x3FF
	x = (x | x<<16) & 0x30000FF
	x = (x | x<<8) & 0x300F00F
	x = (x | x<<4) & 0x30C30C3
	x = (x | x<<2) & 0x9249249
	return x
}

// refineSeeds runs a fixed number of unconstrained Lloyd rounds.
func refineSeeds(seeds []math.Vec3, centroids []math.Vec3) []math.Vec3 {
	for round := 0; round < kmeansRounds; round++ {
		sums := make([]math.Vec3, len(seeds))
		counts := make([]int, len(seeds))
		for _, c := range centroids {
			best := nearestSeed(seeds, c)
			sums[best] = sums[best].Add(c)
			counts[best]++
		}
		for i := range seeds {
			if counts[i] > 0 {
				seeds[i] = sums[i].Scale(1 / float32(counts[i]))
			}
		}
	}
	return seeds
}

func nearestSeed(seeds []math.Vec3, p math.Vec3) int {
	best, bestD := 0, float32(math32.MaxFloat32)
	for i, s := range seeds {
		d := s.Sub(p).LengthSq()
		if d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// assign walks triangles in spatial order, putting each into the nearest
// cluster with room and spilling into a fresh cluster when every candidate
// is full.
func assign(src *mesh.Mesh, centroids []math.Vec3, order []int, seeds []math.Vec3, cfg Config) []*cluster {
	clusters := make([]*cluster, 0, len(seeds))
	for _, s := range seeds {
		clusters = append(clusters, newCluster(s))
	}

	for _, t := range order {
		var best *cluster
		bestD := float32(math32.MaxFloat32)
		for _, c := range clusters {
			d := c.centroid.Sub(centroids[t]).LengthSq()
			if d < bestD && c.room(src, t, cfg) {
				best, bestD = c, d
			}
		}
		if best == nil {
			best = newCluster(centroids[t])
			clusters = append(clusters, best)
		}
		best.take(src, t)
	}
	return clusters
}

// finish computes bounds and the backface cone for one cluster.
func finish(src *mesh.Mesh, c *cluster, degenerate []bool) Meshlet {
	m := Meshlet{
		Vertices:  c.verts,
		Triangles: make([]uint8, 0, len(c.tris)*3),
		Parent:    -1,
	}

	bounds := math.EmptyAABB()
	apex := math.Vec3{}
	for _, v := range c.verts {
		bounds = bounds.Extend(src.Positions[v])
		apex = apex.Add(src.Positions[v])
	}
	m.Bounds = bounds
	m.Cone.Apex = apex.Scale(1 / float32(len(c.verts)))

	axis := math.Vec3{}
	hasDegenerate := false
	normals := make([]math.Vec3, 0, len(c.tris))
	for _, t := range c.tris {
		a, b, d := src.Triangle(t)
		m.Triangles = append(m.Triangles, c.local[a], c.local[b], c.local[d])

		if degenerate[t] {
			// Kept in the partition but excluded from cone math: a NaN
			// normal would poison the axis.
			hasDegenerate = true
			continue
		}
		n, _ := src.FaceNormal(t)
		normals = append(normals, n)
		axis = axis.Add(n)
	}

	if hasDegenerate || axis.Length() < 1e-6 {
		// Never cull a meshlet we cannot reason about.
		m.Cone.Axis = math.Vec3{Z: 1}
		m.Cone.Cutoff = -1
		return m
	}

	m.Cone.Axis = axis.Normalize()
	cutoff := float32(1)
	for _, n := range normals {
		if d := m.Cone.Axis.Dot(n); d < cutoff {
			cutoff = d
		}
	}
	m.Cone.Cutoff = cutoff
	return m
}
