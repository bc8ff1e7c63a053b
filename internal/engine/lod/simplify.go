package lod

import (
	"container/heap"

	"github.com/chewxy/math32"

	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/pkg/math"
)

// quadric is the upper triangle of a symmetric 4x4 error matrix, accumulated
// in float64 so long collapse chains stay stable.
// Layout: xx xy xz xw yy yz yw zz zw ww.
type quadric [10]float64

func planeQuadric(n math.Vec3, d float32) quadric {
	a, b, c, e := float64(n.X), float64(n.Y), float64(n.Z), float64(d)
	return quadric{
		a * a, a * b, a * c, a * e,
		b * b, b * c, b * e,
		c * c, c * e,
		e * e,
	}
}

func (q *quadric) add(o *quadric) {
	for i := range q {
		q[i] += o[i]
	}
}

// eval computes vᵀQv for v = (p, 1); the squared distance sum to the
// accumulated planes. Clamped at zero since rounding can push it negative.
func (q *quadric) eval(p math.Vec3) float64 {
	x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
	v := q[0]*x*x + 2*q[1]*x*y + 2*q[2]*x*z + 2*q[3]*x +
		q[4]*y*y + 2*q[5]*y*z + 2*q[6]*y +
		q[7]*z*z + 2*q[8]*z +
		q[9]
	if v < 0 {
		return 0
	}
	return v
}

// placement picks where the collapsed vertex lands.
type placement uint8

const (
	placeV0 placement = iota
	placeV1
	placeMid
)

type candidate struct {
	cost   float64
	target math.Vec3
	place  placement
	v0, v1 uint32
	g0, g1 uint32 // vertex generations at push time; stale entries are skipped
}

type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// simplifier holds the mutable collapse state for one level.
type simplifier struct {
	pos      []math.Vec3
	nrm      []math.Vec3
	tan      []math.Vec3
	uv       []math.Vec2
	tris     [][3]uint32
	triAlive []bool
	vertTris [][]int // vertex -> incident triangle indices, merged on collapse
	alive    []bool
	gen      []uint32
	quadrics []quadric
	liveTris int

	metric  CollapseMetric
	flipCos float32 // collapse rejected when a face normal rotates past this
	queue   candidateHeap
}

func newSimplifier(src *mesh.Mesh, metric CollapseMetric, maxNormalFlip float32) *simplifier {
	nv := src.VertexCount()
	nt := src.TriangleCount()
	s := &simplifier{
		pos:      append([]math.Vec3(nil), src.Positions...),
		tris:     make([][3]uint32, nt),
		triAlive: make([]bool, nt),
		vertTris: make([][]int, nv),
		alive:    make([]bool, nv),
		gen:      make([]uint32, nv),
		quadrics: make([]quadric, nv),
		liveTris: nt,
		metric:   metric,
		flipCos:  math32.Cos(maxNormalFlip * math32.Pi / 180),
	}
	if len(src.Normals) > 0 {
		s.nrm = append([]math.Vec3(nil), src.Normals...)
	}
	if len(src.Tangents) > 0 {
		s.tan = append([]math.Vec3(nil), src.Tangents...)
	}
	if len(src.UVs) > 0 {
		s.uv = append([]math.Vec2(nil), src.UVs...)
	}
	for i := range s.alive {
		s.alive[i] = true
	}
	for t := 0; t < nt; t++ {
		a, b, c := src.Triangle(t)
		s.tris[t] = [3]uint32{a, b, c}
		s.triAlive[t] = true
		s.vertTris[a] = append(s.vertTris[a], t)
		s.vertTris[b] = append(s.vertTris[b], t)
		s.vertTris[c] = append(s.vertTris[c], t)
		if n, ok := faceNormal(s.pos[a], s.pos[b], s.pos[c]); ok {
			d := -n.Dot(s.pos[a])
			q := planeQuadric(n, d)
			s.quadrics[a].add(&q)
			s.quadrics[b].add(&q)
			s.quadrics[c].add(&q)
		}
	}
	s.seedQueue()
	return s
}

func faceNormal(a, b, c math.Vec3) (math.Vec3, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.LengthSq() < 1e-20 {
		return math.Vec3{}, false
	}
	return n.Normalize(), true
}

func edgeKey(a, b uint32) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 | uint64(b)
}

func (s *simplifier) seedQueue() {
	seen := make(map[uint64]struct{}, s.liveTris*3/2)
	for t, tri := range s.tris {
		if !s.triAlive[t] {
			continue
		}
		for e := 0; e < 3; e++ {
			a, b := tri[e], tri[(e+1)%3]
			k := edgeKey(a, b)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			s.pushCandidate(a, b)
		}
	}
}

func (s *simplifier) pushCandidate(v0, v1 uint32) {
	c := candidate{v0: v0, v1: v1, g0: s.gen[v0], g1: s.gen[v1]}
	p0, p1 := s.pos[v0], s.pos[v1]
	mid := p0.Lerp(p1, 0.5)
	switch s.metric {
	case MetricEdgeLength:
		c.cost = float64(p1.Sub(p0).LengthSq())
		c.target, c.place = mid, placeMid
	default:
		var q quadric
		q = s.quadrics[v0]
		q.add(&s.quadrics[v1])
		c.cost, c.target, c.place = q.eval(p0), p0, placeV0
		if e := q.eval(p1); e < c.cost {
			c.cost, c.target, c.place = e, p1, placeV1
		}
		if e := q.eval(mid); e < c.cost {
			c.cost, c.target, c.place = e, mid, placeMid
		}
	}
	heap.Push(&s.queue, c)
}

// edgeLive reports whether v0 and v1 still share a live triangle.
func (s *simplifier) edgeLive(v0, v1 uint32) bool {
	for _, t := range s.vertTris[v0] {
		if !s.triAlive[t] {
			continue
		}
		tri := s.tris[t]
		if tri[0] == v1 || tri[1] == v1 || tri[2] == v1 {
			return true
		}
	}
	return false
}

// wouldFlip checks every live face touching exactly one endpoint: moving that
// endpoint to target must not rotate the face normal past the threshold or
// degenerate the face.
func (s *simplifier) wouldFlip(v0, v1 uint32, target math.Vec3) bool {
	for _, vi := range [2]uint32{v0, v1} {
		for _, t := range s.vertTris[vi] {
			if !s.triAlive[t] {
				continue
			}
			tri := s.tris[t]
			has0 := tri[0] == v0 || tri[1] == v0 || tri[2] == v0
			has1 := tri[0] == v1 || tri[1] == v1 || tri[2] == v1
			if has0 && has1 {
				continue // face collapses away with the edge
			}
			var before, after [3]math.Vec3
			for i := 0; i < 3; i++ {
				before[i] = s.pos[tri[i]]
				if tri[i] == vi {
					after[i] = target
				} else {
					after[i] = before[i]
				}
			}
			n0, ok0 := faceNormal(before[0], before[1], before[2])
			if !ok0 {
				continue
			}
			n1, ok1 := faceNormal(after[0], after[1], after[2])
			if !ok1 || n0.Dot(n1) < s.flipCos {
				return true
			}
		}
	}
	return false
}

// collapse merges v1 into v0 at target and returns the triangles removed.
func (s *simplifier) collapse(c candidate) int {
	v0, v1 := c.v0, c.v1
	s.pos[v0] = c.target
	s.blendAttributes(v0, v1, c.place)
	s.quadrics[v0].add(&s.quadrics[v1])

	removed := 0
	for _, t := range s.vertTris[v1] {
		if !s.triAlive[t] {
			continue
		}
		tri := &s.tris[t]
		has0 := tri[0] == v0 || tri[1] == v0 || tri[2] == v0
		if has0 {
			s.triAlive[t] = false
			removed++
			continue
		}
		for i := 0; i < 3; i++ {
			if tri[i] == v1 {
				tri[i] = v0
			}
		}
		s.vertTris[v0] = append(s.vertTris[v0], t)
	}
	s.alive[v1] = false
	s.gen[v0]++
	s.liveTris -= removed

	// Filter dead incidences and drop faces the move degenerated.
	live := s.vertTris[v0][:0]
	for _, t := range s.vertTris[v0] {
		if !s.triAlive[t] {
			continue
		}
		tri := s.tris[t]
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			s.triAlive[t] = false
			s.liveTris--
			continue
		}
		live = append(live, t)
	}
	s.vertTris[v0] = live
	s.vertTris[v1] = nil

	// Refresh candidates around the merged vertex.
	seen := make(map[uint32]struct{}, len(live)*2)
	for _, t := range live {
		for _, vi := range s.tris[t] {
			if vi == v0 {
				continue
			}
			if _, ok := seen[vi]; ok {
				continue
			}
			seen[vi] = struct{}{}
			s.pushCandidate(v0, vi)
		}
	}
	return removed
}

func (s *simplifier) blendAttributes(v0, v1 uint32, place placement) {
	switch place {
	case placeV0:
		return
	case placeV1:
		if s.nrm != nil {
			s.nrm[v0] = s.nrm[v1]
		}
		if s.tan != nil {
			s.tan[v0] = s.tan[v1]
		}
		if s.uv != nil {
			s.uv[v0] = s.uv[v1]
		}
	case placeMid:
		if s.nrm != nil {
			n := s.nrm[v0].Lerp(s.nrm[v1], 0.5)
			if n.LengthSq() > 1e-12 {
				n = n.Normalize()
			}
			s.nrm[v0] = n
		}
		if s.tan != nil {
			t := s.tan[v0].Lerp(s.tan[v1], 0.5)
			if t.LengthSq() > 1e-12 {
				t = t.Normalize()
			}
			s.tan[v0] = t
		}
		if s.uv != nil {
			s.uv[v0] = s.uv[v0].Lerp(s.uv[v1], 0.5)
		}
	}
}

// run collapses edges until the live triangle count reaches target or the
// queue runs dry, and returns the largest committed collapse error.
func (s *simplifier) run(target int) float32 {
	var maxErr float64
	for s.liveTris > target && s.queue.Len() > 0 {
		c := heap.Pop(&s.queue).(candidate)
		if !s.alive[c.v0] || !s.alive[c.v1] {
			continue
		}
		if s.gen[c.v0] != c.g0 || s.gen[c.v1] != c.g1 {
			continue // stale; a fresher candidate for this edge is queued
		}
		if !s.edgeLive(c.v0, c.v1) {
			continue
		}
		if s.wouldFlip(c.v0, c.v1, c.target) {
			continue
		}
		if s.collapse(c) > 0 && c.cost > maxErr {
			maxErr = c.cost
		}
	}
	return math32.Sqrt(float32(maxErr))
}

// extract compacts the live geometry into a fresh mesh.
func (s *simplifier) extract() *mesh.Mesh {
	remap := make(map[uint32]uint32, len(s.pos)/2)
	out := &mesh.Mesh{}
	for t, tri := range s.tris {
		if !s.triAlive[t] {
			continue
		}
		for _, v := range tri {
			nv, ok := remap[v]
			if !ok {
				nv = uint32(len(out.Positions))
				remap[v] = nv
				out.Positions = append(out.Positions, s.pos[v])
				if s.nrm != nil {
					out.Normals = append(out.Normals, s.nrm[v])
				}
				if s.tan != nil {
					out.Tangents = append(out.Tangents, s.tan[v])
				}
				if s.uv != nil {
					out.UVs = append(out.UVs, s.uv[v])
				}
			}
			out.Indices = append(out.Indices, nv)
		}
	}
	return out
}

// Simplify reduces src to at most targetTris triangles and returns the
// decimated mesh with the geometric error bound of the applied collapses.
// When the candidate queue exhausts before the target is reached the result
// keeps whatever reduction was achieved.
func Simplify(src *mesh.Mesh, targetTris int, metric CollapseMetric, maxNormalFlip float32) (*mesh.Mesh, float32) {
	if targetTris < 1 {
		targetTris = 1
	}
	s := newSimplifier(src, metric, maxNormalFlip)
	errBound := s.run(targetTris)
	return s.extract(), errBound
}
