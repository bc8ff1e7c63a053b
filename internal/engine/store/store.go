// Package store owns the resident geometry pools and the handle table the
// frame loop reads from. Pool memory is stable for the duration of a frame:
// growth and releases are deferred to the frame boundary so rasterizer
// workers can index the pools without locks.
package store

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/meshlet"
	"github.com/veldtgfx/veldt/pkg/formats"
	"github.com/veldtgfx/veldt/pkg/math"
)

// Store errors.
var (
	// ErrInvalidHandle marks a stale or never-issued mesh handle.
	ErrInvalidHandle = errors.New("invalid mesh handle")
	// ErrStoreFull is retryable: the registration did not fit the current
	// pools and growth has been queued for the next frame boundary.
	ErrStoreFull = errors.New("geometry store full, growth pending")
)

// Handle identifies a registered mesh. The generation detects use after
// retire: a slot reuse bumps it, so stale handles fail validation instead of
// reading someone else's geometry.
type Handle struct {
	Index      uint32
	Generation uint32
}

// PoolKind identifies one of the device-mirrored pools.
type PoolKind uint8

const (
	// PoolVertices covers the four vertex attribute streams, which share
	// one allocator and move together.
	PoolVertices PoolKind = iota
	PoolVertexRefs
	PoolTriangles
)

// Uploader mirrors pool contents to a rendering backend. Nil is valid; the
// software path reads the pools directly.
type Uploader interface {
	// Resize re-allocates the device-side buffer for a pool, in elements
	// (vertices for PoolVertices, refs for PoolVertexRefs, triangles for
	// PoolTriangles).
	Resize(kind PoolKind, capacity int) error
	// UploadRange copies one pool span to the device.
	UploadRange(kind PoolKind, r Range) error
}

// MeshletDesc is the resident meshlet record. Offsets address the store's
// shared pools, already rebased from the pack-local offsets.
type MeshletDesc struct {
	VertexOffset   uint32
	VertexCount    uint32
	TriangleOffset uint32 // in triangles; 3 bytes each in the triangle pool
	TriangleCount  uint32
	Bounds         math.AABB
	Cone           meshlet.Cone
	Level          uint32
	Error          float32
}

// NodeDesc is one resident LOD hierarchy node.
type NodeDesc struct {
	Level    uint32
	Error    float32
	Sphere   math.Sphere
	Meshlets []uint32 // indices into MeshDesc.Meshlets
	Children []uint32 // lower-numbered node indices
}

// MeshDesc is everything the frame loop needs to cull and rasterize one mesh.
type MeshDesc struct {
	Meshlets []MeshletDesc
	Nodes    []NodeDesc
	Bounds   math.Sphere
	Levels   int

	vertRange Range // in vertices
	refRange  Range
	triRange  Range // in triangles
}

type slot struct {
	generation uint32
	live       bool
	desc       MeshDesc
}

// Config sets the initial pool capacities, in elements.
type Config struct {
	VertexCapacity   int
	RefCapacity      int
	TriangleCapacity int
}

// DefaultConfig returns pool sizes suited to a handful of medium meshes.
func DefaultConfig() Config {
	return Config{
		VertexCapacity:   1 << 16,
		RefCapacity:      1 << 17,
		TriangleCapacity: 1 << 17,
	}
}

// Store is safe for concurrent registration; frame-loop reads of the pool
// slices are lock-free and rely on the frame fence.
type Store struct {
	mu       sync.Mutex
	log      *zap.Logger
	uploader Uploader
	inFrame  bool

	slots     []slot
	freeSlots []uint32

	vertAlloc rangeAlloc
	refAlloc  rangeAlloc
	triAlloc  rangeAlloc

	positions     []float32 // 3 per vertex
	normals       []float32
	tangents      []float32
	uvs           []float32 // 2 per vertex
	vertexRefs    []uint32  // global vertex indices
	triangleVerts []uint8   // 3 meshlet-local indices per triangle

	pendingFree []MeshDesc
	growVerts   int
	growRefs    int
	growTris    int
}

// New creates a store with the given pool capacities. uploader may be nil.
func New(cfg Config, uploader Uploader, log *zap.Logger) (*Store, error) {
	if cfg.VertexCapacity < 1 || cfg.RefCapacity < 1 || cfg.TriangleCapacity < 1 {
		return nil, fmt.Errorf("store pool capacities must be positive")
	}
	s := &Store{
		log:           log,
		uploader:      uploader,
		vertAlloc:     newRangeAlloc(cfg.VertexCapacity),
		refAlloc:      newRangeAlloc(cfg.RefCapacity),
		triAlloc:      newRangeAlloc(cfg.TriangleCapacity),
		positions:     make([]float32, cfg.VertexCapacity*3),
		normals:       make([]float32, cfg.VertexCapacity*3),
		tangents:      make([]float32, cfg.VertexCapacity*3),
		uvs:           make([]float32, cfg.VertexCapacity*2),
		vertexRefs:    make([]uint32, cfg.RefCapacity),
		triangleVerts: make([]uint8, cfg.TriangleCapacity*3),
	}
	if uploader != nil {
		for kind, capacity := range map[PoolKind]int{
			PoolVertices:   cfg.VertexCapacity,
			PoolVertexRefs: cfg.RefCapacity,
			PoolTriangles:  cfg.TriangleCapacity,
		} {
			if err := uploader.Resize(kind, capacity); err != nil {
				return nil, fmt.Errorf("initial pool upload: %w", err)
			}
		}
	}
	return s, nil
}

// BeginFrame fences the pools: until EndFrame, registrations only use free
// space already present and releases are queued.
func (s *Store) BeginFrame() {
	s.mu.Lock()
	s.inFrame = true
	s.mu.Unlock()
}

// EndFrame lifts the fence: queued releases and pool growth happen here,
// while nothing is reading the pools.
func (s *Store) EndFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFrame = false

	for _, d := range s.pendingFree {
		s.vertAlloc.release(d.vertRange)
		s.refAlloc.release(d.refRange)
		s.triAlloc.release(d.triRange)
	}
	s.pendingFree = s.pendingFree[:0]

	if err := s.applyGrowth(); err != nil {
		return err
	}
	return nil
}

func (s *Store) applyGrowth() error {
	if s.growVerts > s.vertAlloc.capacity {
		newCap := doubled(s.vertAlloc.capacity, s.growVerts)
		s.positions = growFloats(s.positions, newCap*3)
		s.normals = growFloats(s.normals, newCap*3)
		s.tangents = growFloats(s.tangents, newCap*3)
		s.uvs = growFloats(s.uvs, newCap*2)
		s.vertAlloc.grow(newCap)
		if err := s.reupload(PoolVertices, newCap); err != nil {
			return err
		}
		s.log.Info("grew vertex pool", zap.Int("capacity", newCap))
	}
	if s.growRefs > s.refAlloc.capacity {
		newCap := doubled(s.refAlloc.capacity, s.growRefs)
		refs := make([]uint32, newCap)
		copy(refs, s.vertexRefs)
		s.vertexRefs = refs
		s.refAlloc.grow(newCap)
		if err := s.reupload(PoolVertexRefs, newCap); err != nil {
			return err
		}
		s.log.Info("grew vertex ref pool", zap.Int("capacity", newCap))
	}
	if s.growTris > s.triAlloc.capacity {
		newCap := doubled(s.triAlloc.capacity, s.growTris)
		tris := make([]uint8, newCap*3)
		copy(tris, s.triangleVerts)
		s.triangleVerts = tris
		s.triAlloc.grow(newCap)
		if err := s.reupload(PoolTriangles, newCap); err != nil {
			return err
		}
		s.log.Info("grew triangle pool", zap.Int("capacity", newCap))
	}
	s.growVerts, s.growRefs, s.growTris = 0, 0, 0
	return nil
}

func (s *Store) reupload(kind PoolKind, capacity int) error {
	if s.uploader == nil {
		return nil
	}
	if err := s.uploader.Resize(kind, capacity); err != nil {
		return err
	}
	return s.uploader.UploadRange(kind, Range{Offset: 0, Count: capacity})
}

func doubled(capacity, need int) int {
	for capacity < need {
		capacity *= 2
	}
	return capacity
}

func growFloats(old []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, old)
	return out
}

// RegisterMesh copies a parsed pack into the pools and returns its handle.
// Mid-frame, a registration that does not fit queues growth and fails with
// ErrStoreFull; retry after the frame boundary.
func (s *Store) RegisterMesh(pack *formats.MPK) (Handle, error) {
	nv := pack.VertexCount()
	nr := len(pack.VertexRefs)
	nt := len(pack.TriangleVerts) / 3

	s.mu.Lock()
	defer s.mu.Unlock()

	vertOff, okV := s.vertAlloc.take(nv)
	refOff, okR := s.refAlloc.take(nr)
	triOff, okT := s.triAlloc.take(nt)
	if !okV || !okR || !okT {
		if okV {
			s.vertAlloc.release(Range{Offset: vertOff, Count: nv})
		}
		if okR {
			s.refAlloc.release(Range{Offset: refOff, Count: nr})
		}
		if okT {
			s.triAlloc.release(Range{Offset: triOff, Count: nt})
		}
		s.requestGrowth(nv, nr, nt)
		if s.inFrame {
			return Handle{}, ErrStoreFull
		}
		if err := s.applyGrowth(); err != nil {
			return Handle{}, err
		}
		vertOff, okV = s.vertAlloc.take(nv)
		refOff, okR = s.refAlloc.take(nr)
		triOff, okT = s.triAlloc.take(nt)
		if !okV || !okR || !okT {
			return Handle{}, ErrStoreFull
		}
	}

	copy(s.positions[vertOff*3:], pack.Positions)
	copy(s.normals[vertOff*3:], pack.Normals)
	copy(s.tangents[vertOff*3:], pack.Tangents)
	copy(s.uvs[vertOff*2:], pack.UVs)
	for i, ref := range pack.VertexRefs {
		s.vertexRefs[refOff+i] = ref + uint32(vertOff)
	}
	copy(s.triangleVerts[triOff*3:], pack.TriangleVerts)

	if s.uploader != nil {
		uploads := []struct {
			kind PoolKind
			r    Range
		}{
			{PoolVertices, Range{Offset: vertOff, Count: nv}},
			{PoolVertexRefs, Range{Offset: refOff, Count: nr}},
			{PoolTriangles, Range{Offset: triOff, Count: nt}},
		}
		for _, u := range uploads {
			if err := s.uploader.UploadRange(u.kind, u.r); err != nil {
				return Handle{}, fmt.Errorf("pool upload: %w", err)
			}
		}
	}

	desc := buildDesc(pack, uint32(refOff), uint32(triOff))
	desc.vertRange = Range{Offset: vertOff, Count: nv}
	desc.refRange = Range{Offset: refOff, Count: nr}
	desc.triRange = Range{Offset: triOff, Count: nt}

	var idx uint32
	if n := len(s.freeSlots); n > 0 {
		idx = s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{generation: 1})
	}
	s.slots[idx].live = true
	s.slots[idx].desc = desc

	return Handle{Index: idx, Generation: s.slots[idx].generation}, nil
}

func (s *Store) requestGrowth(nv, nr, nt int) {
	if s.vertAlloc.largestFree() < nv {
		need := s.vertAlloc.capacity + nv
		if need > s.growVerts {
			s.growVerts = need
		}
	}
	if s.refAlloc.largestFree() < nr {
		need := s.refAlloc.capacity + nr
		if need > s.growRefs {
			s.growRefs = need
		}
	}
	if s.triAlloc.largestFree() < nt {
		need := s.triAlloc.capacity + nt
		if need > s.growTris {
			s.growTris = need
		}
	}
}

func buildDesc(pack *formats.MPK, refBase, triBase uint32) MeshDesc {
	desc := MeshDesc{
		Meshlets: make([]MeshletDesc, len(pack.Meshlets)),
		Nodes:    make([]NodeDesc, len(pack.Nodes)),
		Levels:   pack.LevelCount(),
	}
	for i, m := range pack.Meshlets {
		desc.Meshlets[i] = MeshletDesc{
			VertexOffset:   refBase + m.VertexOffset,
			VertexCount:    m.VertexCount,
			TriangleOffset: triBase + m.TriangleOffset,
			TriangleCount:  m.TriangleCount,
			Bounds: math.AABB{
				Min: math.Vec3{X: m.BoundsMin[0], Y: m.BoundsMin[1], Z: m.BoundsMin[2]},
				Max: math.Vec3{X: m.BoundsMax[0], Y: m.BoundsMax[1], Z: m.BoundsMax[2]},
			},
			Cone: meshlet.Cone{
				Apex:   math.Vec3{X: m.ConeApex[0], Y: m.ConeApex[1], Z: m.ConeApex[2]},
				Axis:   math.Vec3{X: m.ConeAxis[0], Y: m.ConeAxis[1], Z: m.ConeAxis[2]},
				Cutoff: m.ConeCutoff,
			},
			Level: m.Level,
			Error: m.Error,
		}
	}
	for i, n := range pack.Nodes {
		nd := NodeDesc{
			Level: n.Level,
			Error: n.Error,
			Sphere: math.Sphere{
				Center: math.Vec3{X: n.SphereCenter[0], Y: n.SphereCenter[1], Z: n.SphereCenter[2]},
				Radius: n.SphereRadius,
			},
			Meshlets: append([]uint32(nil), pack.NodeMeshlets[n.MeshletOffset:n.MeshletOffset+n.MeshletCount]...),
			Children: append([]uint32(nil), pack.NodeChildren[n.ChildOffset:n.ChildOffset+n.ChildCount]...),
		}
		desc.Nodes[i] = nd
		if int(n.Level) == desc.Levels-1 {
			if desc.Bounds.Radius == 0 {
				desc.Bounds = nd.Sphere
			} else {
				desc.Bounds = desc.Bounds.Union(nd.Sphere)
			}
		}
	}
	return desc
}

// Retire invalidates a handle. Pool space is reclaimed at the next frame
// boundary so in-flight frame reads stay valid.
func (s *Store) Retire(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(h)
	if err != nil {
		return err
	}
	sl.live = false
	sl.generation++
	s.freeSlots = append(s.freeSlots, h.Index)
	s.pendingFree = append(s.pendingFree, sl.desc)
	sl.desc = MeshDesc{}
	return nil
}

func (s *Store) slot(h Handle) (*slot, error) {
	if int(h.Index) >= len(s.slots) {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidHandle, h.Index)
	}
	sl := &s.slots[h.Index]
	if !sl.live || sl.generation != h.Generation {
		return nil, fmt.Errorf("%w: index %d generation %d", ErrInvalidHandle, h.Index, h.Generation)
	}
	return sl, nil
}

// Mesh validates a handle and returns its descriptor. The descriptor is
// read-only and stable until the mesh is retired.
func (s *Store) Mesh(h Handle) (*MeshDesc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.slot(h)
	if err != nil {
		return nil, err
	}
	return &sl.desc, nil
}

// Live returns the handles of every registered mesh, in slot order.
func (s *Store) Live() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Handle
	for i := range s.slots {
		if s.slots[i].live {
			out = append(out, Handle{Index: uint32(i), Generation: s.slots[i].generation})
		}
	}
	return out
}

// Pool accessors. The returned slices are stable between BeginFrame and
// EndFrame; callers must not hold them across the frame boundary.

func (s *Store) Positions() []float32   { return s.positions }
func (s *Store) Normals() []float32     { return s.normals }
func (s *Store) Tangents() []float32    { return s.tangents }
func (s *Store) UVs() []float32         { return s.uvs }
func (s *Store) VertexRefs() []uint32   { return s.vertexRefs }
func (s *Store) TriangleVerts() []uint8 { return s.triangleVerts }
