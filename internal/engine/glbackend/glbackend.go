// Package glbackend mirrors the geometry store's pools into OpenGL buffer
// objects. It implements store.Uploader; attach it to a store and every
// registration, growth, and reclaim keeps the device copies current.
//
// All methods must run on the thread that owns the GL context.
package glbackend

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/store"
)

var errNotAttached = errors.New("glbackend: store not attached")

// Init loads the GL function pointers. Call once after the context is
// current and before New.
func Init() error {
	if err := gl.Init(); err != nil {
		return fmt.Errorf("gl init: %w", err)
	}
	return nil
}

// Backend owns one buffer object per attribute stream plus the vertex ref
// and triangle index buffers. The four attribute buffers share the vertex
// allocator, so they resize and upload together.
type Backend struct {
	src *store.Store
	log *zap.Logger

	positions uint32
	normals   uint32
	tangents  uint32
	uvs       uint32
	refs      uint32
	triangles uint32

	vertexCap   int
	refCap      int
	triangleCap int
}

// New creates the buffer objects. Requires a current GL context.
func New(log *zap.Logger) *Backend {
	b := &Backend{log: log}
	gl.GenBuffers(1, &b.positions)
	gl.GenBuffers(1, &b.normals)
	gl.GenBuffers(1, &b.tangents)
	gl.GenBuffers(1, &b.uvs)
	gl.GenBuffers(1, &b.refs)
	gl.GenBuffers(1, &b.triangles)
	return b
}

// Attach points the backend at the store whose pools it mirrors. The store
// constructor calls Resize before any data exists, so attachment happens
// after store creation:
//
//	backend := glbackend.New(log)
//	st, err := store.New(cfg, backend, log)
//	backend.Attach(st)
func (b *Backend) Attach(s *store.Store) {
	b.src = s
}

// Resize reallocates the device buffers for a pool. Contents are discarded;
// the store re-uploads after growth.
func (b *Backend) Resize(kind store.PoolKind, capacity int) error {
	switch kind {
	case store.PoolVertices:
		b.allocate(b.positions, capacity*3*4)
		b.allocate(b.normals, capacity*3*4)
		b.allocate(b.tangents, capacity*3*4)
		b.allocate(b.uvs, capacity*2*4)
		b.vertexCap = capacity
	case store.PoolVertexRefs:
		b.allocate(b.refs, capacity*4)
		b.refCap = capacity
	case store.PoolTriangles:
		b.allocate(b.triangles, capacity*3)
		b.triangleCap = capacity
	default:
		return fmt.Errorf("glbackend: unknown pool kind %d", kind)
	}
	if err := glError(); err != nil {
		return fmt.Errorf("resize pool %d to %d: %w", kind, capacity, err)
	}
	b.log.Debug("resized device pool",
		zap.Uint8("kind", uint8(kind)),
		zap.Int("capacity", capacity))
	return nil
}

// UploadRange copies one span of a pool from the attached store to the
// device buffers.
func (b *Backend) UploadRange(kind store.PoolKind, r store.Range) error {
	if b.src == nil {
		return errNotAttached
	}
	if r.Count == 0 {
		return nil
	}
	switch kind {
	case store.PoolVertices:
		if r.Offset+r.Count > b.vertexCap {
			return fmt.Errorf("glbackend: vertex range %d+%d exceeds capacity %d", r.Offset, r.Count, b.vertexCap)
		}
		uploadFloats(b.positions, b.src.Positions(), r.Offset*3, r.Count*3)
		uploadFloats(b.normals, b.src.Normals(), r.Offset*3, r.Count*3)
		uploadFloats(b.tangents, b.src.Tangents(), r.Offset*3, r.Count*3)
		uploadFloats(b.uvs, b.src.UVs(), r.Offset*2, r.Count*2)
	case store.PoolVertexRefs:
		if r.Offset+r.Count > b.refCap {
			return fmt.Errorf("glbackend: ref range %d+%d exceeds capacity %d", r.Offset, r.Count, b.refCap)
		}
		refs := b.src.VertexRefs()[r.Offset : r.Offset+r.Count]
		gl.BindBuffer(gl.ARRAY_BUFFER, b.refs)
		gl.BufferSubData(gl.ARRAY_BUFFER, r.Offset*4, len(refs)*4, unsafe.Pointer(&refs[0]))
	case store.PoolTriangles:
		if r.Offset+r.Count > b.triangleCap {
			return fmt.Errorf("glbackend: triangle range %d+%d exceeds capacity %d", r.Offset, r.Count, b.triangleCap)
		}
		tris := b.src.TriangleVerts()[r.Offset*3 : (r.Offset+r.Count)*3]
		gl.BindBuffer(gl.ARRAY_BUFFER, b.triangles)
		gl.BufferSubData(gl.ARRAY_BUFFER, r.Offset*3, len(tris), unsafe.Pointer(&tris[0]))
	default:
		return fmt.Errorf("glbackend: unknown pool kind %d", kind)
	}
	if err := glError(); err != nil {
		return fmt.Errorf("upload pool %d range %d+%d: %w", kind, r.Offset, r.Count, err)
	}
	return nil
}

// Buffer object accessors for draw paths that bind the pools directly.

func (b *Backend) PositionBuffer() uint32 { return b.positions }
func (b *Backend) NormalBuffer() uint32   { return b.normals }
func (b *Backend) TangentBuffer() uint32  { return b.tangents }
func (b *Backend) UVBuffer() uint32       { return b.uvs }
func (b *Backend) RefBuffer() uint32      { return b.refs }
func (b *Backend) TriangleBuffer() uint32 { return b.triangles }

// Close deletes the buffer objects.
func (b *Backend) Close() {
	for _, id := range []*uint32{&b.positions, &b.normals, &b.tangents, &b.uvs, &b.refs, &b.triangles} {
		if *id != 0 {
			gl.DeleteBuffers(1, id)
			*id = 0
		}
	}
}

func (b *Backend) allocate(buf uint32, sizeBytes int) {
	gl.BindBuffer(gl.ARRAY_BUFFER, buf)
	gl.BufferData(gl.ARRAY_BUFFER, sizeBytes, nil, gl.DYNAMIC_DRAW)
}

func uploadFloats(buf uint32, data []float32, offset, count int) {
	span := data[offset : offset+count]
	gl.BindBuffer(gl.ARRAY_BUFFER, buf)
	gl.BufferSubData(gl.ARRAY_BUFFER, offset*4, len(span)*4, unsafe.Pointer(&span[0]))
}

func glError() error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gl error 0x%04x", code)
	}
	return nil
}
