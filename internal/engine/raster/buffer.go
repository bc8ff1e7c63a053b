// Package raster is the software visibility-buffer rasterizer: it walks the
// frame's visible meshlets and records, per pixel, the closest triangle's
// depth and identity in a single atomically-updated 64-bit word.
package raster

import (
	"errors"
	stdmath "math"
	"sync/atomic"
)

// ErrBadDimensions marks a zero or negative buffer size.
var ErrBadDimensions = errors.New("visibility buffer dimensions must be positive")

// Sentinel is the cleared pixel value: the farthest possible depth with an
// id no meshlet can carry.
const Sentinel = ^uint64(0)

// Pack combines depth and identity into one word. Depth must be
// non-negative: the float32 bit pattern of a non-negative float orders the
// same as the float itself, so the whole word compares near-to-far with
// plain unsigned comparison. The visible-list id and triangle id ride in the
// low word and break depth ties deterministically.
func Pack(depth float32, visible uint16, triangle uint16) uint64 {
	return uint64(stdmath.Float32bits(depth))<<32 |
		uint64(visible)<<16 |
		uint64(triangle)
}

// Unpack splits a packed pixel.
func Unpack(p uint64) (depth float32, visible uint16, triangle uint16) {
	return stdmath.Float32frombits(uint32(p >> 32)),
		uint16(p >> 16),
		uint16(p)
}

// Buffer is one visibility buffer. Pixel words are written with CAS so
// concurrent rasterizer workers never publish a torn depth/id pair.
type Buffer struct {
	width  int
	height int
	pixels []uint64
}

// NewBuffer allocates a cleared buffer.
func NewBuffer(width, height int) (*Buffer, error) {
	if width < 1 || height < 1 {
		return nil, ErrBadDimensions
	}
	b := &Buffer{
		width:  width,
		height: height,
		pixels: make([]uint64, width*height),
	}
	b.Clear()
	return b, nil
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Clear resets every pixel to the sentinel.
func (b *Buffer) Clear() {
	for i := range b.pixels {
		b.pixels[i] = Sentinel
	}
}

// Load reads one pixel word. Safe concurrently with rasterization.
func (b *Buffer) Load(x, y int) uint64 {
	return atomic.LoadUint64(&b.pixels[y*b.width+x])
}

// Merge keeps the nearer of the stored and candidate pixel. The loop retries
// until the candidate is farther than the published value or the CAS lands;
// either way the stored word is always a value some triangle fully produced.
func (b *Buffer) Merge(x, y int, packed uint64) {
	addr := &b.pixels[y*b.width+x]
	for {
		old := atomic.LoadUint64(addr)
		if packed >= old {
			return
		}
		if atomic.CompareAndSwapUint64(addr, old, packed) {
			return
		}
	}
}
