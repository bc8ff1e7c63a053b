package debug

import (
	"github.com/veldtgfx/veldt/internal/engine/resolve"
)

// Shade functions for inspecting the visibility buffer. Each returns a
// resolve.ShadeFunc; plug them into the renderer instead of the material
// shade to see what the rasterizer actually produced.

// meshlet id hashing: golden-ratio scramble spreads adjacent ids across the
// palette so neighboring meshlets rarely share a color.
func idColor(id uint32) [4]uint8 {
	h := id*2654435761 + 1
	return [4]uint8{
		uint8(h >> 16),
		uint8(h >> 8),
		uint8(h),
		255,
	}
}

// MeshletHeatmap colors every pixel by the meshlet that won it.
func MeshletHeatmap() resolve.ShadeFunc {
	return func(s *resolve.Surface) [4]uint8 {
		return idColor(uint32(s.Visible))
	}
}

// TriangleHeatmap colors by meshlet-local triangle id.
func TriangleHeatmap() resolve.ShadeFunc {
	return func(s *resolve.Surface) [4]uint8 {
		return idColor(uint32(s.Visible)<<8 | uint32(s.Triangle))
	}
}

// lodPalette runs hot to cold: finest level red, coarser levels toward blue.
var lodPalette = [8][4]uint8{
	{230, 60, 50, 255},
	{235, 140, 50, 255},
	{235, 210, 60, 255},
	{130, 210, 70, 255},
	{60, 200, 150, 255},
	{60, 160, 220, 255},
	{90, 100, 230, 255},
	{160, 80, 220, 255},
}

// LODHeatmap colors every pixel by the LOD level selected for it.
func LODHeatmap() resolve.ShadeFunc {
	return func(s *resolve.Surface) [4]uint8 {
		return lodPalette[int(s.Level)%len(lodPalette)]
	}
}

// DepthShade maps resolved depth to grayscale, near bright.
func DepthShade() resolve.ShadeFunc {
	return func(s *resolve.Surface) [4]uint8 {
		d := s.Depth
		if d < 0 {
			d = 0
		}
		if d > 1 {
			d = 1
		}
		v := uint8((1 - d) * 255)
		return [4]uint8{v, v, v, 255}
	}
}
