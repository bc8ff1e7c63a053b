// Package lod builds the multi-resolution hierarchy over meshlets:
// quadric-error simplification per level, re-clustering, and a DAG of nodes
// with monotonically non-decreasing error bounds.
package lod

import (
	"errors"
	"fmt"

	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/internal/engine/meshlet"
	"github.com/veldtgfx/veldt/pkg/math"
)

// Hierarchy errors.
var (
	ErrUnknownMetric    = errors.New("unknown collapse metric")
	ErrChildOrder       = errors.New("hierarchy child index not lower than parent")
	ErrNonMonotonic     = errors.New("hierarchy error bound decreases with level")
	ErrMeshletRef       = errors.New("hierarchy node references missing meshlet")
	ErrBadSimplifyRatio = errors.New("simplify ratio must be in (0, 1)")
)

// CollapseMetric selects how edge-collapse candidates are ranked. A fixed
// enum, not a callback: the ranking runs in the hottest part of the bake.
type CollapseMetric uint8

const (
	// MetricQuadric ranks collapses by accumulated quadric error.
	MetricQuadric CollapseMetric = iota
	// MetricEdgeLength ranks collapses by squared edge length. Cheaper and
	// cruder; useful for previews.
	MetricEdgeLength
)

// ParseMetric converts a config string to a CollapseMetric.
func ParseMetric(s string) (CollapseMetric, error) {
	switch s {
	case "", "quadric":
		return MetricQuadric, nil
	case "edge_length":
		return MetricEdgeLength, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Node wraps the meshlets of one simplification level over one region.
// Children are strictly lower-numbered node indices; the arena layout makes
// cycles unrepresentable.
type Node struct {
	Level    int
	Error    float32
	Bounds   math.Sphere
	Meshlets []int // indices into Hierarchy.Meshlets
	Children []int32
}

// Hierarchy is the LOD DAG arena plus every meshlet of every level.
// Meshes holds the simplified geometry per level; meshlet vertex indices
// refer to the mesh of their own level.
type Hierarchy struct {
	Meshlets []meshlet.Meshlet
	Nodes    []Node
	Meshes   []*mesh.Mesh
	Levels   int
}

// Validate checks the arena invariants: child indices strictly below their
// parent, meshlet references in range, and error bounds non-decreasing from
// child to parent.
func (h *Hierarchy) Validate() error {
	for i, n := range h.Nodes {
		for _, mi := range n.Meshlets {
			if mi < 0 || mi >= len(h.Meshlets) {
				return fmt.Errorf("%w: node %d meshlet %d", ErrMeshletRef, i, mi)
			}
		}
		for _, c := range n.Children {
			if int(c) >= i || c < 0 {
				return fmt.Errorf("%w: node %d child %d", ErrChildOrder, i, c)
			}
			if h.Nodes[c].Error > n.Error {
				return fmt.Errorf("%w: node %d (%f) child %d (%f)", ErrNonMonotonic, i, n.Error, c, h.Nodes[c].Error)
			}
		}
	}
	return nil
}

// NodesAtLevel returns the node indices of one level.
func (h *Hierarchy) NodesAtLevel(level int) []int {
	var out []int
	for i := range h.Nodes {
		if h.Nodes[i].Level == level {
			out = append(out, i)
		}
	}
	return out
}

// Config controls hierarchy construction.
type Config struct {
	Meshlet       meshlet.Config
	MaxLevels     int
	SimplifyRatio float32 // target triangle ratio per level, in (0, 1)
	MaxNormalFlip float32 // collapse rejection threshold, degrees
	Metric        CollapseMetric
}

// DefaultConfig returns the standard bake settings.
func DefaultConfig() Config {
	return Config{
		Meshlet:       meshlet.DefaultConfig(),
		MaxLevels:     8,
		SimplifyRatio: 0.5,
		MaxNormalFlip: 90,
		Metric:        MetricQuadric,
	}
}
