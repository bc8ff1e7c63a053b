package lod

import (
	"fmt"

	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/internal/engine/meshlet"
)

// Build constructs the full hierarchy for a source mesh: level 0 is the
// clustered input, each further level simplifies the previous one and
// re-clusters it. Nodes of level L link to the level L-1 nodes whose regions
// they supersede; the arena order guarantees children sit at lower indices.
func Build(src *mesh.Mesh, cfg Config) (*Hierarchy, error) {
	if cfg.SimplifyRatio <= 0 || cfg.SimplifyRatio >= 1 {
		return nil, ErrBadSimplifyRatio
	}
	if cfg.MaxLevels < 1 {
		cfg.MaxLevels = 1
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	h := &Hierarchy{}
	cur := src
	var prevNodes []int
	prevErr := float32(0)

	for level := 0; level < cfg.MaxLevels; level++ {
		levelErr := prevErr
		if level > 0 {
			target := int(float32(cur.TriangleCount()) * cfg.SimplifyRatio)
			simplified, collapseErr := Simplify(cur, target, cfg.Metric, cfg.MaxNormalFlip)
			if simplified.TriangleCount() >= cur.TriangleCount() {
				break // no progress, hierarchy is as coarse as it gets
			}
			cur = simplified
			levelErr = prevErr + collapseErr
			if levelErr < prevErr {
				levelErr = prevErr
			}
		}

		clusters, err := meshlet.Build(cur, cfg.Meshlet)
		if err != nil {
			return nil, fmt.Errorf("level %d clustering: %w", level, err)
		}

		levelNodes := make([]int, 0, len(clusters))
		for _, m := range clusters {
			m.Level = level
			m.Error = levelErr
			mi := len(h.Meshlets)
			h.Meshlets = append(h.Meshlets, m)
			ni := len(h.Nodes)
			h.Nodes = append(h.Nodes, Node{
				Level:    level,
				Error:    levelErr,
				Bounds:   m.Bounds.BoundingSphere(),
				Meshlets: []int{mi},
			})
			levelNodes = append(levelNodes, ni)
		}

		if level > 0 {
			linkLevel(h, levelNodes, prevNodes)
		}

		prevNodes = levelNodes
		prevErr = levelErr
		h.Meshes = append(h.Meshes, cur)
		h.Levels = level + 1

		if cur.TriangleCount() <= cfg.Meshlet.MaxTriangles {
			break // fits a single meshlet, nothing left to coarsen
		}
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// linkLevel attaches every child node to the parents whose spheres overlap
// it. A child no sphere reaches still gets the nearest parent so every fine
// node is superseded by something coarser.
func linkLevel(h *Hierarchy, parents, children []int) {
	claimed := make([]bool, len(children))
	for _, pi := range parents {
		p := &h.Nodes[pi]
		for ci, c := range children {
			cb := h.Nodes[c].Bounds
			d := cb.Center.Sub(p.Bounds.Center).Length()
			if d <= cb.Radius+p.Bounds.Radius {
				p.Children = append(p.Children, int32(c))
				claimed[ci] = true
			}
		}
	}
	for ci, c := range children {
		if claimed[ci] {
			continue
		}
		cb := h.Nodes[c].Bounds
		best, bestD := parents[0], float32(0)
		for i, pi := range parents {
			d := cb.Center.Sub(h.Nodes[pi].Bounds.Center).Length()
			if i == 0 || d < bestD {
				best, bestD = pi, d
			}
		}
		h.Nodes[best].Children = append(h.Nodes[best].Children, int32(c))
	}

	for _, pi := range parents {
		p := &h.Nodes[pi]
		for _, c := range p.Children {
			child := h.Nodes[c]
			p.Bounds = p.Bounds.Union(child.Bounds)
			for _, mi := range child.Meshlets {
				if h.Meshlets[mi].Parent < 0 {
					h.Meshlets[mi].Parent = int32(pi)
				}
			}
		}
	}
}
