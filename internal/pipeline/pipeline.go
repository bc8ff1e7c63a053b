// Package pipeline is the offline bake path: source meshes in, meshlet pack
// files out.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veldtgfx/veldt/internal/engine/lod"
	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/pkg/formats"
)

// Bake builds the full LOD hierarchy for one mesh and packs it.
func Bake(src *mesh.Mesh, cfg lod.Config, log *zap.Logger) (*formats.MPK, error) {
	h, err := lod.Build(src, cfg)
	if err != nil {
		return nil, fmt.Errorf("building hierarchy: %w", err)
	}
	pack := packHierarchy(h)
	log.Info("mesh baked",
		zap.Int("triangles", src.TriangleCount()),
		zap.Int("meshlets", len(h.Meshlets)),
		zap.Int("nodes", len(h.Nodes)),
		zap.Int("levels", h.Levels),
	)
	return pack, nil
}

// packHierarchy flattens a hierarchy into the on-disk layout: per-level
// vertex pools merge into one shared pool, with meshlet vertex refs rebased
// by their level's offset.
func packHierarchy(h *lod.Hierarchy) *formats.MPK {
	pack := &formats.MPK{
		Version: formats.MPKVersion{Major: formats.MPKVersionMajor, Minor: formats.MPKVersionMinor},
	}

	bases := make([]uint32, len(h.Meshes))
	total := 0
	for i, m := range h.Meshes {
		bases[i] = uint32(total)
		total += m.VertexCount()
	}
	pack.Positions = make([]float32, 0, total*3)
	pack.Normals = make([]float32, total*3)
	pack.Tangents = make([]float32, total*3)
	pack.UVs = make([]float32, total*2)
	for li, m := range h.Meshes {
		for _, p := range m.Positions {
			pack.Positions = append(pack.Positions, p.X, p.Y, p.Z)
		}
		base := int(bases[li])
		for i, n := range m.Normals {
			pack.Normals[(base+i)*3] = n.X
			pack.Normals[(base+i)*3+1] = n.Y
			pack.Normals[(base+i)*3+2] = n.Z
		}
		for i, tn := range m.Tangents {
			pack.Tangents[(base+i)*3] = tn.X
			pack.Tangents[(base+i)*3+1] = tn.Y
			pack.Tangents[(base+i)*3+2] = tn.Z
		}
		for i, uv := range m.UVs {
			pack.UVs[(base+i)*2] = uv.X
			pack.UVs[(base+i)*2+1] = uv.Y
		}
	}

	for _, m := range h.Meshlets {
		d := formats.MPKMeshlet{
			VertexOffset:   uint32(len(pack.VertexRefs)),
			VertexCount:    uint32(len(m.Vertices)),
			TriangleOffset: uint32(len(pack.TriangleVerts) / 3),
			TriangleCount:  uint32(len(m.Triangles) / 3),
			BoundsMin:      [3]float32{m.Bounds.Min.X, m.Bounds.Min.Y, m.Bounds.Min.Z},
			BoundsMax:      [3]float32{m.Bounds.Max.X, m.Bounds.Max.Y, m.Bounds.Max.Z},
			ConeApex:       [3]float32{m.Cone.Apex.X, m.Cone.Apex.Y, m.Cone.Apex.Z},
			ConeAxis:       [3]float32{m.Cone.Axis.X, m.Cone.Axis.Y, m.Cone.Axis.Z},
			ConeCutoff:     m.Cone.Cutoff,
			Level:          uint32(m.Level),
			Error:          m.Error,
			Parent:         m.Parent,
		}
		base := bases[m.Level]
		for _, v := range m.Vertices {
			pack.VertexRefs = append(pack.VertexRefs, base+v)
		}
		pack.TriangleVerts = append(pack.TriangleVerts, m.Triangles...)
		pack.Meshlets = append(pack.Meshlets, d)
	}

	for _, n := range h.Nodes {
		d := formats.MPKNode{
			Level:         uint32(n.Level),
			Error:         n.Error,
			SphereCenter:  [3]float32{n.Bounds.Center.X, n.Bounds.Center.Y, n.Bounds.Center.Z},
			SphereRadius:  n.Bounds.Radius,
			MeshletOffset: uint32(len(pack.NodeMeshlets)),
			MeshletCount:  uint32(len(n.Meshlets)),
			ChildOffset:   uint32(len(pack.NodeChildren)),
			ChildCount:    uint32(len(n.Children)),
		}
		for _, mi := range n.Meshlets {
			pack.NodeMeshlets = append(pack.NodeMeshlets, uint32(mi))
		}
		for _, c := range n.Children {
			pack.NodeChildren = append(pack.NodeChildren, uint32(c))
		}
		pack.Nodes = append(pack.Nodes, d)
	}
	return pack
}

// Job is one mesh to bake and where to write it.
type Job struct {
	Name   string
	Mesh   *mesh.Mesh
	Output string
}

// BakeAll bakes jobs concurrently. A failed job does not stop the others;
// all failures come back combined.
func BakeAll(ctx context.Context, jobs []Job, cfg lod.Config, workers int, log *zap.Logger) error {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var errs error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := bakeJob(job, cfg, log); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("baking %s: %w", job.Name, err))
				mu.Unlock()
				log.Error("bake failed", zap.String("name", job.Name), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func bakeJob(job Job, cfg lod.Config, log *zap.Logger) error {
	pack, err := Bake(job.Mesh, cfg, log)
	if err != nil {
		return err
	}
	return formats.SaveMPK(job.Output, pack)
}
