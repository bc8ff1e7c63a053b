// meshletpack is a CLI utility for baking and inspecting meshlet packs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/lod"
	"github.com/veldtgfx/veldt/internal/engine/mesh"
	"github.com/veldtgfx/veldt/internal/engine/meshlet"
	"github.com/veldtgfx/veldt/internal/pipeline"
	"github.com/veldtgfx/veldt/pkg/formats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "bake":
		cmdBake(args)
	case "suite":
		cmdSuite(args)
	case "info":
		cmdInfo(args)
	case "stats":
		cmdStats(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`meshletpack - meshlet pack bake and inspection utility

Usage:
  meshletpack <command> [options]

Commands:
  bake <shape> <output.mpk>   Bake a primitive into a meshlet pack
  suite <output_dir>          Bake the standard primitive set concurrently
  info <file.mpk>             Show pack information
  stats <file.mpk>            Per-level hierarchy statistics

Shapes: cube, sphere, grid

Examples:
  meshletpack bake sphere sphere.mpk -rings 128 -segments 128
  meshletpack bake cube cube.mpk -ratio 0.4 -metric edge_length
  meshletpack suite ./packs
  meshletpack info sphere.mpk`)
}

// bakeFlags registers the LOD build options shared by bake and suite.
func bakeFlags(fs *flag.FlagSet) (*int, *float64, *float64, *string, *int, *int) {
	levels := fs.Int("levels", 8, "Maximum LOD levels")
	ratio := fs.Float64("ratio", 0.5, "Triangle count ratio per level")
	flip := fs.Float64("flip", 90, "Collapse rejection angle (degrees)")
	metric := fs.String("metric", "quadric", "Collapse metric: quadric or edge_length")
	maxVerts := fs.Int("max-verts", 128, "Max vertices per meshlet")
	maxTris := fs.Int("max-tris", 128, "Max triangles per meshlet")
	return levels, ratio, flip, metric, maxVerts, maxTris
}

func buildConfig(levels int, ratio, flip float64, metric string, maxVerts, maxTris int) (lod.Config, error) {
	m, err := lod.ParseMetric(metric)
	if err != nil {
		return lod.Config{}, err
	}
	return lod.Config{
		Meshlet:       meshlet.Config{MaxVertices: maxVerts, MaxTriangles: maxTris},
		MaxLevels:     levels,
		SimplifyRatio: float32(ratio),
		MaxNormalFlip: float32(flip),
		Metric:        m,
	}, nil
}

func makeShape(name string, size float64, rings, segments, gridN int) (*mesh.Mesh, error) {
	switch name {
	case "cube":
		return mesh.Cube(float32(size)), nil
	case "sphere":
		return mesh.UVSphere(float32(size), rings, segments), nil
	case "grid":
		return mesh.Grid(float32(size), gridN), nil
	default:
		return nil, fmt.Errorf("unknown shape %q (want cube, sphere, grid)", name)
	}
}

func cmdBake(args []string) {
	fs := flag.NewFlagSet("bake", flag.ExitOnError)
	levels, ratio, flip, metric, maxVerts, maxTris := bakeFlags(fs)
	size := fs.Float64("size", 1, "Primitive size (half extent, radius, or grid size)")
	rings := fs.Int("rings", 64, "Sphere rings")
	segments := fs.Int("segments", 64, "Sphere segments")
	gridN := fs.Int("grid-n", 64, "Grid subdivisions per side")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: meshletpack bake <shape> <output.mpk> [options]")
		os.Exit(1)
	}

	cfg, err := buildConfig(*levels, *ratio, *flip, *metric, *maxVerts, *maxTris)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	src, err := makeShape(fs.Arg(0), *size, *rings, *segments, *gridN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := zap.NewNop()
	start := time.Now()
	pack, err := pipeline.Bake(src, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bake failed: %v\n", err)
		os.Exit(1)
	}
	if err := formats.SaveMPK(fs.Arg(1), pack); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing pack: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Baked: %s (%d meshlets, %d nodes, %d levels, %.2fs)\n",
		fs.Arg(1), len(pack.Meshlets), len(pack.Nodes), pack.LevelCount(),
		time.Since(start).Seconds())
}

func cmdSuite(args []string) {
	fs := flag.NewFlagSet("suite", flag.ExitOnError)
	levels, ratio, flip, metric, maxVerts, maxTris := bakeFlags(fs)
	workers := fs.Int("workers", 0, "Concurrent bake jobs (0 = NumCPU)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: meshletpack suite <output_dir> [options]")
		os.Exit(1)
	}
	outDir := fs.Arg(0)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := buildConfig(*levels, *ratio, *flip, *metric, *maxVerts, *maxTris)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	jobs := []pipeline.Job{
		{Name: "cube", Mesh: mesh.Cube(1), Output: filepath.Join(outDir, "cube.mpk")},
		{Name: "sphere", Mesh: mesh.UVSphere(1, 96, 96), Output: filepath.Join(outDir, "sphere.mpk")},
		{Name: "sphere-dense", Mesh: mesh.UVSphere(1, 192, 192), Output: filepath.Join(outDir, "sphere-dense.mpk")},
		{Name: "grid", Mesh: mesh.Grid(2, 96), Output: filepath.Join(outDir, "grid.mpk")},
	}

	start := time.Now()
	if err := pipeline.BakeAll(context.Background(), jobs, cfg, *workers, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "Bake failures:\n%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Baked %d packs to %s (%.2fs)\n", len(jobs), outDir, time.Since(start).Seconds())
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: meshletpack info <file.mpk>")
		os.Exit(1)
	}

	pack, err := formats.LoadMPK(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var tris int
	for i := range pack.Meshlets {
		tris += int(pack.Meshlets[i].TriangleCount)
	}

	fmt.Printf("Pack:      %s\n", args[0])
	fmt.Printf("Version:   %s\n", pack.Version)
	fmt.Printf("Vertices:  %d\n", pack.VertexCount())
	fmt.Printf("Triangles: %d\n", tris)
	fmt.Printf("Meshlets:  %d\n", len(pack.Meshlets))
	fmt.Printf("Nodes:     %d\n", len(pack.Nodes))
	fmt.Printf("Levels:    %d\n", pack.LevelCount())
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: meshletpack stats <file.mpk>")
		os.Exit(1)
	}

	pack, err := formats.LoadMPK(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	levels := pack.LevelCount()
	type levelStat struct {
		nodes    int
		meshlets int
		tris     int
		minErr   float32
		maxErr   float32
	}
	stats := make([]levelStat, levels)
	for i := range stats {
		stats[i].minErr = float32(1e30)
	}
	for i := range pack.Nodes {
		n := &pack.Nodes[i]
		s := &stats[n.Level]
		s.nodes++
		if n.Error < s.minErr {
			s.minErr = n.Error
		}
		if n.Error > s.maxErr {
			s.maxErr = n.Error
		}
	}
	for i := range pack.Meshlets {
		m := &pack.Meshlets[i]
		stats[m.Level].meshlets++
		stats[m.Level].tris += int(m.TriangleCount)
	}

	fmt.Printf("Pack: %s\n\n", fs.Arg(0))
	fmt.Printf("%-6s %-7s %-9s %-10s %-12s %s\n",
		"level", "nodes", "meshlets", "triangles", "tris/mlet", "error range")
	for i, s := range stats {
		avg := 0.0
		if s.meshlets > 0 {
			avg = float64(s.tris) / float64(s.meshlets)
		}
		if s.nodes == 0 {
			s.minErr = 0
		}
		fmt.Printf("%-6d %-7d %-9d %-10d %-12.1f %.4g - %.4g\n",
			i, s.nodes, s.meshlets, s.tris, avg, s.minErr, s.maxErr)
	}

	fmt.Println()
	fmt.Println(occupancy(pack))
}

// occupancy summarizes how full meshlets are relative to their triangle bound.
func occupancy(pack *formats.MPK) string {
	if len(pack.Meshlets) == 0 {
		return "no meshlets"
	}
	var maxTris uint32
	for i := range pack.Meshlets {
		if pack.Meshlets[i].TriangleCount > maxTris {
			maxTris = pack.Meshlets[i].TriangleCount
		}
	}
	buckets := [4]int{} // <25%, <50%, <75%, <=100% of the largest meshlet
	for i := range pack.Meshlets {
		frac := float64(pack.Meshlets[i].TriangleCount) / float64(maxTris)
		switch {
		case frac < 0.25:
			buckets[0]++
		case frac < 0.5:
			buckets[1]++
		case frac < 0.75:
			buckets[2]++
		default:
			buckets[3]++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Meshlet fill (vs largest, %d tris):\n", maxTris)
	labels := [4]string{"  0-25%", " 25-50%", " 50-75%", "75-100%"}
	for i, n := range buckets {
		fmt.Fprintf(&b, "  %s %d\n", labels[i], n)
	}
	return strings.TrimRight(b.String(), "\n")
}
