// Package config handles renderer configuration loading and management.
package config

// Config holds all renderer settings.
type Config struct {
	Graphics Graphics `yaml:"graphics"`
	Meshlet  Meshlet  `yaml:"meshlet"`
	Bake     Bake     `yaml:"bake"`
	Logging  Logging  `yaml:"logging"`
}

// Graphics holds display and per-frame rendering settings.
type Graphics struct {
	Width           int  `yaml:"width"`
	Height          int  `yaml:"height"`
	Fullscreen      bool `yaml:"fullscreen"`
	VSync           bool `yaml:"vsync"`
	RasterWorkers   int  `yaml:"raster_workers"`   // 0 = NumCPU
	VisibleCapacity int  `yaml:"visible_capacity"` // per-frame visible meshlet list bound
}

// Meshlet holds clustering and LOD selection settings.
// MaxVertices/MaxTriangles bound meshlet size (64 and 128 are both sane);
// PixelErrorBudget is the screen-space error allowed before a finer LOD is
// required, in pixels.
type Meshlet struct {
	MaxVertices      int     `yaml:"max_vertices"`
	MaxTriangles     int     `yaml:"max_triangles"`
	PixelErrorBudget float32 `yaml:"pixel_error_budget"`
}

// Bake holds offline pipeline settings.
type Bake struct {
	Workers        int     `yaml:"workers"`         // 0 = NumCPU
	MaxLODLevels   int     `yaml:"max_lod_levels"`  // hierarchy depth cap
	SimplifyRatio  float32 `yaml:"simplify_ratio"`  // triangle count ratio per level
	MaxNormalFlip  float32 `yaml:"max_normal_flip"` // collapse rejection angle, degrees
	CollapseMetric string  `yaml:"collapse_metric"` // "quadric" or "edge_length"
}

// Logging holds logging settings.
type Logging struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: Graphics{
			Width:           1280,
			Height:          720,
			Fullscreen:      false,
			VSync:           true,
			RasterWorkers:   0,
			VisibleCapacity: 0xFFFF, // meshlet ids are 16-bit in the visibility buffer
		},
		Meshlet: Meshlet{
			MaxVertices:      128,
			MaxTriangles:     128,
			PixelErrorBudget: 1.0,
		},
		Bake: Bake{
			Workers:        0,
			MaxLODLevels:   8,
			SimplifyRatio:  0.5,
			MaxNormalFlip:  90,
			CollapseMetric: "quadric",
		},
		Logging: Logging{
			Level:   "info",
			LogFile: "",
		},
	}
}
