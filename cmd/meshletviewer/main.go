// Package main is the entry point for the interactive pack viewer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/config"
	"github.com/veldtgfx/veldt/internal/logger"
	"github.com/veldtgfx/veldt/internal/viewer"
)

var flagGLMirror = flag.Bool("gl-mirror", false, "Mirror geometry pools into GL buffer objects")

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	packs := flag.Args()
	if len(packs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: meshletviewer [options] <pack.mpk> [more.mpk ...]")
		fmt.Fprintln(os.Stderr, "\nKeys: Tab shade mode, B bounds, F fit, F12 screenshot, Esc quit")
		os.Exit(1)
	}

	logger.Info("=== Veldt Viewer ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	v, err := viewer.New(cfg, packs, *flagGLMirror)
	if err != nil {
		logger.Error("failed to create viewer", zap.Error(err))
		os.Exit(1)
	}
	defer v.Close()

	if err := v.Run(context.Background()); err != nil {
		logger.Error("viewer error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("viewer closed normally")
}
