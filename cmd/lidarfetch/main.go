// Command lidarfetch downloads the elevation tiles intersecting an area of
// interest and reports the resulting files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lidarfetch/lidarfetch/internal/catalog"
	"github.com/lidarfetch/lidarfetch/internal/core/config"
	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/logger"
	"github.com/lidarfetch/lidarfetch/internal/pipeline"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		aoiPath     = flag.String("aoi", "", "path to a GeoJSON Polygon/MultiPolygon file (required)")
		aoiCRS      = flag.String("crs", "", "CRS of the AOI coordinates (default: catalog CRS)")
		outDir      = flag.String("out", "", "output directory (required)")
		mode        = flag.String("mode", "", "catalog mode: wfs or local (default: config)")
		dataset     = flag.String("dataset", "", "dataset code: mnt, mns, mnh or lidar (default: config)")
		strategyStr = flag.String("strategy", "download-all", "download-all, merge-all or most-coverage")
		concurrency = flag.Int("concurrency", 0, "parallel downloads, 1-10 (default: config)")
		force       = flag.Bool("force", false, "re-download tiles even when present on disk")
		load        = flag.Bool("load", false, "report the primary file for loading")
		logLevel    = flag.String("log-level", "", "debug, info, warn or error (default: config)")
	)
	flag.Parse()

	cfg := config.FromEnv()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "cli",
		Dataset:   *dataset,
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	if *aoiPath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "both -aoi and -out are required")
		flag.Usage()
		return 2
	}

	aoi, err := os.ReadFile(*aoiPath)
	if err != nil {
		log.Error("cannot read AOI file", "path", *aoiPath, "err", err)
		return 2
	}
	strategy, err := model.ParseStrategy(*strategyStr)
	if err != nil {
		log.Error("invalid strategy", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(log, cfg)
	if cfg.Mode != "local" && cfg.RedisAddr != "" {
		cache, err := catalog.NewRedisCache(ctx, log, cfg.RedisAddr, cfg.CacheOpTimeout)
		if err != nil {
			log.Warn("response cache unavailable, continuing without it", "err", err)
		} else {
			defer func() { _ = cache.Close() }()
			p.WithResponseCache(cache)
		}
	}

	log.Info("starting run", "version", Version, "mode", cfg.Mode, "strategy", strategy.String())
	res, err := p.Run(ctx, pipeline.Request{
		AOIGeoJSON:    aoi,
		AOICRS:        *aoiCRS,
		OutputDir:     *outDir,
		Dataset:       *dataset,
		Strategy:      strategy,
		MaxConcurrent: *concurrency,
		Force:         *force,
		LoadResult:    *load,
		Progress: func(completed, total int, percent float64) {
			fmt.Fprintf(os.Stderr, "\rdownloaded %d/%d (%.0f%%)", completed, total, percent)
			if completed == total {
				fmt.Fprintln(os.Stderr)
			}
		},
	})
	if err != nil {
		log.Error("run failed", "err", err)
		return 1
	}

	report(res)
	return 0
}

func report(res model.RunResult) {
	fmt.Printf("status: %s\n", res.StatusText)
	if res.Warning != "" {
		fmt.Printf("warning: %s\n", res.Warning)
	}
	if res.PrimaryFile != "" {
		fmt.Printf("primary: %s\n", res.PrimaryFile)
	}
	if len(res.Files) > 0 {
		fmt.Printf("files (%d):\n", len(res.Files))
		for _, f := range res.Files {
			fmt.Printf("  %s\n", f)
		}
	}
}
