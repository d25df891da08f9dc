// Command lidarfetch-server exposes the acquisition pipeline over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lidarfetch/lidarfetch/internal/catalog"
	"github.com/lidarfetch/lidarfetch/internal/core/config"
	"github.com/lidarfetch/lidarfetch/internal/core/health"
	"github.com/lidarfetch/lidarfetch/internal/core/middleware"
	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/core/observability"
	"github.com/lidarfetch/lidarfetch/internal/logger"
	"github.com/lidarfetch/lidarfetch/internal/pipeline"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "server",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	log.Info("starting lidarfetch-server", "addr", cfg.Addr, "version", Version, "mode", cfg.Mode)

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

	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logging(log))
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(nil))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/fetch", fetchHandler(log, p))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-errCh:
		log.Error("server error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("server stopped")
	return 0
}

// fetchRequest is the JSON body of POST /fetch.
type fetchRequest struct {
	AOI           json.RawMessage `json:"aoi"`
	CRS           string          `json:"crs"`
	OutputDir     string          `json:"output_dir"`
	Dataset       string          `json:"dataset"`
	Strategy      string          `json:"strategy"`
	MaxConcurrent int             `json:"max_concurrent"`
	Force         bool            `json:"force"`
}

func fetchHandler(log *slog.Logger, p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.AOI) == 0 || req.OutputDir == "" {
			http.Error(w, "aoi and output_dir are required", http.StatusBadRequest)
			return
		}
		strategy, err := model.ParseStrategy(req.Strategy)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, runErr := p.Run(r.Context(), pipeline.Request{
			AOIGeoJSON:    req.AOI,
			AOICRS:        req.CRS,
			OutputDir:     req.OutputDir,
			Dataset:       req.Dataset,
			Strategy:      strategy,
			MaxConcurrent: req.MaxConcurrent,
			Force:         req.Force,
		})

		w.Header().Set("Content-Type", "application/json")
		if runErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.Warn("failed to write response", "err", err)
		}
	}
}
