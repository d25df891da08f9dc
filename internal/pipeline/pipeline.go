// Package pipeline orchestrates one acquisition run: resolve the catalog,
// select intersecting tiles, download them, and optionally merge the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lidarfetch/lidarfetch/internal/catalog"
	"github.com/lidarfetch/lidarfetch/internal/core/config"
	"github.com/lidarfetch/lidarfetch/internal/core/httpclient"
	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/download"
	"github.com/lidarfetch/lidarfetch/internal/geo"
	"github.com/lidarfetch/lidarfetch/internal/merge"
	"github.com/lidarfetch/lidarfetch/internal/progress"
	"github.com/lidarfetch/lidarfetch/internal/selector"
)

// Request describes one acquisition run.
type Request struct {
	AOIGeoJSON    []byte
	AOICRS        string // defaults to the catalog CRS
	OutputDir     string
	Dataset       string // overrides the configured dataset when set
	Strategy      model.Strategy
	MaxConcurrent int // 0 uses the configured default
	Force         bool
	LoadResult    bool
	Progress      progress.Reporter
}

// Pipeline wires the stages together. Safe for concurrent Runs; each run gets
// its own engine and tracker.
type Pipeline struct {
	log   *slog.Logger
	cfg   config.Config
	cache catalog.ResponseCache
}

func New(log *slog.Logger, cfg config.Config) *Pipeline {
	return &Pipeline{log: log, cfg: cfg}
}

// WithResponseCache attaches a cache for WFS responses.
func (p *Pipeline) WithResponseCache(cache catalog.ResponseCache) *Pipeline {
	p.cache = cache
	return p
}

// Run executes the full pipeline. The error is non-nil only when the run
// aborted before producing anything; partial and empty outcomes are reported
// through the result status instead.
func (p *Pipeline) Run(ctx context.Context, req Request) (model.RunResult, error) {
	res := model.RunResult{OutputDir: req.OutputDir, Status: model.StatusAborted}

	if req.OutputDir == "" {
		return p.abort(res, errors.New("output directory is required"))
	}
	downloadsDir := filepath.Join(req.OutputDir, "downloads")
	databaseDir := filepath.Join(req.OutputDir, "database")
	for _, dir := range []string{req.OutputDir, downloadsDir, databaseDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return p.abort(res, fmt.Errorf("create %s: %w", dir, err))
		}
	}

	if err := download.CheckDiskSpace(req.OutputDir, p.cfg.MinDiskSpaceMB); err != nil {
		return p.abort(res, err)
	}

	srcCRS := req.AOICRS
	if srcCRS == "" {
		srcCRS = p.cfg.CatalogCRS
	}
	aoi, err := geo.PrepareAOI(req.AOIGeoJSON, srcCRS, p.cfg.CatalogCRS)
	if err != nil {
		return p.abort(res, err)
	}

	tracker := progress.New(req.Progress)
	engine := download.NewEngine(p.log, httpclient.NewDownload(), download.Options{
		Retry:           p.retryPolicy(),
		MinFileSize:     p.cfg.MinFileSize,
		EstimatedTileMB: p.cfg.EstimatedTileMB,
		DiskMarginMB:    p.cfg.DiskMarginMB,
		RateLimit:       p.cfg.RateLimit,
		Tracker:         tracker,
	})

	cat, err := p.source(engine, databaseDir, req.Dataset).Resolve(ctx, aoi)
	if err != nil {
		return p.abort(res, err)
	}

	sel := selector.New(p.log)
	tiles := sel.Apply(req.Strategy, sel.Select(cat, aoi), aoi)
	if len(tiles) == 0 {
		p.log.Info("no tiles intersect the area of interest")
		res.Status = model.StatusEmpty
		res.StatusText = res.Status.String()
		return res, nil
	}
	p.log.Info("tiles selected", "count", len(tiles), "strategy", req.Strategy.String())

	tasks := make([]model.DownloadTask, 0, len(tiles))
	for _, t := range tiles {
		tasks = append(tasks, model.DownloadTask{
			URL:     t.URL,
			DestDir: downloadsDir,
			Force:   req.Force,
		})
	}

	workers := req.MaxConcurrent
	if workers <= 0 {
		workers = p.cfg.MaxConcurrent
	}
	results := engine.DownloadAll(ctx, tasks, workers)

	var files []string
	for _, r := range results {
		if r.OK {
			files = append(files, r.Path)
		}
	}
	sort.Strings(files)

	res.Files = files
	res.FileList = strings.Join(files, ";")
	res.Status = runStatus(ctx, len(tasks), len(files))
	if res.Status == model.StatusEmpty {
		// total download failure is an empty outcome, not a run failure
		res.Warning = fmt.Sprintf("none of the %d selected tiles could be downloaded", len(tasks))
		p.log.Warn("no tiles downloaded", "attempted", len(tasks))
	}

	if len(files) > 0 {
		res.PrimaryFile = files[0]
		if req.Strategy == model.MergeAll && len(files) > 1 {
			merger := merge.NewCommandMerger(p.log, p.cfg.MergeCommand, p.cfg.MergeScheme)
			outcome, err := merger.Merge(ctx, files, downloadsDir)
			if err == nil {
				res.PrimaryFile = outcome.Path
				if outcome.Fallback {
					res.Warning = "merge failed; primary file is the first downloaded tile"
				}
			}
		}
	}

	if req.LoadResult {
		p.log.Info("result ready for loading", "path", res.PrimaryFile)
	}
	res.StatusText = res.Status.String()
	return res, nil
}

func (p *Pipeline) abort(res model.RunResult, err error) (model.RunResult, error) {
	p.log.Error("run aborted", "err", err)
	res.Status = model.StatusAborted
	res.StatusText = res.Status.String()
	res.Warning = err.Error()
	return res, err
}

func (p *Pipeline) retryPolicy() download.RetryPolicy {
	policy := download.DefaultRetryPolicy()
	if p.cfg.RetryMax > 0 {
		policy.MaxAttempts = p.cfg.RetryMax + 1
	}
	if p.cfg.RetryBackoff > 0 {
		policy.Backoff = p.cfg.RetryBackoff
	}
	return policy
}

// source picks the catalog source for this run. The local source reuses the
// run's engine so archive downloads share retry and validation behavior.
func (p *Pipeline) source(engine *download.Engine, databaseDir, dataset string) catalog.Source {
	if strings.EqualFold(p.cfg.Mode, "local") {
		return catalog.NewLocalSource(p.log, engine, p.cfg.MirrorURLs,
			databaseDir, p.cfg.IndexRelPath, p.cfg.CatalogCRS, p.cfg.H3Res, nil)
	}
	cfg := p.cfg
	if dataset != "" {
		cfg.Dataset = dataset
	}
	src := catalog.NewWFSSource(p.log, httpclient.NewOutbound(p.cfg.HTTPTimeout),
		p.cfg.WFSEndpoint, cfg.TypeName(), p.cfg.CatalogCRS)
	if p.cache != nil {
		src.WithCache(p.cache, p.cfg.CacheTTL)
	}
	return src
}

// runStatus classifies the batch outcome. Cancellation wins over partial
// failure; zero successes out of a non-empty batch is an empty outcome,
// surfaced through the warning rather than an error.
func runStatus(ctx context.Context, attempted, succeeded int) model.RunStatus {
	switch {
	case ctx.Err() != nil:
		return model.StatusCancelled
	case succeeded == 0:
		return model.StatusEmpty
	case succeeded < attempted:
		return model.StatusPartial
	default:
		return model.StatusOK
	}
}
