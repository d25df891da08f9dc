package catalog

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/core/observability"
	"github.com/lidarfetch/lidarfetch/internal/core/ogc"
	"github.com/lidarfetch/lidarfetch/internal/geo"
	"github.com/lidarfetch/lidarfetch/internal/index"
)

// Fetcher downloads one file to disk. Satisfied by the download engine, so
// archive retrieval gets the same retry, validation, and atomic-publish
// behavior as tile downloads.
type Fetcher interface {
	Fetch(ctx context.Context, task model.DownloadTask) model.DownloadResult
}

// archiveName is the on-disk name for the packaged index, regardless of which
// mirror served it.
const archiveName = "catalog_index.zip"

// LocalSource loads the tile catalog from a packaged archive fetched from an
// ordered list of mirrors, extracts it next to the run's output, and builds a
// cell index over the footprints. Parsed catalogs are cached process-wide and
// invalidated by content checksum.
type LocalSource struct {
	log        *slog.Logger
	fetcher    Fetcher
	mirrors    []string
	dbDir      string
	indexRel   string
	catalogCRS string
	h3Res      int
	cache      *LoadedCache
}

func NewLocalSource(log *slog.Logger, fetcher Fetcher, mirrors []string, dbDir, indexRel, catalogCRS string, h3Res int, cache *LoadedCache) *LocalSource {
	if cache == nil {
		cache = sharedCache
	}
	return &LocalSource{
		log:        log,
		fetcher:    fetcher,
		mirrors:    mirrors,
		dbDir:      dbDir,
		indexRel:   indexRel,
		catalogCRS: catalogCRS,
		h3Res:      h3Res,
		cache:      cache,
	}
}

func (s *LocalSource) Resolve(ctx context.Context, _ geo.AOI) (*Catalog, error) {
	start := time.Now()
	defer func() { observability.ObserveCatalogQuery("local", time.Since(start).Seconds()) }()

	indexPath, err := s.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	sum, err := checksumFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: checksum index: %v", ErrUnavailable, err)
	}
	if cat, ok := s.cache.get(indexPath, sum); ok {
		observability.IncCacheHit()
		s.log.Debug("reusing cached catalog", "path", indexPath, "tiles", len(cat.Records))
		return cat, nil
	}
	observability.IncCacheMiss()

	cat, err := s.load(indexPath)
	if err != nil {
		return nil, err
	}
	s.cache.put(indexPath, sum, cat)
	s.log.Info("catalog loaded",
		"mode", "local", "path", indexPath,
		"tiles", len(cat.Records), "indexed_cells", cat.Index.Size())
	return cat, nil
}

// ensureIndex makes the index file available on disk, downloading and
// extracting the archive only when no valid index is present. A corrupt index
// is discarded and refreshed rather than poisoning every later run. Mirrors
// are tried in order; the first success wins.
func (s *LocalSource) ensureIndex(ctx context.Context) (string, error) {
	indexPath := filepath.Join(s.dbDir, s.indexRel)
	if _, err := os.Stat(indexPath); err == nil {
		verr := validateIndex(indexPath)
		if verr == nil {
			return indexPath, nil
		}
		s.log.Warn("existing index failed validation, refreshing from mirrors",
			"path", indexPath, "err", verr)
		_ = os.Remove(indexPath)
	}

	if err := os.MkdirAll(s.dbDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create database dir: %v", ErrUnavailable, err)
	}

	var archivePath string
	for _, mirror := range s.mirrors {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		res := s.fetcher.Fetch(ctx, model.DownloadTask{
			URL:     mirror,
			Name:    archiveName,
			DestDir: s.dbDir,
		})
		if res.OK {
			archivePath = res.Path
			break
		}
		s.log.Warn("mirror failed, trying next", "mirror", mirror)
	}
	if archivePath == "" {
		return "", fmt.Errorf("%w: all %d mirrors failed", ErrUnavailable, len(s.mirrors))
	}

	if err := extractZip(archivePath, s.dbDir); err != nil {
		// a bad extraction must not poison the next run
		_ = os.Remove(archivePath)
		return "", fmt.Errorf("%w: extract archive: %v", ErrUnavailable, err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		return "", fmt.Errorf("%w: archive did not contain %s", ErrUnavailable, s.indexRel)
	}
	return indexPath, nil
}

// validateIndex checks that an index file on disk is a parseable feature
// collection before a run trusts it.
func validateIndex(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := ogc.ParseFeatureCollection(body); err != nil {
		return err
	}
	return nil
}

func (s *LocalSource) load(indexPath string) (*Catalog, error) {
	body, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrUnavailable, err)
	}
	fc, err := ogc.ParseFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed index: %v", ErrUnavailable, err)
	}
	records := featuresToRecords(fc, s.catalogCRS, s.log)

	idx, err := index.Build(records, s.h3Res)
	if err != nil {
		return nil, fmt.Errorf("build spatial index: %w", err)
	}
	return &Catalog{Records: records, Index: idx}, nil
}

// extractZip unpacks an archive under destDir, rejecting absolute paths and
// parent-directory traversal in entry names.
func extractZip(zipPath, destDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	name := filepath.FromSlash(f.Name)
	if filepath.IsAbs(name) || strings.Contains(name, "..") {
		return fmt.Errorf("unsafe archive entry %q", f.Name)
	}
	target := filepath.Join(destDir, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %q: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %q: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %q: %w", f.Name, err)
	}
	return dst.Close()
}

func checksumFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// LoadedCache keeps parsed catalogs in memory keyed by index path, with the
// content checksum deciding reuse. The LRU bound keeps multi-dataset servers
// from holding every catalog forever.
type LoadedCache struct {
	lru *lru.Cache[string, cachedCatalog]
}

type cachedCatalog struct {
	sum uint64
	cat *Catalog
}

func NewLoadedCache(size int) *LoadedCache {
	if size <= 0 {
		size = 4
	}
	c, _ := lru.New[string, cachedCatalog](size)
	return &LoadedCache{lru: c}
}

func (c *LoadedCache) get(path string, sum uint64) (*Catalog, bool) {
	entry, ok := c.lru.Get(path)
	if !ok || entry.sum != sum {
		return nil, false
	}
	return entry.cat, true
}

func (c *LoadedCache) put(path string, sum uint64, cat *Catalog) {
	c.lru.Add(path, cachedCatalog{sum: sum, cat: cat})
}

// sharedCache backs every LocalSource that is not handed its own cache, so
// repeated runs in one process parse the index once.
var sharedCache = NewLoadedCache(4)
