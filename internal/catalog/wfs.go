package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lidarfetch/lidarfetch/internal/core/observability"
	"github.com/lidarfetch/lidarfetch/internal/core/ogc"
	"github.com/lidarfetch/lidarfetch/internal/geo"
)

// ResponseCache stores raw GetFeature response bodies. A nil cache disables
// caching; cache failures degrade to a live query, never to a run failure.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// WFSSource queries a WFS endpoint for the features whose bbox overlaps the
// area of interest. The server-side bbox filter is a coarse pass; exact
// intersection happens downstream.
type WFSSource struct {
	log        *slog.Logger
	client     *http.Client
	endpoint   string
	typeName   string
	catalogCRS string
	cache      ResponseCache
	ttl        time.Duration
}

func NewWFSSource(log *slog.Logger, client *http.Client, endpoint, typeName, catalogCRS string) *WFSSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &WFSSource{
		log:        log,
		client:     client,
		endpoint:   endpoint,
		typeName:   typeName,
		catalogCRS: catalogCRS,
	}
}

// WithCache attaches a response cache with the given TTL.
func (s *WFSSource) WithCache(cache ResponseCache, ttl time.Duration) *WFSSource {
	s.cache = cache
	s.ttl = ttl
	return s
}

func (s *WFSSource) Resolve(ctx context.Context, aoi geo.AOI) (*Catalog, error) {
	start := time.Now()
	defer func() { observability.ObserveCatalogQuery("wfs", time.Since(start).Seconds()) }()

	params := ogc.BuildGetFeatureParams(s.typeName, aoi.BBox)
	key := responseKey(s.typeName, params.Encode())

	body, cached := s.cachedBody(ctx, key)
	if !cached {
		var err error
		body, err = s.getFeature(ctx, ogc.GetFeatureURL(s.endpoint, params))
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(ctx, key, body, s.ttl)
		}
	}

	fc, err := ogc.ParseFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed GetFeature response: %v", ErrUnavailable, err)
	}

	records := featuresToRecords(fc, s.catalogCRS, s.log)
	s.log.Info("catalog query complete",
		"mode", "wfs", "layer", s.typeName,
		"features", len(fc), "accepted", len(records), "cached", cached)
	return &Catalog{Records: records}, nil
}

func (s *WFSSource) cachedBody(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, ok := s.cache.Get(ctx, key)
	if !ok {
		observability.IncCacheMiss()
		return nil, false
	}
	observability.IncCacheHit()
	return body, true
}

func (s *WFSSource) getFeature(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GetFeature returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return body, nil
}

// responseKey builds a stable cache key from the layer and the full encoded
// query, so any change to the request invalidates naturally.
func responseKey(typeName, encodedQuery string) string {
	layer := strings.ReplaceAll(typeName, ":", "_")
	return fmt.Sprintf("wfs:%s:f=%016x", layer, xxhash.Sum64String(encodedQuery))
}
