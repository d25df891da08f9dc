package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/geo"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAOI() geo.AOI {
	return geo.AOI{
		CRS:  "EPSG:2154",
		BBox: model.BBox{XMin: 699000, YMin: 6599000, XMax: 701000, YMax: 6601000, SRID: "EPSG:2154"},
	}
}

const wfsBody = `{
	"type": "FeatureCollection",
	"features": [
		{"id": "t1",
		 "geometry": {"type":"Polygon","coordinates":[[[699000,6599000],[701000,6599000],[701000,6601000],[699000,6601000],[699000,6599000]]]},
		 "properties": {"name": "dalle-1", "url": "https://tiles.test/d1.copc.laz"}},
		{"id": "t2", "geometry": null,
		 "properties": {"name": "dalle-2", "url": "https://tiles.test/d2.copc.laz"}},
		{"id": "no-url", "geometry": null, "properties": {"name": "dalle-3"}},
		{"id": "no-name", "geometry": null, "properties": {"url": "https://tiles.test/d4.copc.laz"}}
	]
}`

func TestWFSSource_Resolve(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		_, _ = io.WriteString(w, wfsBody)
	}))
	defer srv.Close()

	src := NewWFSSource(discard(), srv.Client(), srv.URL, "IGNF_LIDAR-HD_TA:nuage-dalle", "EPSG:2154")
	cat, err := src.Resolve(context.Background(), testAOI())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(cat.Records) != 2 {
		t.Fatalf("records=%d want 2 (features without url or name are dropped)", len(cat.Records))
	}
	if cat.Records[0].Name != "dalle-1" || cat.Records[1].Name != "dalle-2" {
		t.Fatalf("unexpected records %q %q", cat.Records[0].Name, cat.Records[1].Name)
	}
	if cat.Index != nil {
		t.Fatal("wfs mode must not build a spatial index")
	}
	if cat.Records[0].BBox.IsZero() {
		t.Fatal("footprint bbox should be computed")
	}
	if cat.Records[0].BBoxWGS84.IsZero() {
		t.Fatal("wgs84 bbox should be computed")
	}

	q, _ := gotQuery.Load().(string)
	for _, want := range []string{"REQUEST=GetFeature", "TYPENAME=IGNF_LIDAR-HD_TA", "BBOX=699000"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %q", q, want)
		}
	}
}

func TestWFSSource_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<ows:ExceptionReport/>")
		}},
		{"missing features member", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"type":"FeatureCollection"}`)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			src := NewWFSSource(discard(), srv.Client(), srv.URL, "layer", "EPSG:2154")
			if _, err := src.Resolve(context.Background(), testAOI()); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("err=%v want ErrUnavailable", err)
			}
		})
	}
}

func TestWFSSource_Unreachable(t *testing.T) {
	src := NewWFSSource(discard(), &http.Client{Timeout: 100 * time.Millisecond},
		"http://127.0.0.1:1", "layer", "EPSG:2154")
	if _, err := src.Resolve(context.Background(), testAOI()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
}

type memCache struct {
	data map[string][]byte
	sets int
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) {
	m.sets++
	m.data[key] = val
}

func TestWFSSource_ResponseCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, wfsBody)
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	src := NewWFSSource(discard(), srv.Client(), srv.URL, "layer", "EPSG:2154").
		WithCache(cache, time.Minute)

	for range 3 {
		cat, err := src.Resolve(context.Background(), testAOI())
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(cat.Records) != 2 {
			t.Fatalf("records=%d want 2", len(cat.Records))
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls=%d want 1 (later resolves served from cache)", got)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets=%d want 1", cache.sets)
	}
}

func TestResponseKey(t *testing.T) {
	a := responseKey("IGNF_LIDAR-HD_TA:nuage-dalle", "BBOX=1")
	b := responseKey("IGNF_LIDAR-HD_TA:nuage-dalle", "BBOX=2")
	if a == b {
		t.Fatal("different queries must map to different keys")
	}
	if strings.Contains(a, ":nuage") {
		t.Fatalf("layer colon must be normalized: %q", a)
	}
	if a != responseKey("IGNF_LIDAR-HD_TA:nuage-dalle", "BBOX=1") {
		t.Fatal("key must be stable")
	}
}
