// Package catalog produces the set of tile records relevant to one
// processing run, either from a live WFS query or from a packaged local
// index with a spatial index built over it.
package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/core/ogc"
	"github.com/lidarfetch/lidarfetch/internal/geo"
	"github.com/lidarfetch/lidarfetch/internal/index"
)

// ErrUnavailable is fatal: without a catalog no tile-level work is possible
// and the run aborts with zero tiles.
var ErrUnavailable = errors.New("catalog unavailable")

// Source supplies tile records for one run.
type Source interface {
	Resolve(ctx context.Context, aoi geo.AOI) (*Catalog, error)
}

// Catalog is the loaded record set, optionally with a spatial index over the
// footprints (local-index mode). Read-only after construction.
type Catalog struct {
	Records []model.TileRecord
	Index   *index.Index // nil when the server already narrowed the set
}

// featuresToRecords converts accepted features into tile records. Features
// missing a url or name property are silently dropped, not treated as a
// pipeline failure. Geometry problems leave the bboxes zero so downstream
// intersection logic can fail open.
func featuresToRecords(features []ogc.Feature, catalogCRS string, log *slog.Logger) []model.TileRecord {
	toWGS, _ := geo.PointTransform(catalogCRS, geo.CRSWGS84)

	records := make([]model.TileRecord, 0, len(features))
	for _, f := range features {
		url, ok := f.StringProp("url")
		if !ok {
			continue
		}
		name, ok := f.StringProp("name")
		if !ok {
			continue
		}

		rec := model.TileRecord{
			ID:         f.ID,
			Name:       name,
			URL:        url,
			Properties: f.Properties,
		}
		if rec.ID == "" {
			rec.ID = name
		}

		if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
			rec.FootprintJSON = f.Geometry
			bb, err := geo.BBoxOfGeoJSON(f.Geometry, nil, catalogCRS)
			if err != nil {
				log.Warn("unreadable footprint geometry, keeping tile without bbox", "tile", name, "err", err)
			} else {
				rec.BBox = bb
				if toWGS != nil {
					bb84, err := geo.BBoxOfGeoJSON(f.Geometry, toWGS, geo.CRSWGS84)
					if err == nil {
						rec.BBoxWGS84 = bb84
					}
				}
			}
		}
		records = append(records, rec)
	}
	return records
}
